package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// CodexOptions configures a CodexReader.
//
// codex_comm.py itself was filtered out of the retrieval pack (only its
// call sites survived, in caskd_daemon.py), so this reader is grounded
// on that usage contract rather than a direct port: caskd_daemon.py
// constructs a CodexLogReader with (log_path, session_id_filter,
// work_dir), calls capture_state() once, then wait_for_event(state,
// timeout) in a loop expecting ("user"|"assistant", text) tuples, and
// on reader.current_log_path() for rebinding a session's recorded log
// after a reply completes. The JSONL-tailing mechanics (byte offset +
// carry buffer, a bounded mtime scan for session discovery) are
// reused from droid.go, since Codex's CLI rollout log is JSONL exactly
// like Droid's and caskd_daemon.py's escape-hatch rebind ("drop
// session_id_filter, rescan from a tail offset") only makes sense for a
// byte-appended log, not an in-place-rewritten one like Gemini's.
type CodexOptions struct {
	Root            string
	WorkDir         string
	LogPath         string // preferred log path hint (session.codex_session_path)
	SessionIDFilter string
	PollInterval    time.Duration
	ScanLimit       int

	// RebindGrace is how long a bound SessionIDFilter is given to produce
	// an event before the escape hatch drops it (caskd_daemon.py's
	// anchor_grace_deadline, a fixed 1.5s, not env-configurable).
	RebindGrace time.Duration

	// RebindTailBytes is how far from EOF the escape hatch seeks when it
	// rebinds to the latest session file, so a reply that already landed
	// before the rebind isn't missed. CCB_CASKD_REBIND_TAIL_BYTES
	// (spec §6) overrides the default.
	RebindTailBytes int64
}

const defaultRebindTailBytes = 2 * 1024 * 1024

func (o CodexOptions) withDefaults() CodexOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Millisecond
	}
	if o.ScanLimit <= 0 {
		o.ScanLimit = 200
	}
	if o.RebindGrace <= 0 {
		o.RebindGrace = 1500 * time.Millisecond
	}
	if o.RebindTailBytes <= 0 {
		o.RebindTailBytes = defaultRebindTailBytes
	}
	return o
}

// CodexReader reads a Codex CLI rollout JSONL transcript.
type CodexReader struct {
	opts            DroidOptions // reuses the exact scan/offset mechanics as Droid
	rebindGrace     time.Duration
	rebindTailBytes int64

	mu               sync.Mutex
	preferredSession string
	sessionIDFilter  string
}

func NewCodexReader(opts CodexOptions) *CodexReader {
	opts = opts.withDefaults()
	r := &CodexReader{
		opts: DroidOptions{
			Root:         opts.Root,
			WorkDir:      opts.WorkDir,
			PollInterval: opts.PollInterval,
			ScanLimit:    opts.ScanLimit,
		}.withDefaults(),
		rebindGrace:     opts.RebindGrace,
		rebindTailBytes: opts.RebindTailBytes,
		sessionIDFilter: opts.SessionIDFilter,
	}
	if opts.LogPath != "" {
		if _, err := os.Stat(opts.LogPath); err == nil {
			r.preferredSession = opts.LogPath
		}
	}
	return r
}

func (r *CodexReader) SetPreferredSession(path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	r.mu.Lock()
	r.preferredSession = path
	r.mu.Unlock()
}

func (r *CodexReader) SetSessionIDHint(sessionID string) {
	r.mu.Lock()
	r.sessionIDFilter = strings.TrimSpace(sessionID)
	r.mu.Unlock()
}

func (r *CodexReader) CurrentSessionPath() string {
	return r.latestSession()
}

// CurrentLogPath is an alias kept for readability at Codex call sites
// (the caller thinks of this as "the log", not "the session").
func (r *CodexReader) CurrentLogPath() string { return r.CurrentSessionPath() }

func (r *CodexReader) findSessionByFilter() string {
	r.mu.Lock()
	filter := r.sessionIDFilter
	r.mu.Unlock()
	if filter == "" || r.opts.Root == "" {
		return ""
	}
	var best string
	var bestMtime time.Time
	_ = filepath.WalkDir(r.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}
		_, sid := readSessionStart(path, 5)
		if sid != filter {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if best == "" || info.ModTime().After(bestMtime) {
			best, bestMtime = path, info.ModTime()
		}
		return nil
	})
	return best
}

func (r *CodexReader) scanLatestSession() string {
	if r.opts.Root == "" {
		return ""
	}
	candidates := walkJSONL(r.opts.Root, r.opts.ScanLimit)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].mtime.After(candidates[j].mtime) })
	workDir := r.opts.WorkDir
	for _, c := range candidates {
		cwd, _ := readSessionStart(c.path, 5)
		if cwd == "" {
			// Codex rollouts don't necessarily tag cwd on the first line
			// the way Droid's session_start entry does; fall back to
			// "most recent" when no cwd tag is found.
			return c.path
		}
		if pathIsSameOrParent(workDir, cwd) || pathIsSameOrParent(cwd, workDir) {
			return c.path
		}
	}
	if len(candidates) > 0 {
		return candidates[0].path
	}
	return ""
}

func (r *CodexReader) latestSession() string {
	r.mu.Lock()
	preferred := r.preferredSession
	r.mu.Unlock()

	if preferred != "" {
		if _, err := os.Stat(preferred); err == nil {
			return preferred
		}
	}

	if byFilter := r.findSessionByFilter(); byFilter != "" {
		r.mu.Lock()
		r.preferredSession = byFilter
		r.mu.Unlock()
		return byFilter
	}

	if scanned := r.scanLatestSession(); scanned != "" {
		r.mu.Lock()
		r.preferredSession = scanned
		r.mu.Unlock()
		return scanned
	}
	return ""
}

// codexState is the CodexReader's opaque Reader/event state: the same
// byte-offset + carry shape as droidState, plus the bookkeeping the
// escape hatch needs to fire exactly once per bind.
type codexState struct {
	sessionPath string
	offset      int64
	carry       []byte
	boundAt     time.Time
	rebounded   bool
}

func (r *CodexReader) CaptureState() any {
	session := r.latestSession()
	var offset int64
	if session != "" {
		if info, err := os.Stat(session); err == nil {
			offset = info.Size()
		}
	}
	return codexState{sessionPath: session, offset: offset, boundAt: time.Now()}
}

func asCodexState(state any) codexState {
	if s, ok := state.(codexState); ok {
		return s
	}
	return codexState{}
}

// Event is one (role, text) transcript entry, matching caskd_daemon.py's
// wait_for_event contract.
type Event struct {
	Role string
	Text string
}

// WaitForEvent blocks up to timeout for the next transcript entry
// (user or assistant), returning ok=false on timeout.
//
// If a SessionIDFilter is bound and produces no event within
// RebindGrace, the filter is presumed stale (the usual cause:
// caskd_daemon.py rebinding to a log from an earlier Codex run that
// never receives this turn's reply) — the escape hatch drops it,
// rebinds to whatever session file was most recently written for this
// work_dir, and resumes from a tail offset rather than EOF so a reply
// that already landed before the rebind isn't lost. Grounded on
// caskd_daemon.py's handle_task: "if we can't observe our user anchor
// within a short grace window, the log binding is likely stale".
func (r *CodexReader) WaitForEvent(state any, timeout time.Duration) (Event, any, bool) {
	s := asCodexState(state)
	if s.boundAt.IsZero() {
		s.boundAt = time.Now()
	}
	deadline := time.Now().Add(timeout)
	for {
		session := r.latestSession()
		if session == "" {
			if time.Now().After(deadline) {
				return Event{}, s, false
			}
			time.Sleep(r.opts.PollInterval)
			continue
		}
		if s.sessionPath != session {
			s = codexState{sessionPath: session, boundAt: time.Now()}
		}

		events, newState := r.readNewEvents(session, s)
		s = newState
		if len(events) > 0 {
			return events[0], s, true
		}

		if !s.rebounded && r.hasSessionIDFilter() && time.Since(s.boundAt) >= r.rebindGrace {
			if rebound, ok := r.escapeHatchRebind(); ok {
				rebound.rebounded = true
				rebound.boundAt = time.Now()
				s = rebound
				continue
			}
		}

		if time.Now().After(deadline) {
			return Event{}, s, false
		}
		time.Sleep(r.opts.PollInterval)
	}
}

func (r *CodexReader) hasSessionIDFilter() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionIDFilter != ""
}

// escapeHatchRebind drops the bound SessionIDFilter (and whatever
// preferred session path went with it) and rebinds to the most
// recently written session file under Root for this work_dir, seeking
// to max(0, size-RebindTailBytes) instead of offset 0 or EOF.
func (r *CodexReader) escapeHatchRebind() (codexState, bool) {
	r.mu.Lock()
	r.sessionIDFilter = ""
	r.preferredSession = ""
	r.mu.Unlock()

	session := r.scanLatestSession()
	if session == "" {
		return codexState{}, false
	}
	r.mu.Lock()
	r.preferredSession = session
	r.mu.Unlock()

	var offset int64
	if info, err := os.Stat(session); err == nil {
		offset = info.Size() - r.rebindTailBytes
		if offset < 0 {
			offset = 0
		}
	}
	return codexState{sessionPath: session, offset: offset}, true
}

func (r *CodexReader) readNewEvents(session string, state codexState) ([]Event, codexState) {
	offset := state.offset
	info, err := os.Stat(session)
	if err != nil {
		return nil, state
	}
	if info.Size() < offset {
		offset = 0
		state.carry = nil
	}
	f, err := os.Open(session)
	if err != nil {
		return nil, state
	}
	defer f.Close()
	if _, err := f.Seek(offset, 0); err != nil {
		return nil, state
	}
	data, err := readAll(f)
	if err != nil {
		return nil, state
	}

	newOffset := offset + int64(len(data))
	buf := append(append([]byte{}, state.carry...), data...)
	lines := bytes.Split(buf, []byte("\n"))
	var carry []byte
	if len(buf) > 0 && buf[len(buf)-1] != '\n' {
		carry = lines[len(lines)-1]
		lines = lines[:len(lines)-1]
	}

	var events []Event
	for _, raw := range lines {
		line := strings.TrimSpace(string(raw))
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if msg := extractMessage(entry, "user"); msg != "" {
			events = append(events, Event{Role: "user", Text: msg})
			continue
		}
		if msg := extractMessage(entry, "assistant"); msg != "" {
			events = append(events, Event{Role: "assistant", Text: msg})
		}
	}
	return events, codexState{sessionPath: session, offset: newOffset, carry: carry, boundAt: state.boundAt, rebounded: state.rebounded}
}

func (r *CodexReader) WaitForMessage(state any, timeout time.Duration) (string, any) {
	s := asCodexState(state)
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", s
		}
		event, newState, ok := r.WaitForEvent(s, remaining)
		s = newState.(codexState)
		if !ok {
			return "", s
		}
		if event.Role == "assistant" {
			return event.Text, s
		}
	}
}

func (r *CodexReader) TryGetMessage(state any) (string, any) {
	return r.WaitForMessage(state, 0)
}

func (r *CodexReader) LatestMessage() string {
	session := r.latestSession()
	if session == "" {
		return ""
	}
	f, err := os.Open(session)
	if err != nil {
		return ""
	}
	defer f.Close()

	var last string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if msg := extractMessage(entry, "assistant"); msg != "" {
			last = msg
		}
	}
	return last
}

func (r *CodexReader) LatestConversations(n int) []Conversation {
	session := r.latestSession()
	if session == "" {
		return nil
	}
	f, err := os.Open(session)
	if err != nil {
		return nil
	}
	defer f.Close()

	var pairs []Conversation
	var lastUser string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if userMsg := extractMessage(entry, "user"); userMsg != "" {
			lastUser = userMsg
			continue
		}
		if assistantMsg := extractMessage(entry, "assistant"); assistantMsg != "" {
			pairs = append(pairs, Conversation{Question: lastUser, Reply: assistantMsg})
			lastUser = ""
		}
	}
	if n <= 0 {
		n = 1
	}
	if len(pairs) > n {
		pairs = pairs[len(pairs)-n:]
	}
	return pairs
}

// ExtractSessionID scans a Codex rollout's early lines for its session
// id, grounded on caskd_daemon.py's
// CodexCommunicator._extract_session_id(log_path) call site — the exact
// field name Codex uses isn't in the retrieval pack, so this checks the
// same "session_start"-shaped entry Droid emits plus a couple of likely
// top-level keys, any one of which satisfies the contract caskd_daemon.py
// depends on (a session id string to pass back into SetSessionIDHint
// after a reply completes).
func ExtractSessionID(logPath string) (string, bool) {
	f, err := os.Open(logPath)
	if err != nil {
		return "", false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for i := 0; i < 5 && scanner.Scan(); i++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		for _, key := range []string{"id", "session_id", "sessionId"} {
			if sid, ok := entry[key].(string); ok && sid != "" {
				return sid, true
			}
		}
	}
	return "", false
}

var _ Reader = (*CodexReader)(nil)
