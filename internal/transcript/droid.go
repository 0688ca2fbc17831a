package transcript

import (
	"bufio"
	"bytes"
	"container/heap"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DroidOptions configures a DroidReader. Zero value uses the same
// defaults as droid_comm.py (0.05s poll, 200-entry scan limit).
type DroidOptions struct {
	Root                string
	WorkDir             string
	PollInterval        time.Duration
	ScanLimit           int
	AllowAnyProjectScan bool
}

func (o DroidOptions) withDefaults() DroidOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Millisecond
	}
	if o.ScanLimit <= 0 {
		o.ScanLimit = 200
	}
	return o
}

// DroidReader reads Droid session logs from ~/.factory/sessions/**/*.jsonl.
// Grounded on _examples/original_source/lib/droid_comm.py's DroidLogReader:
// byte-offset JSONL tailing with a carry buffer for a line split across
// reads, and session discovery via a bounded mtime scan that peeks each
// candidate's session_start entry for a matching cwd.
type DroidReader struct {
	opts DroidOptions

	mu               sync.Mutex
	preferredSession string
	sessionIDHint    string
}

func NewDroidReader(opts DroidOptions) *DroidReader {
	return &DroidReader{opts: opts.withDefaults()}
}

func (r *DroidReader) SetPreferredSession(path string) {
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

func (r *DroidReader) SetSessionIDHint(sessionID string) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return
	}
	r.mu.Lock()
	r.sessionIDHint = sessionID
	r.mu.Unlock()
}

func (r *DroidReader) CurrentSessionPath() string {
	return r.latestSession()
}

type mtimePath struct {
	mtime time.Time
	path  string
}

type mtimeHeap []mtimePath

func (h mtimeHeap) Len() int            { return len(h) }
func (h mtimeHeap) Less(i, j int) bool  { return h[i].mtime.Before(h[j].mtime) }
func (h mtimeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mtimeHeap) Push(x interface{}) { *h = append(*h, x.(mtimePath)) }
func (h *mtimeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func walkJSONL(root string, limit int) []mtimePath {
	var h mtimeHeap
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".jsonl") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		item := mtimePath{mtime: info.ModTime(), path: path}
		if limit <= 0 {
			h = append(h, item)
			return nil
		}
		if h.Len() < limit {
			heap.Push(&h, item)
		} else if item.mtime.After(h[0].mtime) {
			heap.Pop(&h)
			heap.Push(&h, item)
		}
		return nil
	})
	return []mtimePath(h)
}

// readSessionStart peeks the first few lines of a Droid JSONL transcript
// for its session_start entry, returning (cwd, sessionID).
func readSessionStart(path string, maxLines int) (string, string) {
	f, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for i := 0; i < maxLines && scanner.Scan(); i++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if s, _ := entry["type"].(string); s != "session_start" {
			continue
		}
		cwd, _ := entry["cwd"].(string)
		sid, _ := entry["id"].(string)
		return strings.TrimSpace(cwd), strings.TrimSpace(sid)
	}
	return "", ""
}

func (r *DroidReader) findSessionByID() string {
	r.mu.Lock()
	sessionID := r.sessionIDHint
	r.mu.Unlock()
	if sessionID == "" || r.opts.Root == "" {
		return ""
	}
	if _, err := os.Stat(r.opts.Root); err != nil {
		return ""
	}

	var best string
	var bestMtime time.Time
	_ = filepath.WalkDir(r.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if d.Name() != sessionID+".jsonl" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if best == "" || !info.ModTime().Before(bestMtime) {
			best = path
			bestMtime = info.ModTime()
		}
		return nil
	})
	return best
}

func (r *DroidReader) scanLatestSession() string {
	if r.opts.Root == "" {
		return ""
	}
	if _, err := os.Stat(r.opts.Root); err != nil {
		return ""
	}
	candidates := walkJSONL(r.opts.Root, r.opts.ScanLimit)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].mtime.After(candidates[j].mtime) })
	workDir := r.opts.WorkDir
	for _, c := range candidates {
		cwd, _ := readSessionStart(c.path, 30)
		if cwd == "" {
			continue
		}
		if pathIsSameOrParent(workDir, cwd) || pathIsSameOrParent(cwd, workDir) {
			return c.path
		}
	}
	return ""
}

func (r *DroidReader) scanLatestSessionAnyProject() string {
	if r.opts.Root == "" {
		return ""
	}
	candidates := walkJSONL(r.opts.Root, 0)
	var best string
	var bestMtime time.Time
	for _, c := range candidates {
		if best == "" || !c.mtime.Before(bestMtime) {
			best = c.path
			bestMtime = c.mtime
		}
	}
	return best
}

func (r *DroidReader) latestSession() string {
	r.mu.Lock()
	preferred := r.preferredSession
	r.mu.Unlock()

	scanned := r.scanLatestSession()

	if preferred != "" {
		if _, err := os.Stat(preferred); err == nil {
			if scanned != "" {
				if scannedInfo, err := os.Stat(scanned); err == nil {
					if prefInfo, err := os.Stat(preferred); err == nil && scannedInfo.ModTime().After(prefInfo.ModTime()) {
						r.mu.Lock()
						r.preferredSession = scanned
						r.mu.Unlock()
						return scanned
					}
				}
			}
			return preferred
		}
	}

	if byID := r.findSessionByID(); byID != "" {
		r.mu.Lock()
		r.preferredSession = byID
		r.mu.Unlock()
		return byID
	}

	if scanned != "" {
		r.mu.Lock()
		r.preferredSession = scanned
		r.mu.Unlock()
		return scanned
	}

	if r.opts.AllowAnyProjectScan {
		if any := r.scanLatestSessionAnyProject(); any != "" {
			r.mu.Lock()
			r.preferredSession = any
			r.mu.Unlock()
			return any
		}
	}
	return ""
}

// droidState is the DroidReader's opaque Reader state: a byte offset
// into the transcript plus a carry buffer for a trailing partial line.
type droidState struct {
	sessionPath string
	offset      int64
	carry       []byte
}

func (r *DroidReader) CaptureState() any {
	session := r.latestSession()
	var offset int64
	if session != "" {
		if info, err := os.Stat(session); err == nil {
			offset = info.Size()
		}
	}
	return droidState{sessionPath: session, offset: offset}
}

func (r *DroidReader) WaitForMessage(state any, timeout time.Duration) (string, any) {
	return r.readSince(asDroidState(state), timeout, true)
}

func (r *DroidReader) TryGetMessage(state any) (string, any) {
	return r.readSince(asDroidState(state), 0, false)
}

func asDroidState(state any) droidState {
	if s, ok := state.(droidState); ok {
		return s
	}
	return droidState{}
}

func (r *DroidReader) readSince(state droidState, timeout time.Duration, block bool) (string, any) {
	deadline := time.Now().Add(timeout)
	for {
		session := r.latestSession()
		if session == "" {
			if !block || time.Now().After(deadline) {
				return "", state
			}
			time.Sleep(r.opts.PollInterval)
			continue
		}
		if state.sessionPath != session {
			state = droidState{sessionPath: session}
		}

		msg, newState := r.readNewMessages(session, state)
		state = newState
		if msg != "" {
			return msg, state
		}
		if !block || time.Now().After(deadline) {
			return "", state
		}
		time.Sleep(r.opts.PollInterval)
	}
}

func (r *DroidReader) readNewMessages(session string, state droidState) (string, droidState) {
	offset := state.offset
	info, err := os.Stat(session)
	if err != nil {
		return "", state
	}
	if info.Size() < offset {
		offset = 0
		state.carry = nil
	}

	f, err := os.Open(session)
	if err != nil {
		return "", state
	}
	defer f.Close()
	if _, err := f.Seek(offset, 0); err != nil {
		return "", state
	}
	data, err := readAll(f)
	if err != nil {
		return "", state
	}

	newOffset := offset + int64(len(data))
	buf := append(append([]byte{}, state.carry...), data...)
	lines := bytes.Split(buf, []byte("\n"))
	var carry []byte
	if len(buf) > 0 && buf[len(buf)-1] != '\n' {
		carry = lines[len(lines)-1]
		lines = lines[:len(lines)-1]
	}

	var latest string
	for _, raw := range lines {
		line := strings.TrimSpace(string(raw))
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if msg := extractMessage(entry, "assistant"); msg != "" {
			latest = msg
		}
	}

	return latest, droidState{sessionPath: session, offset: newOffset, carry: carry}
}

func readAll(f *os.File) ([]byte, error) {
	var buf bytes.Buffer
	_, err := buf.ReadFrom(f)
	return buf.Bytes(), err
}

func (r *DroidReader) LatestMessage() string {
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

func (r *DroidReader) LatestConversations(n int) []Conversation {
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

// extractMessage pulls the text of a transcript entry's content if its
// role matches. Grounded on droid_comm.py's _extract_message/
// _extract_content_text: an entry may wrap the message under a nested
// "message" object (type == "message") or carry role/content at the top
// level; content may be a plain string or a list of typed blocks, where
// "thinking"/"thinking_delta" blocks are skipped.
func extractMessage(entry map[string]any, role string) string {
	entryType, _ := entry["type"].(string)
	entryType = strings.ToLower(strings.TrimSpace(entryType))

	if entryType == "message" {
		if msg, ok := entry["message"].(map[string]any); ok {
			msgRole, _ := msg["role"].(string)
			if strings.ToLower(strings.TrimSpace(msgRole)) == role {
				return extractContentText(msg["content"])
			}
		}
	}

	msgRole, _ := entry["role"].(string)
	if msgRole == "" {
		msgRole = entryType
	}
	if strings.ToLower(strings.TrimSpace(msgRole)) == role {
		if content, ok := entry["content"]; ok {
			return extractContentText(content)
		}
		return extractContentText(entry["message"])
	}
	return ""
}

func extractContentText(content any) string {
	if content == nil {
		return ""
	}
	if s, ok := content.(string); ok {
		return strings.TrimSpace(s)
	}
	items, ok := content.([]any)
	if !ok {
		return ""
	}
	var texts []string
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		itemType, _ := m["type"].(string)
		itemType = strings.ToLower(strings.TrimSpace(itemType))
		if itemType == "thinking" || itemType == "thinking_delta" {
			continue
		}
		text, _ := m["text"].(string)
		if text == "" && itemType == "text" {
			text, _ = m["content"].(string)
		}
		if strings.TrimSpace(text) != "" {
			texts = append(texts, strings.TrimSpace(text))
		}
	}
	if len(texts) == 0 {
		return ""
	}
	return strings.TrimSpace(strings.Join(texts, "\n"))
}

// pathIsSameOrParent reports whether child is equal to, or nested
// under, parent, comparing cleaned absolute-ish paths.
func pathIsSameOrParent(parent, child string) bool {
	p := normalizePathForMatch(parent)
	c := normalizePathForMatch(child)
	if p == "" || c == "" {
		return false
	}
	if p == c {
		return true
	}
	if !strings.HasPrefix(c, p) {
		return false
	}
	return strings.HasPrefix(c[len(p):], "/")
}

func normalizePathForMatch(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	abs, err := filepath.Abs(value)
	if err != nil {
		abs = value
	}
	abs = filepath.ToSlash(abs)
	return strings.TrimRight(abs, "/")
}

var _ Reader = (*DroidReader)(nil)
