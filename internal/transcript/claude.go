package transcript

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ClaudeOptions configures a ClaudeReader.
type ClaudeOptions struct {
	Root         string // ~/.claude/projects
	WorkDir      string
	PollInterval time.Duration
}

func (o ClaudeOptions) withDefaults() ClaudeOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Millisecond
	}
	return o
}

// claudeEntry mirrors the JSONL shape used in
// _examples/original_source/test/test_claude_log_reader_subagents.py:
// {"type": role, "timestamp": ..., "message": {"role": role, "content": [...]}}.
type claudeEntry struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Message   struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"message"`
}

// ClaudeReader reads a Claude Code session transcript (used by the
// autoloop supervisor and caller-side tooling, not by any provider
// daemon — Claude is the caller, never a delegate). Grounded on
// test_claude_log_reader_subagents.py's ClaudeLogReader contract: a
// project directory named after the work dir (claudeProjectDirName) holding
// <session>.jsonl files, each with a same-named "<session>/subagents/"
// directory of side-transcripts that can carry a newer reply than the
// main session log (a subagent answering a Task tool call).
type ClaudeReader struct {
	opts ClaudeOptions

	mu               sync.Mutex
	preferredSession string
}

func NewClaudeReader(opts ClaudeOptions) *ClaudeReader {
	return &ClaudeReader{opts: opts.withDefaults()}
}

// claudeProjectDirName mirrors Claude Code's own project directory
// naming: the absolute work dir with path separators and underscores
// replaced by "-", prefixed with "-" (so /home/user/my_repo becomes
// -home-user-my-repo).
func claudeProjectDirName(workDir string) string {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		abs = workDir
	}
	abs = filepath.ToSlash(abs)
	abs = strings.TrimPrefix(abs, "/")
	replacer := strings.NewReplacer("/", "-", "_", "-")
	return "-" + replacer.Replace(abs)
}

func (r *ClaudeReader) projectDir() string {
	return filepath.Join(r.opts.Root, claudeProjectDirName(r.opts.WorkDir))
}

func (r *ClaudeReader) SetPreferredSession(path string) {
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

// candidateLogs returns every *.jsonl transcript relevant to the
// current project: the top-level session logs plus each one's
// "<session>/subagents/*.jsonl" side logs.
func (r *ClaudeReader) candidateLogs() []string {
	dir := r.projectDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		sessionPath := filepath.Join(dir, e.Name())
		out = append(out, sessionPath)

		subagentsDir := filepath.Join(dir, strings.TrimSuffix(e.Name(), ".jsonl"), "subagents")
		subEntries, err := os.ReadDir(subagentsDir)
		if err != nil {
			continue
		}
		for _, se := range subEntries {
			if se.IsDir() || !strings.HasSuffix(se.Name(), ".jsonl") {
				continue
			}
			out = append(out, filepath.Join(subagentsDir, se.Name()))
		}
	}
	return out
}

func (r *ClaudeReader) latestLog() string {
	r.mu.Lock()
	preferred := r.preferredSession
	r.mu.Unlock()
	if preferred != "" {
		if _, err := os.Stat(preferred); err == nil {
			return preferred
		}
	}

	var best string
	var bestMtime time.Time
	for _, path := range r.candidateLogs() {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMtime) {
			best, bestMtime = path, info.ModTime()
		}
	}
	return best
}

func (r *ClaudeReader) CurrentSessionPath() string {
	return r.latestLog()
}

func readClaudeEntries(path string) []claudeEntry {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var entries []claudeEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e claudeEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

func claudeRoleText(e claudeEntry, role string) string {
	msgRole := e.Message.Role
	if msgRole == "" {
		msgRole = e.Type
	}
	if strings.ToLower(strings.TrimSpace(msgRole)) != role {
		return ""
	}
	return extractContentText(e.Message.Content)
}

// claudeState tracks, per log path, how many lines of it have already
// been consumed — the same JSONL-tailing shape as Droid and Codex, but
// fanned out across every candidate log since the newest reply can land
// in a subagent side-log instead of the main session file.
type claudeState struct {
	consumed map[string]int
}

func (r *ClaudeReader) CaptureState() any {
	state := claudeState{consumed: map[string]int{}}
	for _, path := range r.candidateLogs() {
		state.consumed[path] = len(readClaudeEntries(path))
	}
	return state
}

func asClaudeState(state any) claudeState {
	if s, ok := state.(claudeState); ok && s.consumed != nil {
		return s
	}
	return claudeState{consumed: map[string]int{}}
}

func (r *ClaudeReader) WaitForMessage(state any, timeout time.Duration) (string, any) {
	return r.readSince(asClaudeState(state), timeout, true)
}

func (r *ClaudeReader) TryGetMessage(state any) (string, any) {
	return r.readSince(asClaudeState(state), 0, false)
}

func (r *ClaudeReader) readSince(state claudeState, timeout time.Duration, block bool) (string, any) {
	deadline := time.Now().Add(timeout)
	for {
		var latestMsg string
		var latestMtime time.Time
		newConsumed := map[string]int{}

		for _, path := range r.candidateLogs() {
			entries := readClaudeEntries(path)
			newConsumed[path] = len(entries)
			prev := state.consumed[path]
			if prev > len(entries) {
				prev = 0
			}
			for _, e := range entries[prev:] {
				if msg := claudeRoleText(e, "assistant"); msg != "" {
					if info, err := os.Stat(path); err == nil && info.ModTime().After(latestMtime) {
						latestMtime = info.ModTime()
						latestMsg = msg
					} else if latestMsg == "" {
						latestMsg = msg
					}
				}
			}
		}

		newState := claudeState{consumed: newConsumed}
		if latestMsg != "" {
			return latestMsg, newState
		}
		state = newState
		if !block || time.Now().After(deadline) {
			return "", state
		}
		time.Sleep(r.opts.PollInterval)
	}
}

func (r *ClaudeReader) LatestMessage() string {
	var best string
	var bestMtime time.Time
	for _, path := range r.candidateLogs() {
		entries := readClaudeEntries(path)
		for i := len(entries) - 1; i >= 0; i-- {
			if msg := claudeRoleText(entries[i], "assistant"); msg != "" {
				if info, err := os.Stat(path); err == nil {
					if best == "" || info.ModTime().After(bestMtime) {
						best, bestMtime = msg, info.ModTime()
					}
				}
				break
			}
		}
	}
	return best
}

func (r *ClaudeReader) LatestConversations(n int) []Conversation {
	logs := r.candidateLogs()
	var pairs []Conversation
	for _, path := range logs {
		var lastUser string
		for _, e := range readClaudeEntries(path) {
			if userMsg := claudeRoleText(e, "user"); userMsg != "" {
				lastUser = userMsg
				continue
			}
			if assistantMsg := claudeRoleText(e, "assistant"); assistantMsg != "" {
				pairs = append(pairs, Conversation{Question: lastUser, Reply: assistantMsg})
				lastUser = ""
			}
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

var _ Reader = (*ClaudeReader)(nil)
