package transcript

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// OpenCodeOptions configures an OpenCodeReader.
type OpenCodeOptions struct {
	Root              string
	WorkDir           string
	ProjectID         string // defaults to "global"
	PollInterval      time.Duration
	ForceReadInterval time.Duration
}

func (o OpenCodeOptions) withDefaults() OpenCodeOptions {
	if o.ProjectID == "" {
		o.ProjectID = "global"
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Millisecond
	}
	if o.PollInterval > 500*time.Millisecond {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.ForceReadInterval <= 0 {
		o.ForceReadInterval = time.Second
	}
	return o
}

type ocTime struct {
	Created   int64 `json:"created"`
	Updated   int64 `json:"updated"`
	Completed int64 `json:"completed"`
	Start     int64 `json:"start"`
}

type ocSession struct {
	ID        string `json:"id"`
	Directory string `json:"directory"`
	Time      ocTime `json:"time"`
}

type ocMessage struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Role      string `json:"role"`
	Time      ocTime `json:"time"`
	path      string
}

type ocPart struct {
	ID        string `json:"id"`
	MessageID string `json:"messageID"`
	Type      string `json:"type"`
	Text      string `json:"text"`
	Time      ocTime `json:"time"`
	path      string
}

// OpenCodeReader reads OpenCode's storage directory:
//
//	storage/session/<projectID>/ses_*.json
//	storage/message/<sessionID>/msg_*.json
//	storage/part/<messageID>/prt_*.json
//
// Grounded on _examples/original_source/lib/opencode_comm.py's
// OpenCodeLogReader: session selection by directory match against the
// current work_dir (falling back to the most-recently-updated session
// of any directory), and reply detection via the latest assistant
// message's completion timestamp rather than message count alone (an
// in-progress assistant message has no completed time yet).
type OpenCodeReader struct {
	opts OpenCodeOptions

	mu sync.Mutex
}

func NewOpenCodeReader(opts OpenCodeOptions) *OpenCodeReader {
	return &OpenCodeReader{opts: opts.withDefaults()}
}

func (r *OpenCodeReader) sessionDir() string {
	return filepath.Join(r.opts.Root, "session", r.opts.ProjectID)
}

func (r *OpenCodeReader) messageDir(sessionID string) string {
	nested := filepath.Join(r.opts.Root, "message", sessionID)
	if info, err := os.Stat(nested); err == nil && info.IsDir() {
		return nested
	}
	return filepath.Join(r.opts.Root, "message")
}

func (r *OpenCodeReader) partDir(messageID string) string {
	nested := filepath.Join(r.opts.Root, "part", messageID)
	if info, err := os.Stat(nested); err == nil && info.IsDir() {
		return nested
	}
	return filepath.Join(r.opts.Root, "part")
}

func (r *OpenCodeReader) workDirCandidates() []string {
	var candidates []string
	if pwd := strings.TrimSpace(os.Getenv("PWD")); pwd != "" {
		candidates = append(candidates, pwd)
	}
	candidates = append(candidates, r.opts.WorkDir)
	if abs, err := filepath.Abs(r.opts.WorkDir); err == nil {
		candidates = append(candidates, abs)
	}

	seen := map[string]bool{}
	var out []string
	for _, c := range candidates {
		norm := normalizePathForMatch(c)
		if norm != "" && !seen[norm] {
			seen[norm] = true
			out = append(out, norm)
		}
	}
	return out
}

func loadJSON(path string, v any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

type ocSessionEntry struct {
	path    string
	payload ocSession
}

func (r *OpenCodeReader) getLatestSession() (ocSessionEntry, bool) {
	sessionsDir := r.sessionDir()
	entries, err := os.ReadDir(sessionsDir)
	if err != nil {
		return ocSessionEntry{}, false
	}

	candidates := r.workDirCandidates()

	var bestMatch, bestAny *ocSessionEntry
	var bestUpdated, bestAnyUpdated int64 = -1, -1
	var bestMtime, bestAnyMtime time.Time

	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "ses_") || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(sessionsDir, e.Name())
		var payload ocSession
		if !loadJSON(path, &payload) || payload.ID == "" {
			continue
		}
		info, err := e.Info()
		var mtime time.Time
		if err == nil {
			mtime = info.ModTime()
		}

		if payload.Time.Updated > bestAnyUpdated || (payload.Time.Updated == bestAnyUpdated && !mtime.Before(bestAnyMtime)) {
			entryCopy := ocSessionEntry{path: path, payload: payload}
			bestAny = &entryCopy
			bestAnyUpdated = payload.Time.Updated
			bestAnyMtime = mtime
		}

		if payload.Directory == "" {
			continue
		}
		dirNorm := normalizePathForMatch(payload.Directory)
		matched := false
		for _, cwd := range candidates {
			if pathIsSameOrParent(dirNorm, cwd) || pathIsSameOrParent(cwd, dirNorm) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if payload.Time.Updated > bestUpdated || (payload.Time.Updated == bestUpdated && !mtime.Before(bestMtime)) {
			entryCopy := ocSessionEntry{path: path, payload: payload}
			bestMatch = &entryCopy
			bestUpdated = payload.Time.Updated
			bestMtime = mtime
		}
	}

	if bestMatch != nil {
		return *bestMatch, true
	}
	if bestAny != nil {
		return *bestAny, true
	}
	return ocSessionEntry{}, false
}

func (r *OpenCodeReader) readMessages(sessionID string) []ocMessage {
	dir := r.messageDir(sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var messages []ocMessage
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "msg_") || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		var m ocMessage
		if !loadJSON(path, &m) || m.SessionID != sessionID {
			continue
		}
		m.path = path
		messages = append(messages, m)
	}
	sort.Slice(messages, func(i, j int) bool {
		if messages[i].Time.Created != messages[j].Time.Created {
			return messages[i].Time.Created < messages[j].Time.Created
		}
		return messages[i].ID < messages[j].ID
	})
	return messages
}

func (r *OpenCodeReader) readParts(messageID string) []ocPart {
	dir := r.partDir(messageID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var parts []ocPart
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "prt_") || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		var p ocPart
		if !loadJSON(path, &p) || p.MessageID != messageID {
			continue
		}
		p.path = path
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool {
		if parts[i].Time.Start != parts[j].Time.Start {
			return parts[i].Time.Start < parts[j].Time.Start
		}
		return parts[i].ID < parts[j].ID
	})
	return parts
}

func extractText(parts []ocPart) string {
	var out strings.Builder
	for _, p := range parts {
		if p.Type != "text" || p.Text == "" {
			continue
		}
		out.WriteString(p.Text)
	}
	return strings.TrimSpace(out.String())
}

// openCodeState is the OpenCodeReader's opaque Reader state.
type openCodeState struct {
	sessionID        string
	sessionUpdated   int64
	assistantCount   int
	lastAssistantID  string
	lastCompleted    int64
	lastCompletedSet bool
}

func (r *OpenCodeReader) CaptureState() any {
	entry, ok := r.getLatestSession()
	if !ok {
		return openCodeState{sessionUpdated: -1}
	}
	state := openCodeState{sessionID: entry.payload.ID, sessionUpdated: entry.payload.Time.Updated}
	if entry.payload.ID == "" {
		return state
	}
	for _, msg := range r.readMessages(entry.payload.ID) {
		if msg.Role != "assistant" {
			continue
		}
		state.assistantCount++
		state.lastAssistantID = msg.ID
		state.lastCompleted = msg.Time.Completed
		state.lastCompletedSet = msg.Time.Completed != 0
	}
	return state
}

func asOpenCodeState(state any) openCodeState {
	if s, ok := state.(openCodeState); ok {
		return s
	}
	return openCodeState{sessionUpdated: -1}
}

func (r *OpenCodeReader) WaitForMessage(state any, timeout time.Duration) (string, any) {
	return r.readSince(asOpenCodeState(state), timeout, true)
}

func (r *OpenCodeReader) TryGetMessage(state any) (string, any) {
	return r.readSince(asOpenCodeState(state), 0, false)
}

func (r *OpenCodeReader) findNewAssistantReply(sessionID string, state openCodeState) string {
	messages := r.readMessages(sessionID)
	var lastAssistant *ocMessage
	count := 0
	for i := range messages {
		if messages[i].Role == "assistant" && messages[i].ID != "" {
			count++
			lastAssistant = &messages[i]
		}
	}
	if lastAssistant == nil {
		return ""
	}
	if lastAssistant.Time.Completed == 0 {
		// Still streaming; original prefers a completed reply.
		return ""
	}
	if count <= state.assistantCount && lastAssistant.ID == state.lastAssistantID && lastAssistant.Time.Completed == state.lastCompleted {
		return ""
	}
	return extractText(r.readParts(lastAssistant.ID))
}

func (r *OpenCodeReader) readSince(state openCodeState, timeout time.Duration, block bool) (string, any) {
	deadline := time.Now().Add(timeout)
	for {
		entry, ok := r.getLatestSession()
		if ok && entry.payload.ID != "" {
			if entry.payload.ID != state.sessionID {
				state = openCodeState{sessionID: entry.payload.ID, sessionUpdated: -1}
			}
			if reply := r.findNewAssistantReply(entry.payload.ID, state); reply != "" {
				newState := openCodeState{sessionID: entry.payload.ID}
				for _, msg := range r.readMessages(entry.payload.ID) {
					if msg.Role != "assistant" {
						continue
					}
					newState.assistantCount++
					newState.lastAssistantID = msg.ID
					newState.lastCompleted = msg.Time.Completed
				}
				return reply, newState
			}
		}
		if !block || time.Now().After(deadline) {
			return "", state
		}
		time.Sleep(r.opts.PollInterval)
	}
}

func (r *OpenCodeReader) LatestMessage() string {
	entry, ok := r.getLatestSession()
	if !ok || entry.payload.ID == "" {
		return ""
	}
	messages := r.readMessages(entry.payload.ID)
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "assistant" {
			return extractText(r.readParts(messages[i].ID))
		}
	}
	return ""
}

func (r *OpenCodeReader) LatestConversations(n int) []Conversation {
	entry, ok := r.getLatestSession()
	if !ok || entry.payload.ID == "" {
		return nil
	}
	messages := r.readMessages(entry.payload.ID)

	var pairs []Conversation
	var pendingQuestion string
	for _, msg := range messages {
		text := extractText(r.readParts(msg.ID))
		switch msg.Role {
		case "user":
			pendingQuestion = text
		case "assistant":
			if text == "" {
				continue
			}
			pairs = append(pairs, Conversation{Question: pendingQuestion, Reply: text})
			pendingQuestion = ""
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

func (r *OpenCodeReader) CurrentSessionPath() string {
	entry, ok := r.getLatestSession()
	if !ok {
		return ""
	}
	return entry.payload.ID
}

var _ Reader = (*OpenCodeReader)(nil)
