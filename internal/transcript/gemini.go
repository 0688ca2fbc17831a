package transcript

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/stefanc-ai2/claude-code-bridge/internal/jsonretry"
)

// GeminiOptions configures a GeminiReader. Zero value matches
// gemini_comm.py's defaults (0.05s poll, 1s forced-read interval).
type GeminiOptions struct {
	Root                string
	WorkDir             string
	ProjectHash         string // overrides hash computation when non-empty (GEMINI_PROJECT_HASH)
	PollInterval        time.Duration
	ForceReadInterval   time.Duration
	AllowAnyProjectScan bool
}

func (o GeminiOptions) withDefaults() GeminiOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Millisecond
	}
	if o.PollInterval > 500*time.Millisecond {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.ForceReadInterval <= 0 {
		o.ForceReadInterval = time.Second
	}
	if o.ForceReadInterval > 5*time.Second {
		o.ForceReadInterval = 5 * time.Second
	}
	return o
}

// geminiMessage is one entry of a Gemini session file's "messages" array.
type geminiMessage struct {
	ID      string `json:"id"`
	Type    string `json:"type"` // "user" or "gemini"
	Content string `json:"content"`
}

type geminiSession struct {
	Messages []geminiMessage `json:"messages"`
}

// GeminiReader reads Gemini CLI session files from
// ~/.gemini/tmp/<projectHash>/chats/session-*.json, a file the Gemini
// CLI rewrites in place on every turn (not appended to). Grounded on
// _examples/original_source/lib/gemini_comm.py's GeminiLogReader: hash
// adoption when scanning finds a session under a different project hash
// than expected (Windows/WSL path-hash mismatches), and a msg_count +
// mtime/size + last-gemini-id/hash baseline to detect genuinely new
// content versus an in-place content-only edit of the same message.
type GeminiReader struct {
	opts        GeminiOptions
	projectHash string

	mu               sync.Mutex
	preferredSession string
}

func NewGeminiReader(opts GeminiOptions) *GeminiReader {
	opts = opts.withDefaults()
	hash := opts.ProjectHash
	if hash == "" {
		hash = resolveProjectHash(opts.Root, opts.WorkDir)
	}
	return &GeminiReader{opts: opts, projectHash: hash}
}

// projectHash mirrors gemini_comm.py's _compute_project_hashes sha256
// form: a SHA-256 hex digest of the absolute work_dir path, the
// directory name pre-0.29.0 Gemini CLI builds use to namespace
// ~/.gemini/tmp/<hash>/chats.
func projectHash(workDir string) string {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		abs = workDir
	}
	sum := sha256.Sum256([]byte(filepath.ToSlash(abs)))
	return hex.EncodeToString(sum[:])
}

// basenameProjectHash mirrors gemini_comm.py's _compute_project_hashes
// basename form: the work_dir's own directory name, which Gemini CLI
// >= 0.29.0 uses instead of a path hash.
func basenameProjectHash(workDir string) string {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		abs = workDir
	}
	return filepath.Base(filepath.ToSlash(abs))
}

// resolveProjectHash mirrors gemini_comm.py's _get_project_hash: prefers
// the basename form (Gemini CLI >= 0.29.0) when its chats/ directory
// already exists under root, falls back to the sha256 form (older CLI
// versions) when only that one exists, and defaults to basename for
// forward compatibility when neither directory exists yet.
func resolveProjectHash(root, workDir string) string {
	basename := basenameProjectHash(workDir)
	sha := projectHash(workDir)
	if chatsDirExists(root, basename) {
		return basename
	}
	if chatsDirExists(root, sha) {
		return sha
	}
	return basename
}

func chatsDirExists(root, hash string) bool {
	if root == "" || hash == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(root, hash, "chats"))
	return err == nil && info.IsDir()
}

func (r *GeminiReader) SetPreferredSession(path string) {
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

func (r *GeminiReader) CurrentSessionPath() string {
	return r.latestSession()
}

func (r *GeminiReader) chatsDir() string {
	dir := filepath.Join(r.opts.Root, r.projectHash, "chats")
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir
	}
	return ""
}

func (r *GeminiReader) scanLatestSession() string {
	chats := r.chatsDir()
	if chats == "" {
		return ""
	}
	var best string
	var bestMtime time.Time
	entries, err := os.ReadDir(chats)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".json") || !strings.HasPrefix(e.Name(), "session-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMtime) {
			best = filepath.Join(chats, e.Name())
			bestMtime = info.ModTime()
		}
	}
	return best
}

func (r *GeminiReader) scanLatestSessionAnyProject() string {
	if r.opts.Root == "" {
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
		if strings.HasPrefix(d.Name(), ".") || !strings.HasSuffix(d.Name(), ".json") || !strings.HasPrefix(d.Name(), "session-") {
			return nil
		}
		if filepath.Base(filepath.Dir(path)) != "chats" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if best == "" || info.ModTime().After(bestMtime) {
			best = path
			bestMtime = info.ModTime()
		}
		return nil
	})
	return best
}

func (r *GeminiReader) latestSession() string {
	r.mu.Lock()
	preferred := r.preferredSession
	r.mu.Unlock()

	scanned := r.scanLatestSession()

	if preferred != "" {
		if prefInfo, err := os.Stat(preferred); err == nil {
			if scanned != "" {
				if scanInfo, err := os.Stat(scanned); err == nil && scanInfo.ModTime().After(prefInfo.ModTime()) {
					r.mu.Lock()
					r.preferredSession = scanned
					r.mu.Unlock()
					return scanned
				}
			}
			return preferred
		}
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

func (r *GeminiReader) readSessionJSON(path string) (*geminiSession, bool) {
	if path == "" {
		return nil, false
	}
	var session geminiSession
	if err := jsonretry.DecodeFile(path, &session, jsonretry.Options{Attempts: 10, Delay: 50 * time.Millisecond}); err != nil {
		return nil, false
	}
	return &session, true
}

func extractLastGemini(session *geminiSession) (id, content string, ok bool) {
	if session == nil {
		return "", "", false
	}
	for i := len(session.Messages) - 1; i >= 0; i-- {
		if session.Messages[i].Type == "gemini" {
			return session.Messages[i].ID, session.Messages[i].Content, true
		}
	}
	return "", "", false
}

// geminiState is the GeminiReader's opaque Reader state: a message-count
// baseline plus the last known Gemini reply's id/content-hash, used to
// tell a genuinely new reply apart from the same message being rewritten
// with more content (Gemini emits an empty placeholder then fills it in).
type geminiState struct {
	sessionPath   string
	msgCount      int // -1 means "unknown baseline" (initial parse failed)
	mtime         time.Time
	size          int64
	lastGeminiID  string
	lastGeminiSum string
}

func (r *GeminiReader) CaptureState() any {
	session := r.latestSession()
	state := geminiState{sessionPath: session}
	if session == "" {
		return state
	}
	info, err := os.Stat(session)
	if err != nil {
		return state
	}
	state.mtime = info.ModTime()
	state.size = info.Size()

	data, ok := r.readSessionJSON(session)
	if !ok {
		state.msgCount = -1
		return state
	}
	state.msgCount = len(data.Messages)
	if id, content, ok := extractLastGemini(data); ok {
		state.lastGeminiID = id
		state.lastGeminiSum = sha256Hex(content)
	}
	return state
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func asGeminiState(state any) geminiState {
	if s, ok := state.(geminiState); ok {
		return s
	}
	return geminiState{}
}

func (r *GeminiReader) WaitForMessage(state any, timeout time.Duration) (string, any) {
	return r.readSince(asGeminiState(state), timeout, true)
}

func (r *GeminiReader) TryGetMessage(state any) (string, any) {
	return r.readSince(asGeminiState(state), 0, false)
}

func (r *GeminiReader) readSince(state geminiState, timeout time.Duration, block bool) (string, any) {
	deadline := time.Now().Add(timeout)
	unknownBaseline := state.msgCount < 0
	lastForcedRead := time.Now()

	for {
		session := r.latestSession()
		if session == "" {
			if !block || time.Now().After(deadline) {
				return "", state
			}
			time.Sleep(r.opts.PollInterval)
			continue
		}
		if session != state.sessionPath {
			state = geminiState{sessionPath: session}
			unknownBaseline = false
		}

		info, err := os.Stat(session)
		if err == nil {
			sizeSame := info.Size() == state.size
			mtimeSame := !info.ModTime().After(state.mtime)
			if block && sizeSame && mtimeSame && time.Since(lastForcedRead) < r.opts.ForceReadInterval {
				time.Sleep(r.opts.PollInterval)
				if time.Now().After(deadline) {
					return "", state
				}
				continue
			}

			data, ok := r.readSessionJSON(session)
			if ok {
				lastForcedRead = time.Now()
				currentCount := len(data.Messages)

				if unknownBaseline {
					unknownBaseline = false
					if currentCount > 0 {
						last := data.Messages[currentCount-1]
						changed := info.ModTime().After(state.mtime) || info.Size() != state.size
						if last.Type == "gemini" && strings.TrimSpace(last.Content) != "" && changed {
							state = geminiState{
								sessionPath:   session,
								msgCount:      currentCount,
								mtime:         info.ModTime(),
								size:          info.Size(),
								lastGeminiID:  last.ID,
								lastGeminiSum: sha256Hex(last.Content),
							}
							return last.Content, state
						}
					}
					state.msgCount = currentCount
					state.mtime = info.ModTime()
					state.size = info.Size()
					if id, content, ok := extractLastGemini(data); ok {
						state.lastGeminiID = id
						state.lastGeminiSum = sha256Hex(content)
					}
				} else if currentCount > state.msgCount {
					var foundContent, foundID string
					for _, msg := range data.Messages[state.msgCount:] {
						if msg.Type != "gemini" {
							continue
						}
						content := strings.TrimSpace(msg.Content)
						if content == "" {
							continue
						}
						sum := sha256Hex(content)
						if msg.ID == state.lastGeminiID && sum == state.lastGeminiSum {
							continue
						}
						foundContent, foundID = content, msg.ID
					}
					if foundContent != "" {
						newState := geminiState{
							sessionPath:   session,
							msgCount:      currentCount,
							mtime:         info.ModTime(),
							size:          info.Size(),
							lastGeminiID:  foundID,
							lastGeminiSum: sha256Hex(foundContent),
						}
						return foundContent, newState
					}
					state.msgCount = currentCount
					state.mtime = info.ModTime()
					state.size = info.Size()
				} else if id, content, ok := extractLastGemini(data); ok && strings.TrimSpace(content) != "" {
					sum := sha256Hex(content)
					if id != state.lastGeminiID || sum != state.lastGeminiSum {
						newState := geminiState{
							sessionPath:   session,
							msgCount:      currentCount,
							mtime:         info.ModTime(),
							size:          info.Size(),
							lastGeminiID:  id,
							lastGeminiSum: sum,
						}
						return content, newState
					}
					state.mtime = info.ModTime()
					state.size = info.Size()
				}
			}
		}

		if !block || time.Now().After(deadline) {
			return "", state
		}
		time.Sleep(r.opts.PollInterval)
	}
}

func (r *GeminiReader) LatestMessage() string {
	session := r.latestSession()
	if session == "" {
		return ""
	}
	data, ok := r.readSessionJSON(session)
	if !ok {
		return ""
	}
	for i := len(data.Messages) - 1; i >= 0; i-- {
		if data.Messages[i].Type == "gemini" {
			return strings.TrimSpace(data.Messages[i].Content)
		}
	}
	return ""
}

func (r *GeminiReader) LatestConversations(n int) []Conversation {
	session := r.latestSession()
	if session == "" {
		return nil
	}
	data, ok := r.readSessionJSON(session)
	if !ok {
		return nil
	}

	var pairs []Conversation
	var pendingQuestion string
	for _, msg := range data.Messages {
		content := strings.TrimSpace(msg.Content)
		switch msg.Type {
		case "user":
			pendingQuestion = content
		case "gemini":
			if content == "" {
				continue
			}
			pairs = append(pairs, Conversation{Question: pendingQuestion, Reply: content})
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

var _ Reader = (*GeminiReader)(nil)
