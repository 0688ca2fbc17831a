// Package transcript reads a provider CLI's on-disk conversation log to
// detect and extract a reply (spec §2 item 3, §4.1's "read the
// provider's transcript"). Each provider persists its own way: Codex and
// Droid append JSONL, Gemini rewrites one JSON file in place per turn,
// OpenCode scatters session/message/part JSON across a directory tree,
// and Claude appends JSONL with per-subagent side logs. One Reader
// implementation per provider hides the layout; the request/reply
// correlation logic in internal/protocol is what decides when a reply is
// "done", not this package.
package transcript

import "time"

// Conversation is one (question, reply) turn, as returned by
// LatestConversations.
type Conversation struct {
	Question string
	Reply    string
}

// Reader is the capability every provider-specific transcript reader
// implements. State is deliberately opaque (a provider's own state
// struct, not a common shape) since each provider tracks different
// cursor bookkeeping (byte offsets for JSONL, message/mtime counters for
// a rewritten-in-place JSON file, assistant-message ids for OpenCode's
// split session/message/part files) — mirroring how the original's
// per-provider dict-shaped "state" bags were never unified either.
//
// Grounded on the original_source readers' shared method set
// (capture_state / wait_for_message / try_get_message / latest_message /
// latest_conversations / current_session_path), observed across
// gemini_comm.py's GeminiLogReader, opencode_comm.py's
// OpenCodeLogReader, and droid_comm.py's DroidLogReader.
type Reader interface {
	// CaptureState records a baseline (current session file, message
	// count/offset, etc.) to diff future reads against.
	CaptureState() any

	// WaitForMessage blocks up to timeout for a new reply, returning it
	// and the updated state. An empty string means no new reply arrived
	// before the deadline.
	WaitForMessage(state any, timeout time.Duration) (string, any)

	// TryGetMessage is the non-blocking form of WaitForMessage.
	TryGetMessage(state any) (string, any)

	// LatestMessage returns the most recent reply in the transcript,
	// independent of any tracked state.
	LatestMessage() string

	// LatestConversations returns the last n (question, reply) pairs.
	LatestConversations(n int) []Conversation

	// CurrentSessionPath returns the transcript file (or, for OpenCode,
	// the session id) currently being followed, or "" if none is known
	// yet.
	CurrentSessionPath() string
}

// SessionPathSetter is implemented by readers that can be steered to a
// specific transcript file instead of auto-discovering the most
// recently modified one (spec §3's project-bound session path).
type SessionPathSetter interface {
	SetPreferredSession(path string)
}

// SessionIDHinter is implemented by readers (Droid, Codex) that can
// locate a transcript by the provider's own session id rather than by
// recency, used to rebind after a restart.
type SessionIDHinter interface {
	SetSessionIDHint(sessionID string)
}
