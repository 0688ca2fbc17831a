// Package monitor implements the additive observability surface each
// daemon exposes: a live event feed (task start/anchor/done) broadcast
// to any number of WebSocket subscribers. It never gates or delays the
// core RPC path — a publish with no subscribers, or a slow subscriber,
// costs nothing beyond a dropped frame. Grounded on
// _examples/loppo-llc-kojo/internal/session/session.go's
// subscriber-map broadcast pattern and its WebSocket handler in
// internal/server/websocket.go.
package monitor

import (
	"sync"
	"time"
)

// Event is one observability frame. Unlike the teacher's raw terminal
// byte stream, this carries only the task lifecycle metadata a debug
// client needs to correlate with a daemon's own log lines.
type Event struct {
	Event      string `json:"event"`       // "task_start" | "anchor" | "task_done" | "task_cancelled"
	SessionKey string `json:"session_key"`
	ReqID      string `json:"req_id"`
	Provider   string `json:"provider,omitempty"`
	TS         int64  `json:"ts"`
}

// subscriberBuffer matches the teacher's Session.Subscribe channel
// depth: generous enough to absorb a burst without blocking Publish,
// small enough that a genuinely stuck subscriber starts dropping
// frames quickly rather than growing unbounded.
const subscriberBuffer = 256

// Hub fans Events out to every live subscriber. The zero value is not
// usable; construct with NewHub.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new listener. Call the returned function to
// unsubscribe and release the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish broadcasts e to every current subscriber, dropping it for any
// subscriber whose buffer is already full rather than blocking the
// caller (the same "slow consumer, drop" policy as the teacher's
// Session.broadcast).
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// TaskStart publishes a task_start frame stamped with now.
func (h *Hub) TaskStart(sessionKey, reqID, provider string, now time.Time) {
	h.Publish(Event{Event: "task_start", SessionKey: sessionKey, ReqID: reqID, Provider: provider, TS: now.Unix()})
}

// Anchor publishes an anchor frame (the CCB_REQ_ID sentinel was observed
// in the pane, so done-detection is now scoped past it).
func (h *Hub) Anchor(sessionKey, reqID, provider string, now time.Time) {
	h.Publish(Event{Event: "anchor", SessionKey: sessionKey, ReqID: reqID, Provider: provider, TS: now.Unix()})
}

// TaskDone publishes a task_done frame.
func (h *Hub) TaskDone(sessionKey, reqID, provider string, now time.Time) {
	h.Publish(Event{Event: "task_done", SessionKey: sessionKey, ReqID: reqID, Provider: provider, TS: now.Unix()})
}

// TaskCancelled publishes a task_cancelled frame.
func (h *Hub) TaskCancelled(sessionKey, reqID, provider string, now time.Time) {
	h.Publish(Event{Event: "task_cancelled", SessionKey: sessionKey, ReqID: reqID, Provider: provider, TS: now.Unix()})
}
