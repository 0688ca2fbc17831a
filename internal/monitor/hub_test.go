package monitor

import (
	"testing"
	"time"
)

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	hub := NewHub()
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	hub.TaskStart("codex:/repo", "abcd1234", "codex", time.Unix(100, 0))

	select {
	case e := <-events:
		if e.Event != "task_start" || e.SessionKey != "codex:/repo" || e.ReqID != "abcd1234" || e.TS != 100 {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestPublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		hub.Publish(Event{Event: "task_done"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked with no subscribers")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	events, unsubscribe := hub.Subscribe()
	unsubscribe()

	_, ok := <-events
	if ok {
		t.Error("channel still open after unsubscribe")
	}
}

func TestSlowSubscriberDropsRatherThanBlocks(t *testing.T) {
	hub := NewHub()
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	for i := 0; i < subscriberBuffer+10; i++ {
		hub.Publish(Event{Event: "task_start", ReqID: "x"})
	}

	// Draining should yield at most subscriberBuffer events, proving the
	// excess was dropped rather than the publisher blocking on a full chan.
	count := 0
drain:
	for {
		select {
		case <-events:
			count++
		default:
			break drain
		}
	}
	if count > subscriberBuffer {
		t.Errorf("count = %d, want <= %d", count, subscriberBuffer)
	}
}

func TestMultipleSubscribersEachReceiveEvent(t *testing.T) {
	hub := NewHub()
	a, unsubA := hub.Subscribe()
	b, unsubB := hub.Subscribe()
	defer unsubA()
	defer unsubB()

	hub.TaskDone("key", "r1", "gemini", time.Unix(5, 0))

	for _, ch := range []<-chan Event{a, b} {
		select {
		case e := <-ch:
			if e.Event != "task_done" {
				t.Errorf("event = %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event on one subscriber")
		}
	}
}
