// Package jsonretry decodes JSON files that a provider CLI may be
// rewriting in place (Gemini's session log is truncated-then-rewritten
// on every turn, not appended to), so a read can observe a transient
// partial write. Grounded on
// _examples/original_source/lib/gemini_comm.py's
// GeminiLogReader._read_session_json: up to 10 attempts with a short
// sleep between them before giving up.
package jsonretry

import (
	"encoding/json"
	"os"
	"time"
)

const (
	defaultAttempts = 10
	defaultDelay    = 50 * time.Millisecond
)

// Options configures the retry loop. A zero value uses the defaults
// matching the original's attempts=10 / sleep≈50ms.
type Options struct {
	Attempts int
	Delay    time.Duration
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = defaultAttempts
	}
	if o.Delay <= 0 {
		o.Delay = defaultDelay
	}
	return o
}

// DecodeFile reads path and unmarshals it into v, retrying on a JSON
// syntax error (which signals a write caught mid-flight) up to
// opts.Attempts times. A missing file or any other read error returns
// immediately without retrying.
func DecodeFile(path string, v any, opts Options) error {
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 0; attempt < opts.Attempts; attempt++ {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		err = json.Unmarshal(data, v)
		if err == nil {
			return nil
		}
		if _, ok := err.(*json.SyntaxError); !ok {
			return err
		}
		lastErr = err
		if attempt < opts.Attempts-1 {
			time.Sleep(opts.Delay)
		}
	}
	return lastErr
}
