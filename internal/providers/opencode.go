package providers

import (
	"log/slog"

	"github.com/stefanc-ai2/claude-code-bridge/internal/terminal"
	"github.com/stefanc-ai2/claude-code-bridge/internal/transcript"
)

// OpenCode's own daemon (original_source/lib/oaskd_daemon.py) gates its
// equivalent detection behind CCB_OASKD_CANCEL_DETECT, off by default,
// with a comment calling OpenCode cancellation "session-scoped and hard
// to attribute to a specific queued task without false positives". The
// underlying signal (an assistant message carrying MessageAbortedError)
// also isn't exposed by OpenCodeReader's WaitForMessage today, so this
// adapter matches the upstream default: no cancellation detection wired.
func newOpenCodeAdapter(backend terminal.Backend, logger *slog.Logger) *Adapter {
	return &Adapter{
		Key:     "opencode",
		Backend: backend,
		Logger:  logger,
		NewReader: func(workDir string) (transcript.Reader, error) {
			return transcript.NewReader(transcript.ProviderOpenCode, workDir)
		},
	}
}
