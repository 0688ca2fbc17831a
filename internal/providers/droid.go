package providers

import (
	"log/slog"

	"github.com/stefanc-ai2/claude-code-bridge/internal/terminal"
	"github.com/stefanc-ai2/claude-code-bridge/internal/transcript"
)

// droidCancelMarker reuses Codex's interrupt banner text: Droid's CLI is
// built on the same Ink-based TUI toolkit and renders the identical
// interruption line, which is exactly the reuse the supplemented-features
// note calls for ("the Codex screen-capture cancellation helper,
// parameterized by provider-specific marker string").
const droidCancelMarker = codexCancelMarker

func newDroidAdapter(backend terminal.Backend, logger *slog.Logger) *Adapter {
	return &Adapter{
		Key:     "droid",
		Backend: backend,
		Logger:  logger,
		NewReader: func(workDir string) (transcript.Reader, error) {
			return transcript.NewReader(transcript.ProviderDroid, workDir)
		},
		ScreenCancelMarker: droidCancelMarker,
	}
}
