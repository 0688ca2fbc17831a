package providers

import (
	"log/slog"

	"github.com/stefanc-ai2/claude-code-bridge/internal/terminal"
	"github.com/stefanc-ai2/claude-code-bridge/internal/transcript"
)

// Gemini's own CLI writes an "info"-typed message ("Request cancelled.")
// into its session file when a turn is interrupted
// (original_source/lib/gemini_comm.py), but GeminiReader only ever
// surfaces "gemini"-typed (assistant) entries from WaitForMessage — see
// the internal/providers DESIGN.md entry for why that gap is left open
// rather than retrofitted here. Gemini therefore gets no
// ScreenCancelMarker/ReaderCancelText: an interrupted turn here is only
// ever observed as a timeout, not a cancellation.
func newGeminiAdapter(backend terminal.Backend, logger *slog.Logger) *Adapter {
	return &Adapter{
		Key:     "gemini",
		Backend: backend,
		Logger:  logger,
		NewReader: func(workDir string) (transcript.Reader, error) {
			return transcript.NewReader(transcript.ProviderGemini, workDir)
		},
	}
}
