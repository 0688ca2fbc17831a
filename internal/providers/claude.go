package providers

import (
	"log/slog"

	"github.com/stefanc-ai2/claude-code-bridge/internal/terminal"
	"github.com/stefanc-ai2/claude-code-bridge/internal/transcript"
)

// Claude has no standalone single-provider daemon in the original
// (no "caskd"-style prefix was ever assigned to it — it is reachable
// only through the unified daemon's provider routing), so this adapter
// has no precedent file of its own to follow; it is built the same way
// as every other provider, reading ~/.claude/projects transcripts.
func newClaudeAdapter(backend terminal.Backend, logger *slog.Logger) *Adapter {
	return &Adapter{
		Key:     "claude",
		Backend: backend,
		Logger:  logger,
		NewReader: func(workDir string) (transcript.Reader, error) {
			return transcript.NewReader(transcript.ProviderClaude, workDir)
		},
	}
}
