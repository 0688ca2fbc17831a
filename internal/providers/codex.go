package providers

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/stefanc-ai2/claude-code-bridge/internal/terminal"
	"github.com/stefanc-ai2/claude-code-bridge/internal/transcript"
)

// codexCancelMarker is the banner Codex's TUI prints in place when a turn
// is interrupted mid-stream. Grounded on
// original_source/lib/caskd_daemon.py's _check_interrupted, which greps
// the pane capture for this text after the request's anchor line since
// Codex's JSONL transcript never records the interruption itself.
const codexCancelMarker = "■ Conversation interrupted"

// defaultPaneCheckInterval matches caskd_daemon.py's pane_check_interval
// default of "2.0" (seconds).
const defaultPaneCheckInterval = 2 * time.Second

func newCodexAdapter(backend terminal.Backend, logger *slog.Logger) *Adapter {
	return &Adapter{
		Key:     "codex",
		Backend: backend,
		Logger:  logger,
		NewReader: func(workDir string) (transcript.Reader, error) {
			return transcript.NewReader(transcript.ProviderCodex, workDir)
		},
		ScreenCancelMarker: codexCancelMarker,
		PaneCheckInterval:  paneCheckIntervalFromEnv("CCB_CASKD_PANE_CHECK_INTERVAL"),
	}
}

// paneCheckIntervalFromEnv reads a seconds-as-float env var (the same
// shape every *_daemon.py used for its pane_check_interval), falling
// back to defaultPaneCheckInterval on absence or a non-positive value.
func paneCheckIntervalFromEnv(key string) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultPaneCheckInterval
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs <= 0 {
		return defaultPaneCheckInterval
	}
	return time.Duration(secs * float64(time.Second))
}
