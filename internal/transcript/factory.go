package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Provider identifies which CLI a Reader follows.
type Provider string

const (
	ProviderCodex    Provider = "codex"
	ProviderGemini   Provider = "gemini"
	ProviderOpenCode Provider = "opencode"
	ProviderDroid    Provider = "droid"
	ProviderClaude   Provider = "claude"
)

func defaultRoot(sub string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, sub)
}

// envRebindTailBytes reads CCB_CASKD_REBIND_TAIL_BYTES (spec §6),
// falling back to CodexReader's own default on absence or a
// non-positive value.
func envRebindTailBytes() int64 {
	raw := os.Getenv("CCB_CASKD_REBIND_TAIL_BYTES")
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

// NewReader builds the Reader for provider, using each CLI's
// conventional on-disk root unless overridden.
func NewReader(provider Provider, workDir string) (Reader, error) {
	switch provider {
	case ProviderCodex:
		return NewCodexReader(CodexOptions{
			Root:            filepath.Join(defaultRoot(".codex"), "sessions"),
			WorkDir:         workDir,
			RebindTailBytes: envRebindTailBytes(),
		}), nil
	case ProviderGemini:
		return NewGeminiReader(GeminiOptions{
			Root:    filepath.Join(defaultRoot(".gemini"), "tmp"),
			WorkDir: workDir,
		}), nil
	case ProviderOpenCode:
		return NewOpenCodeReader(OpenCodeOptions{
			Root:    filepath.Join(defaultRoot(".local/share/opencode"), "storage"),
			WorkDir: workDir,
		}), nil
	case ProviderDroid:
		return NewDroidReader(DroidOptions{
			Root:    filepath.Join(defaultRoot(".factory"), "sessions"),
			WorkDir: workDir,
		}), nil
	case ProviderClaude:
		return NewClaudeReader(ClaudeOptions{
			Root:    filepath.Join(defaultRoot(".claude"), "projects"),
			WorkDir: workDir,
		}), nil
	default:
		return nil, fmt.Errorf("transcript: unknown provider %q", provider)
	}
}
