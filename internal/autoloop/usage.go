package autoloop

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stefanc-ai2/claude-code-bridge/internal/config"
)

// usageTailBlock is the chunk size used when scanning a transcript
// backwards for the most recent usage record (spec §4.6 step 5: "64 KiB
// blocks").
const usageTailBlock = 64 * 1024

// claudeProjectsRoot is ~/.claude/projects, the same root ClaudeReader
// uses, kept local to this package since autoloop's directory-matching
// fallback (by repo-name substring) is specific to this algorithm and not
// part of the shared transcript.Reader contract.
func claudeProjectsRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "projects")
}

// candidateProjectDirNames mirrors autoloop.py's
// _candidate_project_dirnames: the repo's absolute path parts joined
// with "-" and prefixed with "-", plus an underscore-to-dash variant
// (matching spec §4.3's Claude reader convention).
func candidateProjectDirNames(repo string) []string {
	abs, err := filepath.Abs(repo)
	if err != nil {
		abs = repo
	}
	abs = filepath.ToSlash(abs)
	abs = strings.TrimPrefix(abs, "/")
	parts := strings.Split(abs, "/")

	joined := strings.Join(parts, "-")
	joinedDash := strings.ReplaceAll(joined, "_", "-")
	return []string{"-" + joined, "-" + joinedDash}
}

// findProjectDir locates repo's Claude project transcript directory,
// first by the exact naming convention, then by a best-effort
// mtime-ranked scan for a directory name containing the repo's base name
// (handles a project dir created under a slightly different naming
// scheme than what this repo's path would currently produce).
func findProjectDir(repo string) string {
	root := claudeProjectsRoot()
	if root == "" {
		return ""
	}
	if _, err := os.Stat(root); err != nil {
		return ""
	}

	for _, name := range candidateProjectDirNames(repo) {
		candidate := filepath.Join(root, name)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
	}

	repoName := filepath.Base(repo)
	hints := map[string]bool{repoName: true, strings.ReplaceAll(repoName, "_", "-"): true}

	entries, err := os.ReadDir(root)
	if err != nil {
		return ""
	}
	var best string
	var bestMtime time.Time
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		matched := false
		for hint := range hints {
			if hint != "" && strings.Contains(e.Name(), hint) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMtime) {
			best, bestMtime = filepath.Join(root, e.Name()), info.ModTime()
		}
	}
	return best
}

// findLatestSessionJSONL returns the most recently modified *.jsonl
// transcript directly under projectDir, skipping subagent side-logs
// (named "agent-*") — the autoloop only reasons about the main
// conversation's own token usage, not a subagent's.
func findLatestSessionJSONL(projectDir string) string {
	entries, err := os.ReadDir(projectDir)
	if err != nil {
		return ""
	}
	var best string
	var bestMtime time.Time
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") || strings.HasPrefix(e.Name(), "agent-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMtime) {
			best, bestMtime = filepath.Join(projectDir, e.Name()), info.ModTime()
		}
	}
	return best
}

// extractMessageModelAndUsage pulls {message: {model, usage}} out of one
// decoded JSONL record, if present.
func extractMessageModelAndUsage(obj map[string]any) (string, map[string]any) {
	message, ok := obj["message"].(map[string]any)
	if !ok {
		return "", nil
	}
	model, _ := message["model"].(string)
	usage, _ := message["usage"].(map[string]any)
	return model, usage
}

// readLastJSONLWithUsage scans path from the end in usageTailBlock
// chunks, returning the (model, usage) of the most recent record that
// carries a usage object, without parsing the whole transcript (spec
// §4.6 step 5).
func readLastJSONLWithUsage(path string) (string, map[string]any) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", nil
	}
	size := info.Size()

	var buf []byte
	pos := size
	for pos > 0 {
		readSize := int64(usageTailBlock)
		if pos < readSize {
			readSize = pos
		}
		pos -= readSize

		chunk := make([]byte, readSize)
		if _, err := f.ReadAt(chunk, pos); err != nil {
			return "", nil
		}
		buf = append(chunk, buf...)

		lines := strings.Split(string(buf), "\n")
		if pos > 0 && len(buf) > 0 && buf[0] != '\n' && len(lines) > 0 {
			buf = []byte(lines[0])
			lines = lines[1:]
		} else {
			buf = nil
		}

		for i := len(lines) - 1; i >= 0; i-- {
			line := strings.TrimSpace(lines[i])
			if line == "" {
				continue
			}
			var obj map[string]any
			if err := json.Unmarshal([]byte(line), &obj); err != nil {
				continue
			}
			model, usage := extractMessageModelAndUsage(obj)
			if usage != nil {
				return model, usage
			}
		}
	}
	return "", nil
}

// promptTokensForUsage sums the usage fields that count toward context
// window occupancy (spec §4.6 step 5), preferring "prompt_tokens" when
// present.
func promptTokensForUsage(usage map[string]any) int {
	if v, ok := usage["prompt_tokens"]; ok {
		return intFromAny(v)
	}
	total := 0
	for _, key := range []string{
		"input_tokens",
		"cache_creation_input_tokens",
		"cache_read_input_tokens",
		"cache_creation_prompt_tokens",
		"cache_read_prompt_tokens",
	} {
		total += intFromAny(usage[key])
	}
	if total < 0 {
		total = 0
	}
	return total
}

func intFromAny(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

// GetContextPercent computes the caller's context-window usage percent
// for repo (spec §4.6 step 5): locate the project transcript directory,
// read the latest non-subagent JSONL's most recent usage record, resolve
// the model's context limit via cfg (falling back to the
// opus/sonnet/haiku builtin table, then contextLimit), and return
// used/limit as a percentage clamped to [0, 100]. Returns 100 (treat as
// "full", the safe default that forces a /clear) when no transcript or
// usage record can be found.
func GetContextPercent(repo string, contextLimit int, cfg *config.Config) int {
	projectDir := findProjectDir(repo)
	if projectDir == "" {
		return 100
	}
	sessionFile := findLatestSessionJSONL(projectDir)
	if sessionFile == "" {
		return 100
	}
	model, usage := readLastJSONLWithUsage(sessionFile)
	if usage == nil {
		return 100
	}
	limit := config.ContextLimitForModel(cfg, model, contextLimit)
	if limit <= 0 {
		return 100
	}
	used := promptTokensForUsage(usage)
	percent := int(math.Round(float64(used) / float64(limit) * 100))
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return percent
}
