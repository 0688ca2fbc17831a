// Package config loads the one piece of general configuration that is
// genuinely part of the core: a regex-based table mapping a model name
// to its context-window token limit, used by the autoloop supervisor's
// usage-percent calculation. Grounded on
// _examples/wingedpig-trellis/internal/config/loader.go's HJSON-via-JSON
// round trip (read file, hjson.Unmarshal to a map, re-marshal through
// encoding/json into a typed struct).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hjson/hjson-go/v4"
)

// ModelLimit is one entry of the models table: a regex pattern matched
// against a model name, and the context-window limit to use when it
// matches.
type ModelLimit struct {
	Pattern      string `json:"pattern"`
	ContextLimit int    `json:"context_limit"`
}

// Config is the models.hjson document shape.
type Config struct {
	Models []ModelLimit `json:"models"`
}

// DefaultPath mirrors the original's ~/.claude/ccline/models.toml
// location, adapted to this project's HJSON convention.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "ccline", "models.hjson")
}

// Load reads and parses an HJSON config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw map[string]any
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse hjson %s: %w", path, err)
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("config: convert %s to json: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadDefault loads the config at DefaultPath, returning a nil *Config
// (not an error) when no such file exists — the models table is
// optional per spec §4.6 ("an optional regex-based config file").
func LoadDefault() (*Config, error) {
	path := DefaultPath()
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	return Load(path)
}

// builtinContextLimit is the fallback table for opus/sonnet/haiku when
// no config entry matches, per spec §4.6.
func builtinContextLimit(model string) (int, bool) {
	lowered := strings.ToLower(model)
	for _, name := range []string{"opus", "sonnet", "haiku"} {
		if strings.Contains(lowered, name) {
			return 200_000, true
		}
	}
	return 0, false
}

// ContextLimitForModel resolves model's context-window limit: first
// entries in cfg (pattern matched as regex, falling back to substring
// match if the pattern doesn't compile), then the opus/sonnet/haiku
// builtin table, then defaultLimit.
func ContextLimitForModel(cfg *Config, model string, defaultLimit int) int {
	if model == "" {
		return defaultLimit
	}
	if cfg != nil {
		for _, entry := range cfg.Models {
			if entry.Pattern == "" || entry.ContextLimit <= 0 {
				continue
			}
			if re, err := regexp.Compile(entry.Pattern); err == nil {
				if re.MatchString(model) {
					return entry.ContextLimit
				}
				continue
			}
			if strings.Contains(model, entry.Pattern) {
				return entry.ContextLimit
			}
		}
	}
	if limit, ok := builtinContextLimit(model); ok {
		return limit
	}
	return defaultLimit
}
