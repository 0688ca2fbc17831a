// Package maild implements the mail bridge daemon's lifecycle shell
// (spec §4.7): poll an inbox source, extract a provider name from the
// body prefix ("CLAUDE: ..."), and route the remainder into the unified
// daemon as an ask.request. Message parsing beyond the provider-prefix
// extraction and SMTP sending are explicitly out of scope (spec §4.7);
// only the daemonization/lifecycle shape and the routing hop are built
// here. Grounded on _examples/original_source/lib/mail/daemon.py's
// MailDaemon (state/pid file, start/stop, signal handling, cleanup loop)
// adapted onto the shared internal/daemonkit single-instance lock and
// parent-monitor primitives every other daemon in this repo uses (spec
// §4.7: "modeled exactly as §4.4").
package maild

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stefanc-ai2/claude-code-bridge/internal/daemonkit"
)

// daemonKey names maild's lock file and state file the same
// way every other daemon's key does (spec §3, §7).
const daemonKey = "maild"

// State mirrors mail/daemon.py's DaemonState: this daemon publishes its
// own liveness/identity shape rather than daemonkit.State's
// host/port/token shape, since maild never listens on a socket of its
// own — it is purely an RPC client of the unified daemon.
type State struct {
	PID         int      `json:"pid"`
	StartedAt   string   `json:"started_at"`
	Email       string   `json:"email"`
	Status      string   `json:"status"`
	Version     int      `json:"version"`
	EnabledHooks []string `json:"enabled_hooks,omitempty"`
}

func statePath() string {
	return filepath.Join(daemonkit.RunDir(), daemonKey+".json")
}

// writeState atomically publishes st (tmp + rename, mode 0600), the same
// pattern daemonkit.WriteState uses for the TCP daemons.
func writeState(st State) error {
	path := statePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("maild: create run dir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("maild: marshal state: %w", err)
	}
	data = append(data, '\n')
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("maild: write tmp state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("maild: rename state file: %w", err)
	}
	return nil
}

// readState loads maild's state file, returning (State{}, false, nil) if
// it does not exist.
func readState() (State, bool, error) {
	data, err := os.ReadFile(statePath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("maild: read state file: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, false, fmt.Errorf("maild: parse state file: %w", err)
	}
	return st, true, nil
}

// removeStateIfOwned deletes the state file only if its pid matches the
// current process (spec §3/§4.4's ownership check on clean shutdown).
func removeStateIfOwned() error {
	st, ok, err := readState()
	if err != nil || !ok {
		return err
	}
	if st.PID != os.Getpid() {
		return nil
	}
	if err := os.Remove(statePath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("maild: remove state file: %w", err)
	}
	return nil
}

func newStartedAt(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}
