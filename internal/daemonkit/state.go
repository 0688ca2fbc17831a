package daemonkit

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State is the daemon state file shape (spec §3: "Daemon state file").
// The original source's field carried the Python interpreter path
// (python_path); since this is a Go binary that field is replaced with
// BinaryPath (os.Executable()) — same debugging purpose, right language.
type State struct {
	PID         int    `json:"pid"`
	Host        string `json:"host"`
	ConnectHost string `json:"connect_host"`
	Port        int    `json:"port"`
	Token       string `json:"token"`
	StartedAt   string `json:"started_at"`
	BinaryPath  string `json:"binary_path,omitempty"`
	ParentPID   int    `json:"parent_pid,omitempty"`
	Managed     bool   `json:"managed"`
	WorkDir     string `json:"work_dir"`
}

// NormalizeConnectHost maps the bind host to the address a client should
// dial: "0.0.0.0" (and the empty string) mean "all interfaces", which a
// loopback-only client must read back as 127.0.0.1 (spec §3).
func NormalizeConnectHost(host string) string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		return "127.0.0.1"
	}
	return host
}

// WriteState atomically publishes the daemon's state file (tmp + rename,
// mode 0600), grounded in the teacher's internal/session/store.go Save
// pattern.
func WriteState(daemonKey string, st State) error {
	path := StatePath(daemonKey)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("daemonkit: create run dir: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("daemonkit: marshal state: %w", err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("daemonkit: write tmp state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("daemonkit: rename state file: %w", err)
	}
	return os.Chmod(path, 0o600)
}

// ReadState loads a daemon's state file. It returns (State{}, false, nil)
// when the file does not exist so callers can distinguish "not running"
// from "failed to read".
func ReadState(daemonKey string) (State, bool, error) {
	data, err := os.ReadFile(StatePath(daemonKey))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("daemonkit: read state file: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, false, fmt.Errorf("daemonkit: parse state file: %w", err)
	}
	return st, true, nil
}

// RemoveStateIfOwned deletes the state file only if the pid recorded in it
// equals the current process's pid (spec §3: "deleted on clean shutdown
// only by the process that wrote it (verified by pid match)"). It is a
// no-op, not an error, when the file is already gone or owned by someone
// else.
func RemoveStateIfOwned(daemonKey string) error {
	st, ok, err := ReadState(daemonKey)
	if err != nil || !ok {
		return err
	}
	if st.PID != os.Getpid() {
		return nil
	}
	if err := os.Remove(StatePath(daemonKey)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("daemonkit: remove state file: %w", err)
	}
	return nil
}

// NewStartedAt formats the current time the way the state file's
// started_at field expects.
func NewStartedAt(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}
