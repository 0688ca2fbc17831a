// Package autoloop implements the supervisor that watches a caller's
// own plan-state file and triggers a caller action (by injecting text
// into the caller's own terminal pane) as the plan's cursor advances
// (spec §4.6). Grounded directly on
// _examples/original_source/claude_skills/tr/scripts/autoloop.py.
package autoloop

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stefanc-ai2/claude-code-bridge/internal/config"
	"github.com/stefanc-ai2/claude-code-bridge/internal/terminal"
)

// defaultThreshold, defaultCooldown, defaultContextLimit, and
// defaultPollInterval mirror autoloop.py's argparse defaults.
const (
	defaultThreshold     = 70
	defaultCooldown      = 20 * time.Second
	defaultContextLimit  = 200_000
	defaultPollInterval  = 500 * time.Millisecond
	fallbackPollInterval = defaultPollInterval
)

// Options configures a Supervisor.
type Options struct {
	Repo         string // project root; state files live under Repo/.ccb
	Threshold    int    // clear only if usage percent > Threshold; default 70
	ContextLimit int    // fallback context limit; default 200000
	Cooldown     time.Duration
	PollInterval time.Duration
	Backend      terminal.Backend // terminal capability used to inject /clear, /tr
	Config       *config.Config   // optional model-context-limit table
}

func (o Options) withDefaults() Options {
	if o.Threshold == 0 {
		o.Threshold = defaultThreshold
	}
	if o.ContextLimit == 0 {
		o.ContextLimit = defaultContextLimit
	}
	if o.Cooldown == 0 {
		o.Cooldown = defaultCooldown
	}
	if o.PollInterval == 0 {
		o.PollInterval = defaultPollInterval
	}
	return o
}

// Supervisor runs the autoloop algorithm for one repo.
type Supervisor struct {
	opts Options

	statePath string // Repo/.ccb/state.json, caller-written
	stateFile string // Repo/.ccb/autoloop_state.json, supervisor-written
	lockPath  string // Repo/.ccb/autoloop.lock

	sleep func(time.Duration)
	now   func() time.Time
}

// New builds a Supervisor for opts.Repo.
func New(opts Options) *Supervisor {
	opts = opts.withDefaults()
	ccbDir := filepath.Join(opts.Repo, ".ccb")
	return &Supervisor{
		opts:      opts,
		statePath: filepath.Join(ccbDir, "state.json"),
		stateFile: filepath.Join(ccbDir, "autoloop_state.json"),
		lockPath:  filepath.Join(ccbDir, "autoloop.lock"),
		sleep:     time.Sleep,
		now:       time.Now,
	}
}

// savedState is the autoloop_state.json document this package owns.
type savedState struct {
	LastCursor    *Cursor `json:"last_cursor"`
	TaskComplete  bool    `json:"task_complete"`
	LastTriggerTS int64   `json:"last_trigger_ts"`
}

func loadSavedState(path string) savedState {
	data, err := os.ReadFile(path)
	if err != nil {
		return savedState{}
	}
	var s savedState
	if err := json.Unmarshal(data, &s); err != nil {
		return savedState{}
	}
	return s
}

// writeSavedState atomically persists s (tmp + rename), matching the
// write pattern used across the rest of this project's small JSON state
// files.
func writeSavedState(path string, s savedState) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("autoloop: marshal state: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("autoloop: create state dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("autoloop: write tmp state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("autoloop: rename state: %w", err)
	}
	return nil
}

// Result summarizes one evaluation, mirroring autoloop.py's JSON status
// lines (status, reason, cursor, etc).
type Result struct {
	Status         string // "noop" | "ok" | "triggered" | "fail"
	Reason         string
	TaskComplete   bool
	DidClear       bool
	ContextPercent int
	Cursor         Cursor
}

// RunOnce performs one evaluation under the repo's exclusive lock (spec
// §4.6). triggerOnMissingState controls step 4's "no prior cursor
// recorded" branch: true for --once, false for the daemon after its
// initial tick.
func (s *Supervisor) RunOnce(triggerOnMissingState bool) (Result, error) {
	lock := NewLock(s.lockPath)
	ok, err := lock.TryAcquire()
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Status: "noop", Reason: "locked"}, nil
	}
	defer lock.Release()

	return s.runOnceLocked(triggerOnMissingState)
}

func (s *Supervisor) runOnceLocked(triggerOnMissingState bool) (Result, error) {
	state, err := loadState(s.statePath)
	if err != nil {
		return Result{}, err
	}
	if state == nil {
		return Result{Status: "noop", Reason: "no state.json"}, nil
	}

	paneID, ok := ResolvePaneID(s.opts.Repo)
	if !ok {
		return Result{Status: "fail", Reason: "no pane_id (.claude-session/CLAUDE_PANE_ID missing)"}, nil
	}

	cursor := cursorFromState(state)
	saved := loadSavedState(s.stateFile)

	if cursor.Type == "none" {
		_ = writeSavedState(s.stateFile, savedState{LastCursor: &cursor, TaskComplete: true, LastTriggerTS: saved.LastTriggerTS})
		return Result{Status: "ok", TaskComplete: true, Cursor: cursor}, nil
	}

	if !hasRemainingWork(state) {
		_ = writeSavedState(s.stateFile, savedState{LastCursor: &cursor, TaskComplete: true, LastTriggerTS: saved.LastTriggerTS})
		return Result{Status: "ok", TaskComplete: true, Cursor: cursor}, nil
	}

	now := s.now().Unix()
	if now-saved.LastTriggerTS < int64(s.opts.Cooldown/time.Second) {
		return Result{Status: "noop", Reason: "cooldown", Cursor: cursor}, nil
	}

	shouldTrigger := false
	switch {
	case saved.LastCursor == nil:
		shouldTrigger = triggerOnMissingState
	case !cursor.Equal(*saved.LastCursor):
		shouldTrigger = true
	}

	if !shouldTrigger {
		_ = writeSavedState(s.stateFile, savedState{LastCursor: &cursor, TaskComplete: false, LastTriggerTS: saved.LastTriggerTS})
		return Result{Status: "noop", Reason: "cursor unchanged", Cursor: cursor}, nil
	}

	usage := GetContextPercent(s.opts.Repo, s.opts.ContextLimit, s.opts.Config)
	doClear := usage > s.opts.Threshold

	if s.opts.Backend != nil {
		if err := trigger(s.opts.Backend, paneID, doClear, s.sleep); err != nil {
			return Result{}, err
		}
	}

	_ = writeSavedState(s.stateFile, savedState{LastCursor: &cursor, TaskComplete: false, LastTriggerTS: s.now().Unix()})
	return Result{Status: "triggered", DidClear: doClear, ContextPercent: usage, Cursor: cursor}, nil
}

// Daemon runs the poll-mode supervisor until stop is closed (spec §4.6:
// "daemon (poll state.json mtime at 500 ms intervals)"). It additionally
// watches state.json's directory with fsnotify so a change is usually
// observed well inside one poll tick, falling back to the fixed-interval
// poll on platforms or filesystems where a watch isn't available —
// matching the pattern in wingedpig/trellis's internal/watcher package
// and the tmux-a2a-postman daemon's fsnotify-driven config reload.
func (s *Supervisor) Daemon(stop <-chan struct{}, onResult func(Result)) error {
	lock := NewLock(s.lockPath)
	ok, err := lock.TryAcquire()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("autoloop: already running for %s", s.opts.Repo)
	}
	defer lock.Release()

	watcher, watchErr := fsnotify.NewWatcher()
	if watchErr == nil {
		defer watcher.Close()
		if err := os.MkdirAll(filepath.Dir(s.statePath), 0o755); err == nil {
			_ = watcher.Add(filepath.Dir(s.statePath))
		}
	}

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	var lastMtime time.Time
	haveLast := false

	// evaluate re-runs runOnceLocked whenever state.json's mtime changed
	// since the last successful observation — including the very first
	// one, whether that happens on this call or a later poll/watch tick
	// because state.json didn't exist yet at daemon startup. That first
	// successful observation is passed through as triggerOnMissingState,
	// matching autoloop.py's daemon() initial-state branch ("auto-trigger
	// on first state.json detection if work remains") instead of waiting
	// for a cursor change that may never come if the plan was already
	// sitting at its current cursor when the daemon started.
	evaluate := func() {
		stat, err := os.Stat(s.statePath)
		if err != nil {
			return
		}
		firstObservation := !haveLast
		if haveLast && stat.ModTime().Equal(lastMtime) {
			return
		}
		lastMtime = stat.ModTime()
		haveLast = true

		result, err := s.runOnceLocked(firstObservation)
		if err != nil {
			return
		}
		if onResult != nil {
			onResult(result)
		}
	}

	evaluate()

	for {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
			evaluate()
		case event := <-watcherEvents(watcher):
			if filepath.Clean(event.Name) == filepath.Clean(s.statePath) {
				evaluate()
			}
		}
	}
}

// watcherEvents returns w's event channel, or a nil channel (which never
// fires) when fsnotify failed to initialize — callers select on it
// alongside the poll ticker without a nil-check at every call site.
func watcherEvents(w *fsnotify.Watcher) <-chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}
