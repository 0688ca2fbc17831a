package autoloop

import (
	"encoding/json"
	"fmt"
	"os"
)

// activeStatuses are the step/substep statuses that mean "work remains",
// per spec §4.6 step 2.
var activeStatuses = map[string]bool{"todo": true, "doing": true}

// Substep is one entry of a Step's "substeps" array.
type Substep struct {
	Status string `json:"status"`
}

// Step is one entry of state.json's "steps" array.
type Step struct {
	Status   string    `json:"status"`
	Substeps []Substep `json:"substeps"`
}

// State is the caller-written state.json document (spec §4.1 "Autoloop
// state"): a cursor plus a flat list of steps, each optionally carrying
// substeps.
type State struct {
	Current *Cursor `json:"current"`
	Steps   []Step  `json:"steps"`
}

// loadState reads and parses state.json at path. A missing file is not an
// error — it reports (nil, nil), matching the "noop" outcome spec §4.6
// step 1 calls for.
func loadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("autoloop: read %s: %w", path, err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		// A torn write (caller mid-save) is treated the same as "no state
		// yet" rather than a hard error — the next poll tick will retry.
		return nil, nil
	}
	return &state, nil
}

// hasRemainingWork reports whether any step or substep still has status
// "todo" or "doing" (spec §4.6 step 2). A state with an unrecognized or
// missing "steps" field is conservatively treated as having work left,
// matching the original's "not a list => assume true" behavior.
func hasRemainingWork(state *State) bool {
	cursor := cursorFromState(state)
	if cursor.Type == "none" {
		return false
	}
	if state == nil || state.Steps == nil {
		return true
	}
	for _, step := range state.Steps {
		if activeStatuses[step.Status] {
			return true
		}
		for _, sub := range step.Substeps {
			if activeStatuses[sub.Status] {
				return true
			}
		}
	}
	return false
}
