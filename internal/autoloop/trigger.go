package autoloop

import (
	"fmt"
	"time"

	"github.com/stefanc-ai2/claude-code-bridge/internal/terminal"
)

// preTriggerDelay gives the caller's TUI time to finish rendering the
// state transition that advanced the cursor before the autoloop drives
// it again (spec §4.6: "The 5 s pre-delay is intentional").
const preTriggerDelay = 5 * time.Second

// postClearDelay is the settle time between injecting /clear and /tr.
const postClearDelay = 2 * time.Second

// trigger injects /clear (when doClear) followed by /tr into the
// caller's pane, per spec §4.6 step 5.
func trigger(backend terminal.Backend, paneID string, doClear bool, sleep func(time.Duration)) error {
	sleep(preTriggerDelay)
	if doClear {
		if err := backend.SendText(paneID, "/clear"); err != nil {
			return fmt.Errorf("autoloop: inject /clear: %w", err)
		}
		sleep(postClearDelay)
	}
	if err := backend.SendText(paneID, "/tr"); err != nil {
		return fmt.Errorf("autoloop: inject /tr: %w", err)
	}
	return nil
}
