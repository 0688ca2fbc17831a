package autoloop

// Cursor is the caller's current position in its own plan, written into
// state.json under "current" (spec §4.1 "Autoloop state").
type Cursor struct {
	Type      string `json:"type"`
	StepIndex *int   `json:"stepIndex"`
	SubIndex  *int   `json:"subIndex"`
}

// Equal reports whether two cursors point at the same position.
func (c Cursor) Equal(other Cursor) bool {
	if c.Type != other.Type {
		return false
	}
	return intPtrEqual(c.StepIndex, other.StepIndex) && intPtrEqual(c.SubIndex, other.SubIndex)
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// cursorFromState extracts the cursor from a parsed state.json document,
// defaulting to type "none" when "current" is absent.
func cursorFromState(state *State) Cursor {
	if state == nil || state.Current == nil {
		return Cursor{Type: "none"}
	}
	c := *state.Current
	if c.Type == "" {
		c.Type = "none"
	}
	return c
}
