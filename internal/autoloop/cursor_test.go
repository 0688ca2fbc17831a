package autoloop

import "testing"

func intp(n int) *int { return &n }

func TestCursorEqual(t *testing.T) {
	cases := []struct {
		name string
		a, b Cursor
		want bool
	}{
		{"same type no indices", Cursor{Type: "none"}, Cursor{Type: "none"}, true},
		{"different type", Cursor{Type: "none"}, Cursor{Type: "step"}, false},
		{"same indices", Cursor{Type: "step", StepIndex: intp(1)}, Cursor{Type: "step", StepIndex: intp(1)}, true},
		{"different indices", Cursor{Type: "step", StepIndex: intp(1)}, Cursor{Type: "step", StepIndex: intp(2)}, false},
		{"one nil one set", Cursor{Type: "step", StepIndex: intp(1)}, Cursor{Type: "step"}, false},
		{"both nil substep", Cursor{Type: "step", StepIndex: intp(1)}, Cursor{Type: "step", StepIndex: intp(1)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Equal(tc.b); got != tc.want {
				t.Errorf("Equal() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCursorFromStateMissingCurrent(t *testing.T) {
	c := cursorFromState(&State{})
	if c.Type != "none" {
		t.Errorf("Type = %q, want none", c.Type)
	}
}

func TestCursorFromStateNilState(t *testing.T) {
	c := cursorFromState(nil)
	if c.Type != "none" {
		t.Errorf("Type = %q, want none", c.Type)
	}
}

func TestCursorFromStatePresent(t *testing.T) {
	state := &State{Current: &Cursor{Type: "step", StepIndex: intp(2), SubIndex: intp(0)}}
	c := cursorFromState(state)
	if c.Type != "step" || *c.StepIndex != 2 || *c.SubIndex != 0 {
		t.Errorf("cursorFromState() = %+v", c)
	}
}
