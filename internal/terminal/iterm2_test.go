package terminal

import "testing"

func TestIterm2SendTextRejectsBlank(t *testing.T) {
	b := Iterm2Backend{Bin: "/nonexistent/it2-binary-for-test"}
	if err := b.SendText("session-1", "\r  \r"); err != nil {
		t.Fatalf("SendText with blank-after-sanitize text should no-op, got err: %v", err)
	}
}

func TestIterm2IsAliveFalseOnCLIFailure(t *testing.T) {
	b := Iterm2Backend{Bin: "/nonexistent/it2-binary-for-test"}
	if b.IsAlive("session-1") {
		t.Fatalf("IsAlive() should be false when the it2 CLI can't be run")
	}
}

func TestShellQuote(t *testing.T) {
	cases := map[string]string{
		"/tmp/work":   `'/tmp/work'`,
		"it's/a/path": `'it'\''s/a/path'`,
		"":            `''`,
	}
	for in, want := range cases {
		if got := shellQuote(in); got != want {
			t.Errorf("shellQuote(%q) = %q, want %q", in, got, want)
		}
	}
}
