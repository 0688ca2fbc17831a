package autoloop

import "github.com/stefanc-ai2/claude-code-bridge/internal/terminal"

// fakeBackend records every SendText call instead of driving a real
// terminal multiplexer, so trigger/supervisor tests can assert on what
// was injected without a live pane.
type fakeBackend struct {
	sent []string
	err  error
}

func (f *fakeBackend) Kind() string { return "fake" }

func (f *fakeBackend) SendText(paneID, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeBackend) IsAlive(paneID string) bool { return true }

func (f *fakeBackend) FindPaneByTitleMarker(marker string) (string, bool) { return "", false }

func (f *fakeBackend) CapturePaneText(paneID string, n int) (string, error) { return "", nil }

func (f *fakeBackend) KillPane(paneID string) error { return nil }

func (f *fakeBackend) Activate(paneID string) error { return nil }

func (f *fakeBackend) CreatePane(opts terminal.CreatePaneOptions) (string, error) { return "", nil }

var _ terminal.Backend = (*fakeBackend)(nil)
