package daemonkit

import "testing"

func TestLockSingleInstance(t *testing.T) {
	withTempHome(t)

	a := NewLock("gaskd")
	ok, err := a.TryAcquire()
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	defer a.Release()

	b := NewLock("gaskd")
	ok, err = b.TryAcquire()
	if err != nil {
		t.Fatalf("second acquire err: %v", err)
	}
	if ok {
		t.Fatal("second acquire succeeded, want held by first")
	}

	if err := a.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	c := NewLock("gaskd")
	ok, err = c.TryAcquire()
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
	c.Release()
}
