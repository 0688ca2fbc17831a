package jsonretry

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type payload struct {
	Messages []string `json:"messages"`
}

func TestDecodeFileSucceedsOnValidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")
	if err := os.WriteFile(path, []byte(`{"messages":["hi"]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	var p payload
	if err := DecodeFile(path, &p, Options{}); err != nil {
		t.Fatalf("DecodeFile() error: %v", err)
	}
	if len(p.Messages) != 1 || p.Messages[0] != "hi" {
		t.Fatalf("DecodeFile() = %+v, want one message \"hi\"", p)
	}
}

func TestDecodeFileRetriesOnPartialWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")
	// Simulates a truncated in-place rewrite: the file is only half
	// written on the first couple of reads.
	if err := os.WriteFile(path, []byte(`{"messages":["a`), 0o644); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = os.WriteFile(path, []byte(`{"messages":["a","b"]}`), 0o644)
		close(done)
	}()

	var p payload
	err := DecodeFile(path, &p, Options{Attempts: 20, Delay: 10 * time.Millisecond})
	<-done
	if err != nil {
		t.Fatalf("DecodeFile() error after write completed: %v", err)
	}
	if len(p.Messages) != 2 {
		t.Fatalf("DecodeFile() = %+v, want two messages", p)
	}
}

func TestDecodeFileGivesUpAfterAttempts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")
	if err := os.WriteFile(path, []byte(`{"messages":["a"`), 0o644); err != nil {
		t.Fatal(err)
	}

	var p payload
	err := DecodeFile(path, &p, Options{Attempts: 3, Delay: time.Millisecond})
	if err == nil {
		t.Fatalf("DecodeFile() expected an error for permanently-invalid JSON")
	}
}

func TestDecodeFileMissingFileReturnsImmediately(t *testing.T) {
	var p payload
	err := DecodeFile(filepath.Join(t.TempDir(), "missing.json"), &p, Options{})
	if err == nil {
		t.Fatalf("DecodeFile() expected an error for a missing file")
	}
}
