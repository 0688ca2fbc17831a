// Package reqid generates the 128-bit opaque request identifiers used to
// correlate a delegated prompt with its reply (spec §3: 32 lowercase hex
// characters, process-wide uniqueness required).
package reqid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// New returns a fresh 32-character lowercase hex request id.
func New() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand.Read on a supported platform does not fail; a
		// failure here means the OS entropy source is broken, which is
		// not a condition callers can usefully recover from.
		panic(fmt.Sprintf("reqid: crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(b[:])
}

// Valid reports whether s has the shape of a request id produced by New.
func Valid(s string) bool {
	if len(s) != 32 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
