package daemonkit

import "github.com/stefanc-ai2/claude-code-bridge/internal/reqid"

// GenerateToken returns a fresh 128-bit auth token for a daemon to check
// incoming requests against (spec §4.4: "token is 128 random bits at
// startup"). reqid already generates 128 random bits the same way
// (crypto/rand, 32 lowercase hex chars); reusing it here avoids a second
// hand-rolled random-hex generator for what is the same shape of value.
func GenerateToken() string {
	return reqid.New()
}
