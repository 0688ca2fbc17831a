package maild

import (
	"regexp"
	"strings"
)

// Message is one inbound mail the daemon's Source surfaced. Fetching and
// parsing a real IMAP message into this shape is out of scope (spec
// §4.7) — Source implementations own that; this package only consumes
// the result.
type Message struct {
	From    string
	Subject string
	Body    string
	// WorkDir is the project this message targets. Deriving it from
	// thread history/subject metadata is exactly the message-parsing
	// work spec §4.7 scopes to the Source, not this package — Source
	// implementations are expected to resolve and attach it before
	// handing the Message to Daemon.
	WorkDir string
	// ReqIDHint, when non-empty, threads an existing request id through
	// (e.g. a reply-to-thread email correlating to a prior ask), carried
	// as the wire request's email_req_id.
	ReqIDHint string
	// MsgID is the mail transport's own Message-ID header, carried as the
	// wire request's email_msg_id for the completion hook to address its
	// reply to.
	MsgID string
}

// providerPrefixRe matches the body's leading "PROVIDER: " marker.
// Case-insensitive, matched against the first non-blank line only —
// mirroring the original router's single "does this body start with a
// known provider name" check.
var providerPrefixRe = regexp.MustCompile(`(?i)^\s*(claude|codex|gemini|opencode|droid)\s*:\s*`)

// ParseProviderPrefix extracts the provider key and remaining message
// text from a mail body's leading "PROVIDER: " marker (spec §4.7:
// "extracts a provider name from the body prefix (CLAUDE: …)"). ok is
// false when no known provider prefix is present, in which case the mail
// cannot be routed.
func ParseProviderPrefix(body string) (provider, rest string, ok bool) {
	lines := strings.SplitN(strings.TrimLeft(body, "\r\n"), "\n", 2)
	first := lines[0]
	loc := providerPrefixRe.FindStringSubmatchIndex(first)
	if loc == nil {
		return "", "", false
	}
	provider = strings.ToLower(first[loc[2]:loc[3]])
	remainder := first[loc[1]:]
	if len(lines) > 1 {
		if remainder != "" {
			remainder += "\n"
		}
		remainder += lines[1]
	}
	return provider, strings.TrimSpace(remainder), true
}
