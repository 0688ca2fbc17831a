// Package protocol implements the request/reply correlation sentinels shared
// by every provider adapter (spec §4.1): a request-id anchor placed at the
// top of the wrapped prompt, and a done line the provider is instructed to
// emit verbatim at the end of its reply.
package protocol

import (
	"regexp"
	"strings"
)

const (
	// ReqIDPrefix anchors the request id at the top of a wrapped prompt.
	ReqIDPrefix = "CCB_REQ_ID:"
	// DonePrefix marks the final line of a completed reply.
	DonePrefix = "CCB_DONE:"

	// harnessDoneMarker is a trailing sentinel some harnesses append after
	// our own done line; it must be stripped before done-detection and
	// reply extraction look at the "last non-empty line".
	harnessDoneMarker = "HARNESS_DONE"
)

var doneLineTemplate = `^\s*` + regexp.QuoteMeta(DonePrefix) + `\s*%s\s*$`

func doneLineRe(reqID string) *regexp.Regexp {
	return regexp.MustCompile(strings.Replace(doneLineTemplate, "%s", regexp.QuoteMeta(reqID), 1))
}

// WrapRequestPrompt builds the prompt text delivered to the provider TUI.
// It always contains the anchor line and ends with exactly one trailing
// newline after the done-line instruction (property 4 in spec §8).
func WrapRequestPrompt(message, reqID string) string {
	message = strings.TrimRight(message, "\r\n \t")
	var b strings.Builder
	b.WriteString(ReqIDPrefix)
	b.WriteByte(' ')
	b.WriteString(reqID)
	b.WriteString("\n\n")
	b.WriteString(message)
	b.WriteString("\n\n")
	b.WriteString("IMPORTANT:\n")
	b.WriteString("- Reply normally.\n")
	b.WriteString("- End your reply with this exact final line (verbatim, on its own line):\n")
	b.WriteString(DonePrefix)
	b.WriteByte(' ')
	b.WriteString(reqID)
	b.WriteByte('\n')
	return b.String()
}

// trimmedLines splits text on "\n", dropping a single trailing harness
// marker line first (spec §4.1: done-detection and reply extraction both
// operate on the text with that marker already removed).
func trimmedLines(text string) []string {
	lines := strings.Split(text, "\n")
	if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == harnessDoneMarker {
		lines = lines[:n-1]
	}
	return lines
}

// lastNonEmptyIndex returns the index of the last non-blank line in lines,
// or -1 if all lines are blank.
func lastNonEmptyIndex(lines []string) int {
	i := len(lines) - 1
	for i >= 0 && strings.TrimSpace(lines[i]) == "" {
		i--
	}
	return i
}

// IsDoneText reports whether the last non-empty line of text (after
// stripping a trailing harness marker) is exactly the done line for reqID.
func IsDoneText(text, reqID string) bool {
	lines := trimmedLines(text)
	i := lastNonEmptyIndex(lines)
	if i < 0 {
		return false
	}
	return doneLineRe(reqID).MatchString(strings.TrimSpace(lines[i]))
}

// StripDoneText removes, from the tail of text: trailing blank lines, the
// trailing harness marker, and the final done line for reqID. If the last
// non-empty line is not this req's done line (e.g. a different request's
// sentinel, spec §8 S5), only the harness marker is dropped and the rest is
// left untouched — callers should only treat the result as the final reply
// when IsDoneText(text, reqID) is true.
func StripDoneText(text, reqID string) string {
	base := trimmedLines(text)
	lines := base
	if i := lastNonEmptyIndex(base); i >= 0 && doneLineRe(reqID).MatchString(strings.TrimSpace(base[i])) {
		lines = base[:i]
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n \t")
}
