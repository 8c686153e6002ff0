// Package snippet maintains the timer status marker embedded in a task's
// description. Exactly two marker shapes are recognized:
//
//	(Timer Running: N minutes)
//	(Total Time: XhYmZs)
//
// Upsert strips any existing marker and appends the new one, preserving the
// rest of the user's free-text description.
package snippet

import (
	"regexp"
	"strings"
)

var (
	runningPattern = regexp.MustCompile(`\(Timer Running: \d+ minutes\)`)
	totalPattern   = regexp.MustCompile(`\(Total Time: [^)]*\)`)

	doubledSpaces = regexp.MustCompile(`[ \t]{2,}`)
	trailingLine  = regexp.MustCompile(`[ \t]+\n`)
)

// Marker wraps a status string in the marker parentheses.
func Marker(status string) string {
	return "(" + status + ")"
}

// Upsert returns desc with any timer markers replaced by snippet. When no
// marker is present, snippet is appended after a single space. The snippet
// should already be in marker form, e.g. "(Timer Running: 3 minutes)".
func Upsert(desc, snippet string) string {
	stripped := Strip(desc)
	if stripped == "" {
		return snippet
	}
	return stripped + " " + snippet
}

// Strip removes all timer markers from desc and mends the seam each one
// leaves: doubled spaces collapse to one, line-trailing spaces go, and the
// ends are trimmed. Newlines in the surrounding free text are untouched.
func Strip(desc string) string {
	out := runningPattern.ReplaceAllString(desc, "")
	out = totalPattern.ReplaceAllString(out, "")
	out = doubledSpaces.ReplaceAllString(out, " ")
	out = trailingLine.ReplaceAllString(out, "\n")
	return strings.TrimSpace(out)
}

// HasMarker reports whether desc contains a recognized timer marker.
func HasMarker(desc string) bool {
	return runningPattern.MatchString(desc) || totalPattern.MatchString(desc)
}
