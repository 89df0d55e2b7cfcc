// Package normalize canonicalizes raw error text into comparison-stable
// signatures. Two raw messages differing only in numeric or positional
// detail (line numbers, columns, paths, counters) normalize identically,
// which is what makes recurring failures recognizable across attempts
// and workers.
package normalize

import (
	"regexp"
	"strings"
)

var (
	lineRe       = regexp.MustCompile(`\bline\s+\d+`)
	columnRe     = regexp.MustCompile(`\bcolumn\s+\d+`)
	atPathRe     = regexp.MustCompile(`\bat\s+[^\s]*[/\\][^\s]*`)
	intRe        = regexp.MustCompile(`\b\d+\b`)
	punctRe      = regexp.MustCompile(`[^\w\s<>]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Signature canonicalizes a raw error string. The transform is pure and
// deterministic: lowercase, positional placeholders, punctuation stripped,
// standalone integers replaced, whitespace collapsed.
func Signature(raw string) string {
	s := strings.ToLower(raw)

	// Positional placeholders first, so their digits survive as one token.
	s = lineRe.ReplaceAllString(s, "line <n>")
	s = columnRe.ReplaceAllString(s, "column <n>")
	s = atPathRe.ReplaceAllString(s, "at <path>")

	s = punctRe.ReplaceAllString(s, " ")
	s = intRe.ReplaceAllString(s, "<n>")
	s = whitespaceRe.ReplaceAllString(s, " ")

	return strings.TrimSpace(s)
}
