// Package diff computes error-set deltas between consecutive validation
// attempts using the sergi/go-diff engine.
package diff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Delta describes how one attempt's errors moved relative to the previous
// attempt. Persisted errors are the interesting ones: they survived a fix
// round and feed the stall diagnosis.
type Delta struct {
	Added     []string `json:"added,omitempty"`
	Removed   []string `json:"removed,omitempty"`
	Persisted []string `json:"persisted,omitempty"`
}

// Empty reports whether nothing changed and nothing persisted.
func (d *Delta) Empty() bool {
	return d == nil || (len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Persisted) == 0)
}

// Resolved reports whether the attempt cleared at least one prior error
// without introducing new ones.
func (d *Delta) Resolved() bool {
	return d != nil && len(d.Removed) > 0 && len(d.Added) == 0
}

var dmp = func() *diffmatchpatch.DiffMatchPatch {
	d := diffmatchpatch.New()
	d.DiffTimeout = 0
	return d
}()

// Errors computes the delta between two ordered error lists. Inputs are
// expected to be normalized signatures so that volatile detail does not
// show up as churn.
func Errors(prev, cur []string) *Delta {
	delta := &Delta{}
	if len(prev) == 0 && len(cur) == 0 {
		return delta
	}

	oldText := joinLines(prev)
	newText := joinLines(cur)

	a, b, lineArray := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	for _, d := range diffs {
		for _, line := range splitLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				delta.Added = append(delta.Added, line)
			case diffmatchpatch.DiffDelete:
				delta.Removed = append(delta.Removed, line)
			case diffmatchpatch.DiffEqual:
				delta.Persisted = append(delta.Persisted, line)
			}
		}
	}
	return delta
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func splitLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}
