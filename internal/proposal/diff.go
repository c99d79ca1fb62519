package proposal

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// GenerateDiff renders a unified diff of oldText against newText. Headers
// are always present, so identical inputs yield only the two header lines.
func GenerateDiff(oldText, newText, oldLabel, newLabel string) string {
	if oldLabel == "" {
		oldLabel = "old"
	}
	if newLabel == "" {
		newLabel = "new"
	}
	header := "--- " + oldLabel + "\n+++ " + newLabel + "\n"
	if oldText == newText {
		return header
	}
	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(oldText),
		B:        splitLines(newText),
		FromFile: oldLabel,
		ToFile:   newLabel,
		Context:  3,
	})
	if err != nil || out == "" {
		return header
	}
	return out
}

// splitLines splits text into newline-terminated lines. Empty text has no
// lines, and a missing final newline is supplied.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	} else {
		lines[len(lines)-1] += "\n"
	}
	return lines
}

// ChangeLines returns the +/- lines of a unified diff, excluding headers.
func ChangeLines(diff string) (added, removed []string) {
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++ "), strings.HasPrefix(line, "--- "):
		case strings.HasPrefix(line, "+"):
			added = append(added, line)
		case strings.HasPrefix(line, "-"):
			removed = append(removed, line)
		}
	}
	return added, removed
}
