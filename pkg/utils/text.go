// Package utils holds small helpers shared across kotae packages.
package utils

import "strings"

// Truncate cuts s to maxLen runes and appends "..." when anything was cut.
// A non-positive maxLen disables truncation.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == maxLen {
			return s[:i] + "..."
		}
		n++
	}
	return s
}

// CollapseWhitespace trims s and joins its words with single spaces.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
