package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var blankRuns = regexp.MustCompile(`\n{3,}`)

// NormalizePageText cleans extracted page text: invalid UTF-8 is replaced, line
// endings become LF, trailing whitespace is trimmed from each line and runs of
// blank lines collapse to a single paragraph break.
func NormalizePageText(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	s = strings.Join(lines, "\n")
	return blankRuns.ReplaceAllString(s, "\n\n")
}
