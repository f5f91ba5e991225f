package fixture

import (
	"strings"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/text/unicode/norm"
)

// Normalize canonicalizes captured SQL output before comparison:
// NFC unicode normalization, CRLF to LF, trailing whitespace stripped per
// line, and trailing blank lines dropped. Expected files authored on
// different platforms then compare byte-stable.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// Diff compares expected against actual output after normalization and
// returns a line-oriented diff, or "" when they match.
func Diff(expected, actual string) string {
	want := strings.Split(Normalize(expected), "\n")
	got := strings.Split(Normalize(actual), "\n")
	return cmp.Diff(want, got)
}
