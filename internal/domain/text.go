package domain

import (
	"strings"
	"unicode/utf8"
)

// CleanText makes s safe to store in a text column: invalid UTF-8 becomes
// U+FFFD, NUL bytes are dropped, and anything over max bytes is cut on a rune
// boundary with "..." appended. max <= 0 disables the cut.
func CleanText(s string, max int) string {
	s = strings.ToValidUTF8(s, "�")
	s = strings.ReplaceAll(s, "\x00", "")
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
