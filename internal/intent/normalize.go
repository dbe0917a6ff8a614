package intent

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases text, replaces every rune that is not a letter, number
// or whitespace with a space, collapses whitespace runs and trims the result.
// Input is NFC-composed first so decomposed diacritics stay attached to their
// base letters instead of being stripped as marks.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	lowered := strings.ToLower(norm.NFC.String(text))

	var sb strings.Builder
	sb.Grow(len(lowered))
	pendingSpace := false
	for _, r := range lowered {
		if !unicode.IsLetter(r) && !unicode.IsNumber(r) {
			pendingSpace = true
			continue
		}
		if pendingSpace && sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		pendingSpace = false
		sb.WriteRune(r)
	}
	return sb.String()
}
