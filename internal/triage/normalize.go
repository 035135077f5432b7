package triage

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize lower-cases text, strips diacritics and collapses everything
// that is not a letter or digit into single spaces, so "Não" and "nao"
// compare equal.
func Normalize(text string) string {
	lowered := strings.ToLower(text)
	// transform.Chain keeps state, so it is built per call.
	stripper := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(stripper, lowered)
	if err != nil {
		stripped = lowered
	}

	var b strings.Builder
	b.Grow(len(stripped))
	pendingSpace := false
	for _, r := range stripped {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}

// keywordSet matches normalized keywords at word starts. A keyword written
// with a trailing space ("ti ") only matches the whole word.
type keywordSet []string

// first returns the first keyword found in normalized text.
func (k keywordSet) first(normalized string) (string, bool) {
	padded := " " + normalized + " "
	for _, keyword := range k {
		if strings.Contains(padded, " "+keyword) {
			return keyword, true
		}
	}
	return "", false
}

func (k keywordSet) matches(normalized string) bool {
	_, ok := k.first(normalized)
	return ok
}
