package tts

import (
	"strings"
	"unicode"
)

// SplitSentences splits text at '.', '!' or '?' followed by whitespace or end
// of input. Periods that terminate a single-letter token are not boundaries,
// so initials ("A. Smith") and dotted abbreviations ("e.g.") stay inside
// their sentence. Sentences are trimmed; empty ones are dropped.
func SplitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i+1 < len(text) && !unicode.IsSpace(rune(text[i+1])) {
			continue
		}
		if c == '.' && endsSingleLetterToken(text, i) {
			continue
		}
		if s := strings.TrimSpace(text[start : i+1]); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if rem := strings.TrimSpace(text[start:]); rem != "" {
		out = append(out, rem)
	}
	return out
}

// endsSingleLetterToken reports whether the period at index i follows a
// one-letter token, i.e. the letter before it is preceded by start of text,
// whitespace, or another period.
func endsSingleLetterToken(s string, i int) bool {
	if i == 0 {
		return false
	}
	if !unicode.IsLetter(rune(s[i-1])) {
		return false
	}
	if i < 2 {
		return true
	}
	before := rune(s[i-2])
	return before == '.' || unicode.IsSpace(before)
}
