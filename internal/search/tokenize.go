package search

import (
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Token is one searchable word. Start and End are byte offsets into the
// NFC-normalized input.
type Token struct {
	Text       string
	Start, End int
}

// Normalize applies the normalization used before tokenizing.
func Normalize(s string) string {
	return norm.NFC.String(s)
}

// Tokenize splits s into case-folded runs of letters and digits. Combining
// marks stay attached to the word they follow. The position of a token is
// its index in the returned slice.
func Tokenize(s string) []Token {
	s = Normalize(s)
	// A Caser keeps state and must not be shared between goroutines.
	fold := cases.Fold()

	var out []Token
	start := -1
	for i, r := range s {
		inWord := unicode.IsLetter(r) || unicode.IsDigit(r) || (start >= 0 && unicode.Is(unicode.M, r))
		switch {
		case inWord && start < 0:
			start = i
		case !inWord && start >= 0:
			out = append(out, Token{Text: fold.String(s[start:i]), Start: start, End: i})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, Token{Text: fold.String(s[start:]), Start: start, End: len(s)})
	}
	return out
}

// Terms returns just the folded token texts of s.
func Terms(s string) []string {
	toks := Tokenize(s)
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.Text
	}
	return out
}

// runeOffset converts a byte offset in s to a rune offset.
func runeOffset(s string, byteOff int) int {
	return utf8.RuneCountInString(s[:byteOff])
}
