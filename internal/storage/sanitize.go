package storage

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/starford/memoranda/internal/idgen"
)

const (
	memoExt      = ".md"
	maxStemRunes = 100
	// Keeps "<stem>-<id>.md" under the common 255-byte name limit.
	maxStemBytes = 200
	fallbackStem = "memo"
)

// SanitizeTitle turns a memo title into a file-name-safe stem. Unicode
// letters are kept; path separators, reserved characters and control
// characters become underscores.
func SanitizeTitle(title string) string {
	title = norm.NFC.String(title)

	var b strings.Builder
	b.Grow(len(title))
	space := false
	for _, r := range title {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r), unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r':
			b.WriteRune('_')
			space = false
		case unicode.IsSpace(r):
			if !space {
				b.WriteRune(' ')
			}
			space = true
		default:
			b.WriteRune(r)
			space = false
		}
	}

	stem := strings.Trim(b.String(), ". ")
	if utf8.RuneCountInString(stem) > maxStemRunes {
		stem = string([]rune(stem)[:maxStemRunes])
	}
	for len(stem) > maxStemBytes {
		_, size := utf8.DecodeLastRuneInString(stem)
		stem = stem[:len(stem)-size]
	}
	stem = strings.TrimRight(stem, ". ")
	if stem == "" {
		return fallbackStem
	}
	return stem
}

// fileName returns the file name a memo with this title and id is stored under.
func fileName(title, id string) string {
	return SanitizeTitle(title) + "-" + id + memoExt
}

// splitName extracts the id and the title-derived stem from a memo file name.
// ok is false when the name carries no id suffix.
func splitName(name string) (stem, id string, ok bool) {
	base := strings.TrimSuffix(name, memoExt)
	if base == name || len(base) < idgen.Length+1 {
		return base, "", false
	}
	cut := len(base) - idgen.Length
	if base[cut-1] != '-' || !idgen.Valid(base[cut:]) {
		return base, "", false
	}
	return base[:cut-1], base[cut:], true
}

// titleFromStem recovers a readable title from a file stem for files
// written without a header.
func titleFromStem(stem string) string {
	t := strings.TrimSpace(strings.ReplaceAll(stem, "_", " "))
	if t == "" {
		return fallbackStem
	}
	return t
}

func isMemoFile(name string) bool {
	return filepath.Ext(name) == memoExt && !strings.HasPrefix(name, tempPrefix)
}

// MemoID returns the id carried by the name of a memo file. Temporary files
// and names without an id suffix yield false.
func MemoID(name string) (string, bool) {
	if !isMemoFile(name) {
		return "", false
	}
	_, id, ok := splitName(name)
	return id, ok
}
