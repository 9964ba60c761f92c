// Package checksum computes the memo digests used for change detection and
// HTTP entity tags.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/starford/memoranda/internal/models"
)

// Memo returns the hex-encoded SHA-256 digest of a memo's title and content.
// The two are separated by a NUL byte so that moving text between them
// changes the digest.
func Memo(m *models.Memo) string {
	h := sha256.New()
	h.Write([]byte(m.Title))
	h.Write([]byte{0})
	h.Write([]byte(m.Content))
	return hex.EncodeToString(h.Sum(nil))
}
