// Package idgen produces sortable, unique memo identifiers (ULIDs).
package idgen

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Length is the length of an encoded identifier.
const Length = ulid.EncodedSize

// Generator issues ULIDs that are strictly increasing within the process.
// Safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
	last    ulid.ULID
}

// New returns a Generator backed by crypto/rand.
func New() *Generator {
	return NewWithSource(rand.Reader, time.Now)
}

// NewWithSource returns a Generator reading randomness from r and time from now.
func NewWithSource(r io.Reader, now func() time.Time) *Generator {
	return &Generator{
		entropy: ulid.Monotonic(r, 0),
		now:     now,
	}
}

// New returns the next identifier.
func (g *Generator) New() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := ulid.Timestamp(g.now())
	// Never step backwards when the wall clock does.
	if last := g.last.Time(); g.last != (ulid.ULID{}) && ms < last {
		ms = last
	}
	id, err := ulid.New(ms, g.entropy)
	if err != nil {
		// Monotonic entropy overflowed within this millisecond; move on to the next one.
		id, err = ulid.New(ms+1, g.entropy)
		if err != nil {
			return "", err
		}
	}
	g.last = id
	return id.String(), nil
}

// Valid reports whether s is a well-formed identifier.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	u, err := ulid.ParseStrict(s)
	// Canonical upper-case form only, so ids compare byte-wise.
	return err == nil && u.String() == s
}

// Time returns the creation time embedded in id.
func Time(id string) (time.Time, bool) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()).UTC(), true
}
