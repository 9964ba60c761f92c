package memostore

import (
	"hash/fnv"
	"sync"
)

const numStripes = 256

// stripes serializes operations on the same id without one mutex per memo.
type stripes [numStripes]sync.RWMutex

func (s *stripes) of(id string) *sync.RWMutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s[h.Sum32()%numStripes]
}
