// Package keylock provides striped mutexes keyed by string.
package keylock

import (
	"hash/fnv"
	"sync"
)

// DefaultStripes is used when a non-positive stripe count is requested.
const DefaultStripes = 64

// Striped maps keys onto a fixed set of mutexes. Two keys may share a
// stripe, so holding a key's lock never requires a second one.
type Striped struct {
	stripes []sync.Mutex
}

// New creates a Striped lock with n stripes.
func New(n int) *Striped {
	if n <= 0 {
		n = DefaultStripes
	}
	return &Striped{stripes: make([]sync.Mutex, n)}
}

// Lock acquires the stripe of key and returns its unlock function.
func (s *Striped) Lock(key string) func() {
	m := &s.stripes[s.index(key)]
	m.Lock()
	return m.Unlock
}

// Len returns the stripe count.
func (s *Striped) Len() int {
	return len(s.stripes)
}

func (s *Striped) index(key string) int {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int(h.Sum64() % uint64(len(s.stripes)))
}
