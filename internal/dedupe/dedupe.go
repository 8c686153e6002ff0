// Package dedupe provides bounded remember-sets for webhook retry
// suppression: delivery IDs, completion keys, and note IDs. Keys are hashed
// to fixed 32-byte digests so unbounded caller-supplied strings cannot grow
// memory, and the oldest entries are evicted first once a set is full.
package dedupe

import (
	"container/list"
	"sync"

	"github.com/zeebo/blake3"
)

// Default capacities, matching the sizes the service has run with.
const (
	MaxDeliveries  = 2000
	MaxCompletions = 5000
	MaxNotes       = 5000
)

type digest [32]byte

// Set remembers up to max keys in insertion order.
type Set struct {
	mu    sync.Mutex
	max   int
	index map[digest]*list.Element
	order *list.List // front = oldest
}

// NewSet creates a Set holding at most max keys.
func NewSet(max int) *Set {
	if max <= 0 {
		max = 1
	}
	return &Set{
		max:   max,
		index: make(map[digest]*list.Element),
		order: list.New(),
	}
}

// Seen reports whether key was recorded before, recording it if not.
// The empty key is never deduplicated.
func (s *Set) Seen(key string) bool {
	if key == "" {
		return false
	}

	d := digest(blake3.Sum256([]byte(key)))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[d]; ok {
		return true
	}

	s.index[d] = s.order.PushBack(d)
	if s.order.Len() > s.max {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.index, oldest.Value.(digest))
	}
	return false
}

// Len returns the number of remembered keys.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
