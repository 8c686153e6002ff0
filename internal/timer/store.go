package timer

import (
	"sort"
	"sync"
)

// Store is the abstraction over timer record storage. The in-memory
// implementation is the only one today; the interface keeps dispatch and
// refresh logic independent of the backing so tests can substitute a fake.
type Store interface {
	Get(key Key) (Record, bool)
	Put(key Key, rec Record)
	Delete(key Key)
	// Snapshot returns a copy of all records.
	Snapshot() map[Key]Record
}

// MemoryStore is a mutex-guarded in-process Store. State is volatile and
// lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[Key]Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Key]Record)}
}

func (s *MemoryStore) Get(key Key) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	return rec, ok
}

func (s *MemoryStore) Put(key Key, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = rec
}

func (s *MemoryStore) Delete(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
}

func (s *MemoryStore) Snapshot() map[Key]Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Key]Record, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

// RunningKeys returns the keys of all running timers in the snapshot, sorted
// for deterministic iteration.
func RunningKeys(snapshot map[Key]Record) []Key {
	var keys []Key
	for k, rec := range snapshot {
		if rec.Running() {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].UserID != keys[j].UserID {
			return keys[i].UserID < keys[j].UserID
		}
		return keys[i].TaskID < keys[j].TaskID
	})
	return keys
}
