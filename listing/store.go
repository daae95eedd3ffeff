package listing

import "sync"

// Store is an append-only record log. Records must read back in the
// order they were appended; current state is always a fold over them.
type Store interface {
	Append(rec Record) error
	Records() ([]Record, error)
}

// MemStore keeps records in memory. Used by tests and usable as a
// throwaway ledger for dry runs.
type MemStore struct {
	mu   sync.Mutex
	recs []Record
}

func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *MemStore) Records() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.recs))
	copy(out, s.recs)
	return out, nil
}
