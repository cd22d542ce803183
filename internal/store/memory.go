package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps usage records in process memory. It is the default
// backend for single-instance deployments and the workhorse of the test
// suite. Records are never evicted; a restart starts from an empty window
// and the sliding aggregations refill as traffic arrives.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Insert appends a copy of rec.
func (s *MemoryStore) Insert(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records = append(s.records, &cp)
	return nil
}

// Aggregate scans all records for the provider/model pair since the given
// instant (inclusive).
func (s *MemoryStore) Aggregate(_ context.Context, provider, model string, since time.Time) (Window, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var w Window
	for _, rec := range s.records {
		if rec.Provider != provider || rec.Model != model {
			continue
		}
		if rec.Timestamp.Before(since) {
			continue
		}
		w.Requests++
		w.Tokens += rec.TotalTokens
	}
	return w, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Records returns a snapshot copy of all stored records in insertion order.
func (s *MemoryStore) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	return out
}
