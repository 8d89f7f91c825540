package trace

import (
	"context"
	"sync"
)

// Filter narrows a trace query. Zero fields match everything.
type Filter struct {
	SessionID string
	RequestID string
	Stage     string
	Provider  string
	Limit     int
}

// Store persists trace records.
type Store interface {
	Store(ctx context.Context, rec *Record) error
	Query(ctx context.Context, filter Filter) ([]*Record, error)
	Close() error
}

// MemoryStore keeps records in a bounded in-memory ring. Oldest records are
// evicted when the limit is reached.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
	limit   int
}

// NewMemoryStore creates a memory store holding at most limit records.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = 10000
	}
	return &MemoryStore{limit: limit}
}

func (s *MemoryStore) Store(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	if len(s.records) > s.limit {
		s.records = s.records[len(s.records)-s.limit:]
	}
	return nil
}

func (s *MemoryStore) Query(_ context.Context, filter Filter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, rec := range s.records {
		if !matches(rec, filter) {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func matches(rec *Record, f Filter) bool {
	if f.SessionID != "" && rec.SessionID != f.SessionID {
		return false
	}
	if f.RequestID != "" && rec.RequestID != f.RequestID {
		return false
	}
	if f.Stage != "" && rec.Stage != f.Stage {
		return false
	}
	if f.Provider != "" && rec.Provider != f.Provider {
		return false
	}
	return true
}
