package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/foliosync/portfolio-core/internal/model"
)

// MemoryStore keeps the ledger in memory. Used in tests and when the
// tracker runs without a database (cache-only mode); everything in it
// is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]model.TradeRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]model.TradeRecord)}
}

func (s *MemoryStore) Insert(_ context.Context, r model.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = r
	return nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]model.TradeRecord, 0, len(s.records))
	for _, r := range s.records {
		if f.Matches(r) {
			records = append(records, r)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].ExecutedAt.Equal(records[j].ExecutedAt) {
			return records[i].ExecutedAt.Before(records[j].ExecutedAt)
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return model.TradeRecord{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) Update(_ context.Context, r model.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; !ok {
		return ErrNotFound
	}
	s.records[r.ID] = r
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) IdentityKeys(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make(map[string]string, len(s.records))
	for id, r := range s.records {
		keys[r.IdentityKey()] = id
	}
	return keys, nil
}
