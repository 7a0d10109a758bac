package routing

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/finlake/tradeflow/model"
)

// MemoryRecordStore is an in-memory RecordStore for testing and
// single-instance deployments.
type MemoryRecordStore struct {
	mu     sync.RWMutex
	tables map[string][]model.CanonicalRecord // key: table name
}

// NewMemoryRecordStore creates a new in-memory record store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		tables: make(map[string][]model.CanonicalRecord),
	}
}

// Insert writes a record into the named table.
func (s *MemoryRecordStore) Insert(_ context.Context, table string, rec model.CanonicalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.tables[table] {
		if existing.RecordID == rec.RecordID {
			return model.NewConflictError(
				fmt.Sprintf("record %q already exists in %s", rec.RecordID, table),
			)
		}
	}

	s.tables[table] = append(s.tables[table], rec)
	return nil
}

// List returns records in the named table ordered by extraction time.
func (s *MemoryRecordStore) List(_ context.Context, table string) ([]model.CanonicalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.tables[table]
	result := make([]model.CanonicalRecord, len(records))
	copy(result, records)
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExtractedAt.Before(result[j].ExtractedAt)
	})
	return result, nil
}

// Count returns the number of records in the named table.
func (s *MemoryRecordStore) Count(_ context.Context, table string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[table]), nil
}
