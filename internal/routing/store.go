package routing

import (
	"context"

	"github.com/finlake/tradeflow/model"
)

// RecordStore persists canonical records into named destination tables.
type RecordStore interface {
	// Insert writes one canonical record into the given table. Inserting a
	// record whose ID already exists in that table returns CONFLICT.
	Insert(ctx context.Context, table string, rec model.CanonicalRecord) error

	// List returns all records in the given table, ordered by extraction
	// time ascending.
	List(ctx context.Context, table string) ([]model.CanonicalRecord, error)

	// Count returns the number of records in the given table.
	Count(ctx context.Context, table string) (int, error)
}
