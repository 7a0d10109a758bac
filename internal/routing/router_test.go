package routing

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/finlake/tradeflow/model"
)

const (
	bankTable         = "bank_trade_records"
	counterpartyTable = "counterparty_trade_records"
)

func newTestRouter(store RecordStore) *Router {
	return NewRouter(store, bankTable, counterpartyTable, zap.NewNop(), nil)
}

func testRecord(id string) model.CanonicalRecord {
	return model.CanonicalRecord{
		RecordID:      id,
		Counterparty:  "Meridian Capital",
		Amount:        1000000,
		Currency:      "USD",
		EffectiveDate: "2026-01-15",
		CorrelationID: "corr_abc123def456",
		ExtractedAt:   time.Now().UTC(),
	}
}

func TestResolve(t *testing.T) {
	r := newTestRouter(NewMemoryRecordStore())

	cases := []struct {
		classification model.SourceClassification
		want           string
		wantErr        bool
	}{
		{model.SourceBank, bankTable, false},
		{model.SourceCounterparty, counterpartyTable, false},
		{"INTERNAL", "", true},
		{"bank", "", true}, // classification matching is case-sensitive
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := r.Resolve(tc.classification)
		if tc.wantErr {
			if err == nil {
				t.Errorf("Resolve(%q) = %q, want error", tc.classification, got)
				continue
			}
			ee, ok := err.(*model.ErrorEnvelope)
			if !ok || ee.Code != model.ErrRoutingError {
				t.Errorf("Resolve(%q) error = %v, want ROUTING_ERROR", tc.classification, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Resolve(%q) error: %v", tc.classification, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Resolve(%q) = %q, want %q", tc.classification, got, tc.want)
		}
	}
}

func TestStore_routesToDistinctTables(t *testing.T) {
	store := NewMemoryRecordStore()
	r := newTestRouter(store)
	ctx := context.Background()

	table, err := r.Store(ctx, model.SourceBank, testRecord("TRD-1"))
	if err != nil {
		t.Fatalf("Store bank error: %v", err)
	}
	if table != bankTable {
		t.Errorf("table = %q, want %q", table, bankTable)
	}

	table, err = r.Store(ctx, model.SourceCounterparty, testRecord("TRD-2"))
	if err != nil {
		t.Fatalf("Store counterparty error: %v", err)
	}
	if table != counterpartyTable {
		t.Errorf("table = %q, want %q", table, counterpartyTable)
	}

	bankCount, _ := store.Count(ctx, bankTable)
	cpCount, _ := store.Count(ctx, counterpartyTable)
	if bankCount != 1 || cpCount != 1 {
		t.Errorf("counts = (%d, %d), want (1, 1)", bankCount, cpCount)
	}
}

func TestStore_unknownClassificationWritesNothing(t *testing.T) {
	store := NewMemoryRecordStore()
	r := newTestRouter(store)
	ctx := context.Background()

	if _, err := r.Store(ctx, "PARTNER", testRecord("TRD-1")); err == nil {
		t.Fatal("Store with unknown classification should fail")
	}

	bankCount, _ := store.Count(ctx, bankTable)
	cpCount, _ := store.Count(ctx, counterpartyTable)
	if bankCount != 0 || cpCount != 0 {
		t.Errorf("counts = (%d, %d), want (0, 0): no write on routing error", bankCount, cpCount)
	}
}

type captureMetrics struct {
	writes        int
	routingErrors int
}

func (m *captureMetrics) RecordRoutedWrite(string, string) { m.writes++ }
func (m *captureMetrics) RecordRoutingError()              { m.routingErrors++ }

func TestStore_recordsRoutingMetrics(t *testing.T) {
	m := &captureMetrics{}
	r := NewRouter(NewMemoryRecordStore(), bankTable, counterpartyTable, zap.NewNop(), m)
	ctx := context.Background()

	if _, err := r.Store(ctx, model.SourceBank, testRecord("TRD-1")); err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if _, err := r.Store(ctx, "PARTNER", testRecord("TRD-2")); err == nil {
		t.Fatal("Store with unknown classification should fail")
	}

	if m.writes != 1 {
		t.Errorf("routed writes recorded = %d, want 1", m.writes)
	}
	if m.routingErrors != 1 {
		t.Errorf("routing errors recorded = %d, want 1", m.routingErrors)
	}
}

func TestMemoryRecordStore_duplicateInsertConflicts(t *testing.T) {
	store := NewMemoryRecordStore()
	ctx := context.Background()

	if err := store.Insert(ctx, bankTable, testRecord("TRD-1")); err != nil {
		t.Fatalf("first Insert error: %v", err)
	}
	err := store.Insert(ctx, bankTable, testRecord("TRD-1"))
	if err == nil {
		t.Fatal("duplicate Insert should fail")
	}
	ee, ok := err.(*model.ErrorEnvelope)
	if !ok || ee.Code != model.ErrConflict {
		t.Errorf("error = %v, want CONFLICT", err)
	}

	// Same ID in the other table is fine: tables are independent.
	if err := store.Insert(ctx, counterpartyTable, testRecord("TRD-1")); err != nil {
		t.Errorf("Insert into other table error: %v", err)
	}
}

func TestMemoryRecordStore_listOrderedByExtractionTime(t *testing.T) {
	store := NewMemoryRecordStore()
	ctx := context.Background()

	older := testRecord("TRD-OLD")
	older.ExtractedAt = time.Now().Add(-time.Hour)
	newer := testRecord("TRD-NEW")

	store.Insert(ctx, bankTable, newer)
	store.Insert(ctx, bankTable, older)

	records, err := store.List(ctx, bankTable)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len = %d, want 2", len(records))
	}
	if records[0].RecordID != "TRD-OLD" {
		t.Errorf("first record = %q, want TRD-OLD", records[0].RecordID)
	}
}
