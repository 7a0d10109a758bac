package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finlake/tradeflow/model"
)

// PgRecordStore is a PostgreSQL-backed RecordStore using pgx/v5.
// Destination table names are configured, not user input; they are
// whitelisted at startup so interpolating them into SQL is safe.
type PgRecordStore struct {
	pool    *pgxpool.Pool
	allowed map[string]bool
}

// NewPgRecordStore creates a PostgreSQL record store restricted to the
// given destination tables.
func NewPgRecordStore(pool *pgxpool.Pool, tables ...string) *PgRecordStore {
	allowed := make(map[string]bool, len(tables))
	for _, t := range tables {
		allowed[t] = true
	}
	return &PgRecordStore{pool: pool, allowed: allowed}
}

// Insert writes a record into the named table.
func (s *PgRecordStore) Insert(ctx context.Context, table string, rec model.CanonicalRecord) error {
	if !s.allowed[table] {
		return fmt.Errorf("table %q is not a configured destination", table)
	}

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			record_id, counterparty, amount, currency,
			effective_date, maturity_date, product_type,
			correlation_id, source_document, extracted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, table),
		rec.RecordID, rec.Counterparty, rec.Amount, rec.Currency,
		nullable(rec.EffectiveDate), nullable(rec.MaturityDate), rec.ProductType,
		rec.CorrelationID, rec.SourceDocument, rec.ExtractedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.NewConflictError(
				fmt.Sprintf("record %q already exists in %s", rec.RecordID, table),
			)
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// List returns records in the named table ordered by extraction time.
func (s *PgRecordStore) List(ctx context.Context, table string) ([]model.CanonicalRecord, error) {
	if !s.allowed[table] {
		return nil, fmt.Errorf("table %q is not a configured destination", table)
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT record_id, counterparty, amount, currency,
		       effective_date, maturity_date, product_type,
		       correlation_id, source_document, extracted_at
		FROM %s
		ORDER BY extracted_at ASC`, table),
	)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []model.CanonicalRecord
	for rows.Next() {
		var rec model.CanonicalRecord
		var effective, maturity *string
		if err := rows.Scan(
			&rec.RecordID, &rec.Counterparty, &rec.Amount, &rec.Currency,
			&effective, &maturity, &rec.ProductType,
			&rec.CorrelationID, &rec.SourceDocument, &rec.ExtractedAt,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if effective != nil {
			rec.EffectiveDate = *effective
		}
		if maturity != nil {
			rec.MaturityDate = *maturity
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of records in the named table.
func (s *PgRecordStore) Count(ctx context.Context, table string) (int, error) {
	if !s.allowed[table] {
		return 0, fmt.Errorf("table %q is not a configured destination", table)
	}

	var count int
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

// HealthCheck verifies database connectivity for the readiness endpoint.
func (s *PgRecordStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
