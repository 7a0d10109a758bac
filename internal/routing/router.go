// Package routing directs validated canonical records to the storage table
// owned by their source classification.
package routing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/finlake/tradeflow/model"
)

// Metrics is the subset of instrumentation the router records.
// *observability.Metrics satisfies it; tests may pass nil.
type Metrics interface {
	RecordRoutedWrite(classification, table string)
	RecordRoutingError()
}

// Router resolves a source classification to its destination table and
// persists records there. Routing is total over the known classification
// set; anything else is a fatal routing error and nothing is written.
type Router struct {
	store             RecordStore
	bankTable         string
	counterpartyTable string
	logger            *zap.Logger
	metrics           Metrics
}

// NewRouter creates a router over the given record store. Table names come
// from configuration so deployments can rename destinations without a code
// change.
func NewRouter(store RecordStore, bankTable, counterpartyTable string, logger *zap.Logger, metrics Metrics) *Router {
	return &Router{
		store:             store,
		bankTable:         bankTable,
		counterpartyTable: counterpartyTable,
		logger:            logger,
		metrics:           metrics,
	}
}

// Resolve maps a classification to its destination table. Unknown
// classifications return a routing error, never a default table.
func (r *Router) Resolve(classification model.SourceClassification) (string, error) {
	switch classification {
	case model.SourceBank:
		return r.bankTable, nil
	case model.SourceCounterparty:
		return r.counterpartyTable, nil
	default:
		return "", model.NewRoutingError(
			fmt.Sprintf("unknown source classification %q", classification),
		)
	}
}

// Store resolves the destination for the record's classification and writes
// the record there. On a routing error no write is attempted.
func (r *Router) Store(ctx context.Context, classification model.SourceClassification, rec model.CanonicalRecord) (string, error) {
	table, err := r.Resolve(classification)
	if err != nil {
		r.logger.Error("routing failed, record not persisted",
			zap.String("classification", string(classification)),
			zap.String("record_id", rec.RecordID),
			zap.String("correlation_id", rec.CorrelationID),
		)
		if r.metrics != nil {
			r.metrics.RecordRoutingError()
		}
		return "", err
	}

	if err := r.store.Insert(ctx, table, rec); err != nil {
		return "", fmt.Errorf("routing: insert into %s: %w", table, err)
	}

	r.logger.Info("record routed",
		zap.String("classification", string(classification)),
		zap.String("table", table),
		zap.String("record_id", rec.RecordID),
		zap.String("correlation_id", rec.CorrelationID),
	)
	if r.metrics != nil {
		r.metrics.RecordRoutedWrite(string(classification), table)
	}
	return table, nil
}
