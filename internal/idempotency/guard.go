// Package idempotency deduplicates processing requests by correlation ID.
// Admission is atomic: of N concurrent requests with the same correlation
// ID, exactly one is admitted and the rest are rejected as duplicates.
package idempotency

import (
	"context"
	"time"
)

// Guard records correlation IDs and rejects ones seen within the TTL
// window.
type Guard interface {
	// Admit attempts to claim the correlation ID. It returns true if this
	// caller is the first within the TTL window, false if the ID was
	// already claimed. The check and the claim are a single atomic step.
	Admit(ctx context.Context, correlationID string, ttl time.Duration) (bool, error)

	// Release frees the correlation ID before its TTL expires, so a failed
	// request can be retried with the same ID.
	Release(ctx context.Context, correlationID string) error
}

// FormatKey builds the standard dedup key for a correlation ID.
func FormatKey(correlationID string) string {
	return "dedup:" + correlationID
}
