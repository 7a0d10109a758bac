// Package status persists workflow sessions and applies per-stage partial
// updates without clobbering sibling stages.
package status

import (
	"context"
	"time"

	"github.com/finlake/tradeflow/model"
)

// SessionStore persists workflow sessions.
type SessionStore interface {
	// Create persists a new session. Returns CONFLICT if the session ID
	// already exists.
	Create(ctx context.Context, session model.WorkflowSession) error

	// Get retrieves a session by ID. Returns NOT_FOUND if it does not
	// exist.
	Get(ctx context.Context, sessionID string) (model.WorkflowSession, error)

	// UpdateStage applies a partial update to one stage of a session.
	// Fields of other stages are untouched. Returns NOT_FOUND for unknown
	// sessions and CONFLICT when the session is already terminal.
	UpdateStage(ctx context.Context, sessionID, stage string, status model.StageStatus) error

	// SetOverallStatus moves the session's overall status. Terminal states
	// are sticky: transitioning away from completed or failed returns
	// CONFLICT.
	SetOverallStatus(ctx context.Context, sessionID, overall, errMsg string) error

	// FindExpired returns session IDs whose expires_at is before cutoff.
	FindExpired(ctx context.Context, cutoff time.Time) ([]string, error)

	// Delete removes a session and its stage rows.
	Delete(ctx context.Context, sessionID string) error
}
