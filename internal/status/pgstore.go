package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finlake/tradeflow/model"
)

// PgSessionStore is a PostgreSQL-backed SessionStore using pgx/v5.
// Sessions and their stage states live in separate tables so a stage
// update touches one row and never rewrites its siblings.
type PgSessionStore struct {
	pool *pgxpool.Pool
}

// NewPgSessionStore creates a new PostgreSQL session store.
func NewPgSessionStore(pool *pgxpool.Pool) *PgSessionStore {
	return &PgSessionStore{pool: pool}
}

// Create inserts a session and one row per pipeline stage.
func (s *PgSessionStore) Create(ctx context.Context, session model.WorkflowSession) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO sessions (
			session_id, correlation_id, document_ref, source_classification,
			overall_status, error, created_at, last_updated, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		session.SessionID, session.CorrelationID, session.DocumentRef,
		session.SourceClassification, session.OverallStatus, session.Error,
		session.CreatedAt, session.LastUpdated, session.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.NewConflictError(
				fmt.Sprintf("session %q already exists", session.SessionID),
			)
		}
		return fmt.Errorf("insert session: %w", err)
	}

	for _, stage := range model.PipelineStages {
		st := session.Stages[stage]
		if _, err := tx.Exec(ctx, `
			INSERT INTO session_stages (session_id, stage, status)
			VALUES ($1, $2, $3)`,
			session.SessionID, stage, st.Status,
		); err != nil {
			return fmt.Errorf("insert session stage: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// Get retrieves a session with all its stage rows.
func (s *PgSessionStore) Get(ctx context.Context, sessionID string) (model.WorkflowSession, error) {
	var session model.WorkflowSession
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, correlation_id, document_ref, source_classification,
		       overall_status, error, created_at, last_updated, expires_at
		FROM sessions
		WHERE session_id = $1`,
		sessionID,
	).Scan(
		&session.SessionID, &session.CorrelationID, &session.DocumentRef,
		&session.SourceClassification, &session.OverallStatus, &session.Error,
		&session.CreatedAt, &session.LastUpdated, &session.ExpiresAt,
	)
	if err == pgx.ErrNoRows {
		return model.WorkflowSession{}, model.NewNotFoundError(
			fmt.Sprintf("session %q not found", sessionID),
		)
	}
	if err != nil {
		return model.WorkflowSession{}, fmt.Errorf("query session: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT stage, status, activity, started_at, completed_at,
		       duration_seconds, input_tokens, output_tokens, total_tokens, error
		FROM session_stages
		WHERE session_id = $1`,
		sessionID,
	)
	if err != nil {
		return model.WorkflowSession{}, fmt.Errorf("query session stages: %w", err)
	}
	defer rows.Close()

	session.Stages = make(map[string]model.StageStatus, len(model.PipelineStages))
	for rows.Next() {
		var stage, activity, errMsg string
		var st model.StageStatus
		var input, output, total *int
		if err := rows.Scan(
			&stage, &st.Status, &activity, &st.StartedAt, &st.CompletedAt,
			&st.DurationSeconds, &input, &output, &total, &errMsg,
		); err != nil {
			return model.WorkflowSession{}, fmt.Errorf("scan session stage: %w", err)
		}
		st.Activity = activity
		st.Error = errMsg
		if total != nil {
			st.TokenUsage = &model.TokenUsage{TotalTokens: *total}
			if input != nil {
				st.TokenUsage.InputTokens = *input
			}
			if output != nil {
				st.TokenUsage.OutputTokens = *output
			}
		}
		session.Stages[stage] = st
	}
	return session, rows.Err()
}

// UpdateStage updates one stage row of a non-terminal session.
func (s *PgSessionStore) UpdateStage(ctx context.Context, sessionID, stage string, status model.StageStatus) error {
	overall, err := s.overallStatus(ctx, sessionID)
	if err != nil {
		return err
	}
	if overall == model.SessionStatusCompleted || overall == model.SessionStatusFailed {
		return model.NewConflictError(
			fmt.Sprintf("session %q is already %s", sessionID, overall),
		)
	}

	var input, output, total *int
	if status.TokenUsage != nil {
		input = &status.TokenUsage.InputTokens
		output = &status.TokenUsage.OutputTokens
		total = &status.TokenUsage.TotalTokens
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// The WHERE clause enforces stage-level terminal stickiness at the
	// database, mirroring the session-level guard in SetOverallStatus.
	tag, err := tx.Exec(ctx, `
		UPDATE session_stages SET
			status = $1, activity = $2, started_at = $3, completed_at = $4,
			duration_seconds = $5, input_tokens = $6, output_tokens = $7,
			total_tokens = $8, error = $9
		WHERE session_id = $10 AND stage = $11
		AND (status NOT IN ('success', 'error') OR status = $1)`,
		status.Status, status.Activity, status.StartedAt, status.CompletedAt,
		status.DurationSeconds, input, output, total, status.Error,
		sessionID, stage,
	)
	if err != nil {
		return fmt.Errorf("update session stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		current, err := s.stageStatus(ctx, sessionID, stage)
		if err != nil {
			return err
		}
		return model.NewConflictError(
			fmt.Sprintf("session %q stage %q is already %s", sessionID, stage, current),
		)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE sessions SET last_updated = $1 WHERE session_id = $2`,
		time.Now().UTC(), sessionID,
	); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	return tx.Commit(ctx)
}

// SetOverallStatus moves the session's overall status. The WHERE clause
// enforces terminal stickiness at the database, not just in process.
func (s *PgSessionStore) SetOverallStatus(ctx context.Context, sessionID, overall, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET
			overall_status = $1,
			error = CASE WHEN $2 <> '' THEN $2 ELSE error END,
			last_updated = $3
		WHERE session_id = $4
		AND (overall_status NOT IN ('completed', 'failed') OR overall_status = $1)`,
		overall, errMsg, time.Now().UTC(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		current, err := s.overallStatus(ctx, sessionID)
		if err != nil {
			return err
		}
		return model.NewConflictError(
			fmt.Sprintf("session %q is already %s", sessionID, current),
		)
	}
	return nil
}

// FindExpired returns session IDs past their expiration time.
func (s *PgSessionStore) FindExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id FROM sessions WHERE expires_at < $1`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes a session and its stage rows.
func (s *PgSessionStore) Delete(ctx context.Context, sessionID string) error {
	// Delete stage rows first (foreign key).
	if _, err := s.pool.Exec(ctx, `
		DELETE FROM session_stages WHERE session_id = $1`,
		sessionID,
	); err != nil {
		return fmt.Errorf("delete session stages: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM sessions WHERE session_id = $1`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(
			fmt.Sprintf("session %q not found", sessionID),
		)
	}
	return nil
}

// HealthCheck verifies database connectivity for the readiness endpoint.
func (s *PgSessionStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PgSessionStore) stageStatus(ctx context.Context, sessionID, stage string) (string, error) {
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT status FROM session_stages WHERE session_id = $1 AND stage = $2`,
		sessionID, stage,
	).Scan(&status)
	if err == pgx.ErrNoRows {
		return "", model.NewNotFoundError(
			fmt.Sprintf("session %q stage %q not found", sessionID, stage),
		)
	}
	if err != nil {
		return "", fmt.Errorf("query session stage: %w", err)
	}
	return status, nil
}

func (s *PgSessionStore) overallStatus(ctx context.Context, sessionID string) (string, error) {
	var overall string
	err := s.pool.QueryRow(ctx, `
		SELECT overall_status FROM sessions WHERE session_id = $1`,
		sessionID,
	).Scan(&overall)
	if err == pgx.ErrNoRows {
		return "", model.NewNotFoundError(
			fmt.Sprintf("session %q not found", sessionID),
		)
	}
	if err != nil {
		return "", fmt.Errorf("query session status: %w", err)
	}
	return overall, nil
}
