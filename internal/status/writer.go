package status

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/finlake/tradeflow/model"
)

// Writer applies stage lifecycle updates on top of a SessionStore and
// serves status snapshots. A status write failure is logged, never
// propagated: losing a progress update must not fail the pipeline run
// that produced it.
type Writer struct {
	store  SessionStore
	logger *zap.Logger
	now    func() time.Time
}

// NewWriter creates a writer over the given store.
func NewWriter(store SessionStore, logger *zap.Logger) *Writer {
	return &Writer{store: store, logger: logger, now: time.Now}
}

// CreateSession persists a new session. Unlike progress updates, a
// creation failure propagates: a session the store never saw cannot be
// tracked at all.
func (w *Writer) CreateSession(ctx context.Context, session model.WorkflowSession) error {
	return w.store.Create(ctx, session)
}

// StageStarted marks a stage in progress with the given activity text.
func (w *Writer) StageStarted(ctx context.Context, sessionID, stage, activity string) {
	started := w.now().UTC()
	w.apply(ctx, sessionID, stage, model.StageStatus{
		Status:    model.StageStatusInProgress,
		Activity:  activity,
		StartedAt: &started,
	})
}

// StageSucceeded marks a stage successful, recording its duration and any
// token usage the stage reported.
func (w *Writer) StageSucceeded(ctx context.Context, sessionID, stage string, startedAt time.Time, usage *model.TokenUsage) {
	completed := w.now().UTC()
	duration := completed.Sub(startedAt).Seconds()
	started := startedAt.UTC()
	w.apply(ctx, sessionID, stage, model.StageStatus{
		Status:          model.StageStatusSuccess,
		StartedAt:       &started,
		CompletedAt:     &completed,
		DurationSeconds: &duration,
		TokenUsage:      usage,
	})
}

// StageFailed marks a stage errored with the failure detail.
func (w *Writer) StageFailed(ctx context.Context, sessionID, stage string, startedAt time.Time, detail string) {
	completed := w.now().UTC()
	duration := completed.Sub(startedAt).Seconds()
	started := startedAt.UTC()
	w.apply(ctx, sessionID, stage, model.StageStatus{
		Status:          model.StageStatusError,
		StartedAt:       &started,
		CompletedAt:     &completed,
		DurationSeconds: &duration,
		Error:           detail,
	})
}

// SessionProcessing moves the session out of initializing.
func (w *Writer) SessionProcessing(ctx context.Context, sessionID string) {
	w.setOverall(ctx, sessionID, model.SessionStatusProcessing, "")
}

// SessionCompleted marks the session terminal-successful.
func (w *Writer) SessionCompleted(ctx context.Context, sessionID string) {
	w.setOverall(ctx, sessionID, model.SessionStatusCompleted, "")
}

// SessionFailed marks the session terminal-failed with the given reason.
func (w *Writer) SessionFailed(ctx context.Context, sessionID, reason string) {
	w.setOverall(ctx, sessionID, model.SessionStatusFailed, reason)
}

// Snapshot returns the current session state. An unknown session ID yields
// a default snapshot with every stage pending rather than an error, so
// status polling never races session creation.
func (w *Writer) Snapshot(ctx context.Context, sessionID string) model.WorkflowSession {
	session, err := w.store.Get(ctx, sessionID)
	if err != nil {
		return model.WorkflowSession{
			SessionID:     sessionID,
			OverallStatus: model.SessionStatusInitializing,
			Stages:        model.NewSessionStages(),
		}
	}
	return session
}

func (w *Writer) apply(ctx context.Context, sessionID, stage string, st model.StageStatus) {
	if err := w.store.UpdateStage(ctx, sessionID, stage, st); err != nil {
		w.logger.Warn("stage status update dropped",
			zap.String("session_id", sessionID),
			zap.String("stage", stage),
			zap.String("status", st.Status),
			zap.Error(err),
		)
	}
}

func (w *Writer) setOverall(ctx context.Context, sessionID, overall, errMsg string) {
	if err := w.store.SetOverallStatus(ctx, sessionID, overall, errMsg); err != nil {
		w.logger.Warn("overall status update dropped",
			zap.String("session_id", sessionID),
			zap.String("overall_status", overall),
			zap.Error(err),
		)
	}
}
