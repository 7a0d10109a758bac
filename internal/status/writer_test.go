package status

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/finlake/tradeflow/model"
)

func newTestWriter() (*Writer, *MemorySessionStore) {
	store := NewMemorySessionStore()
	return NewWriter(store, zap.NewNop()), store
}

func TestWriter_stageLifecycle(t *testing.T) {
	w, store := newTestWriter()
	ctx := context.Background()

	if err := w.CreateSession(ctx, testSession("sess-1")); err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}

	w.SessionProcessing(ctx, "sess-1")
	w.StageStarted(ctx, "sess-1", model.StagePDFAdapter, "calling pdf_adapter agent")

	got, _ := store.Get(ctx, "sess-1")
	if got.OverallStatus != model.SessionStatusProcessing {
		t.Errorf("OverallStatus = %q, want processing", got.OverallStatus)
	}
	st := got.Stages[model.StagePDFAdapter]
	if st.Status != model.StageStatusInProgress {
		t.Errorf("stage status = %q, want in_progress", st.Status)
	}
	if st.Activity != "calling pdf_adapter agent" {
		t.Errorf("activity = %q", st.Activity)
	}
	if st.StartedAt == nil {
		t.Error("StartedAt not recorded")
	}

	started := time.Now().Add(-3 * time.Second)
	usage := &model.TokenUsage{InputTokens: 100, OutputTokens: 40, TotalTokens: 140}
	w.StageSucceeded(ctx, "sess-1", model.StagePDFAdapter, started, usage)

	got, _ = store.Get(ctx, "sess-1")
	st = got.Stages[model.StagePDFAdapter]
	if st.Status != model.StageStatusSuccess {
		t.Errorf("stage status = %q, want success", st.Status)
	}
	if st.DurationSeconds == nil || *st.DurationSeconds < 2.5 {
		t.Errorf("DurationSeconds = %v, want roughly 3s", st.DurationSeconds)
	}
	if st.TokenUsage == nil || st.TokenUsage.TotalTokens != 140 {
		t.Errorf("TokenUsage = %+v, want total 140", st.TokenUsage)
	}
}

func TestWriter_stageFailureRecordsDetail(t *testing.T) {
	w, store := newTestWriter()
	ctx := context.Background()
	w.CreateSession(ctx, testSession("sess-1"))

	w.StageFailed(ctx, "sess-1", model.StageExtraction, time.Now(), "target returned status 422")
	w.SessionFailed(ctx, "sess-1", "stage extraction failed: target returned status 422")

	got, _ := store.Get(ctx, "sess-1")
	st := got.Stages[model.StageExtraction]
	if st.Status != model.StageStatusError {
		t.Errorf("stage status = %q, want error", st.Status)
	}
	if st.Error != "target returned status 422" {
		t.Errorf("stage error = %q", st.Error)
	}
	if got.OverallStatus != model.SessionStatusFailed {
		t.Errorf("OverallStatus = %q, want failed", got.OverallStatus)
	}
	if got.Error == "" {
		t.Error("session error detail missing")
	}
}

func TestWriter_writeFailuresAreSwallowed(t *testing.T) {
	w, _ := newTestWriter()
	ctx := context.Background()

	// No session exists; every update fails inside the store but the
	// writer must not panic or surface anything.
	w.SessionProcessing(ctx, "sess-missing")
	w.StageStarted(ctx, "sess-missing", model.StagePDFAdapter, "x")
	w.StageSucceeded(ctx, "sess-missing", model.StagePDFAdapter, time.Now(), nil)
	w.StageFailed(ctx, "sess-missing", model.StagePDFAdapter, time.Now(), "boom")
	w.SessionCompleted(ctx, "sess-missing")
}

func TestWriter_snapshotUnknownSessionAllPending(t *testing.T) {
	w, _ := newTestWriter()

	snap := w.Snapshot(context.Background(), "sess-unknown")
	if snap.SessionID != "sess-unknown" {
		t.Errorf("SessionID = %q", snap.SessionID)
	}
	if snap.OverallStatus != model.SessionStatusInitializing {
		t.Errorf("OverallStatus = %q, want initializing", snap.OverallStatus)
	}
	if len(snap.Stages) != len(model.PipelineStages) {
		t.Fatalf("stages = %d, want %d", len(snap.Stages), len(model.PipelineStages))
	}
	for name, st := range snap.Stages {
		if st.Status != model.StageStatusPending {
			t.Errorf("stage %s = %q, want pending", name, st.Status)
		}
	}
}

func TestSweeper_sweepOnceRemovesExpired(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	expired := testSession("sess-old")
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	store.Create(ctx, expired)
	store.Create(ctx, testSession("sess-live"))

	sw := NewSweeper(store, time.Hour, zap.NewNop())
	sw.SweepOnce(ctx)

	if _, err := store.Get(ctx, "sess-old"); err == nil {
		t.Error("expired session survived the sweep")
	}
	if _, err := store.Get(ctx, "sess-live"); err != nil {
		t.Errorf("live session removed: %v", err)
	}
}
