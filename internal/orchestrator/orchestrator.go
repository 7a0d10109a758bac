// Package orchestrator drives trade confirmation documents through the
// four-stage processing pipeline, one session per document.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finlake/tradeflow/internal/config"
	"github.com/finlake/tradeflow/internal/idempotency"
	"github.com/finlake/tradeflow/internal/invoker"
	"github.com/finlake/tradeflow/internal/routing"
	"github.com/finlake/tradeflow/internal/status"
	"github.com/finlake/tradeflow/internal/validate"
	"github.com/finlake/tradeflow/model"
)

// ContextLookupTarget is the invoker target name for the optional prior
// context lookup. It is not a pipeline stage: its failures degrade, never
// fail a session.
const ContextLookupTarget = "context_lookup"

// Metrics is the subset of instrumentation the orchestrator records.
// *observability.Metrics satisfies it; tests may pass nil.
type Metrics interface {
	RecordPipeline(result string, duration time.Duration)
	RecordDuplicateTrigger()
	RecordValidationFailure()
}

// Orchestrator owns the session lifecycle: admission, stage sequencing,
// status reporting, and routing of extraction output. Stage execution runs
// on a detached context so an accepted document survives the triggering
// HTTP request.
type Orchestrator struct {
	cfg        *config.Config
	invoker    *invoker.SignedInvoker
	resilience *invoker.Resilience
	writer     *status.Writer
	router     *routing.Router
	guard      idempotency.Guard
	logger     *zap.Logger
	metrics    Metrics

	wg sync.WaitGroup
}

// New creates an orchestrator.
func New(
	cfg *config.Config,
	inv *invoker.SignedInvoker,
	res *invoker.Resilience,
	writer *status.Writer,
	router *routing.Router,
	guard idempotency.Guard,
	logger *zap.Logger,
	metrics Metrics,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		invoker:    inv,
		resilience: res,
		writer:     writer,
		router:     router,
		guard:      guard,
		logger:     logger,
		metrics:    metrics,
	}
}

// Start validates the trigger, claims its correlation ID, creates the
// session, and launches the pipeline run. It returns as soon as the
// session is durably recorded; stage execution continues in the
// background.
func (o *Orchestrator) Start(ctx context.Context, req model.ProcessRequest) (model.ProcessResponse, error) {
	if err := validateRequest(req); err != nil {
		return model.ProcessResponse{}, err
	}

	admitted, err := o.guard.Admit(ctx, req.CorrelationID, o.cfg.Idempotency.TTL)
	if err != nil {
		return model.ProcessResponse{}, fmt.Errorf("orchestrator: dedup check: %w", err)
	}
	if !admitted {
		o.logger.Info("duplicate trigger acknowledged",
			zap.String("correlation_id", req.CorrelationID),
		)
		if o.metrics != nil {
			o.metrics.RecordDuplicateTrigger()
		}
		return model.ProcessResponse{
			CorrelationID: req.CorrelationID,
			Duplicate:     true,
		}, nil
	}

	now := time.Now().UTC()
	session := model.WorkflowSession{
		SessionID:            uuid.NewString(),
		CorrelationID:        req.CorrelationID,
		DocumentRef:          req.DocumentRef,
		SourceClassification: req.SourceClassification,
		OverallStatus:        model.SessionStatusInitializing,
		Stages:               model.NewSessionStages(),
		CreatedAt:            now,
		LastUpdated:          now,
		ExpiresAt:            now.Add(o.cfg.StatusStore.Retention),
	}

	if err := o.writer.CreateSession(ctx, session); err != nil {
		// Free the claim so the caller can retry with the same ID.
		_ = o.guard.Release(ctx, req.CorrelationID)
		return model.ProcessResponse{}, err
	}

	pctx := &model.PipelineContext{
		SessionID:            session.SessionID,
		CorrelationID:        session.CorrelationID,
		DocumentRef:          session.DocumentRef,
		SourceClassification: session.SourceClassification,
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(context.WithoutCancel(ctx), pctx)
	}()

	o.logger.Info("pipeline session accepted",
		zap.String("session_id", session.SessionID),
		zap.String("correlation_id", session.CorrelationID),
		zap.String("classification", string(session.SourceClassification)),
	)

	return model.ProcessResponse{
		SessionID:     session.SessionID,
		CorrelationID: session.CorrelationID,
	}, nil
}

// Wait blocks until in-flight pipeline runs finish or the context expires.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes the stages in order. The first stage failure fails the
// session and halts; later stages are never attempted.
func (o *Orchestrator) run(ctx context.Context, pctx *model.PipelineContext) {
	ctx = model.WithPipelineContext(ctx, pctx)
	start := time.Now()

	o.writer.SessionProcessing(ctx, pctx.SessionID)

	stageContext := o.lookupContext(ctx, pctx)

	for _, stage := range model.PipelineStages {
		if !o.runStage(ctx, pctx, stage, stageContext) {
			o.finish(ctx, pctx, model.SessionStatusFailed, time.Since(start))
			return
		}
	}

	o.finish(ctx, pctx, model.SessionStatusCompleted, time.Since(start))
}

// runStage executes one stage and reports its status. It returns false
// when the session must fail.
func (o *Orchestrator) runStage(ctx context.Context, pctx *model.PipelineContext, stage string, stageContext map[string]any) bool {
	startedAt := time.Now().UTC()
	o.writer.StageStarted(ctx, pctx.SessionID, stage, "calling "+stage+" agent")

	payload := model.StageRequest{
		DocumentRef:          pctx.DocumentRef,
		SourceClassification: pctx.SourceClassification,
		CorrelationID:        pctx.CorrelationID,
		Context:              stageContext,
	}

	outcome, err := o.resilience.Execute(ctx, stage, func(ctx context.Context) (model.Outcome, error) {
		return o.invoker.Invoke(ctx, stage, payload)
	})
	switch {
	case err != nil:
		o.failStage(ctx, pctx, stage, startedAt, model.NewInternalError().Error())
		o.logger.Error("stage invocation failed",
			zap.String("session_id", pctx.SessionID),
			zap.String("stage", stage),
			zap.Error(err),
		)
		return false
	case outcome == nil:
		o.failStage(ctx, pctx, stage, startedAt, model.NewTargetUnavailableError(stage).Error())
		return false
	case outcome.Kind != model.OutcomeSuccess:
		o.failStage(ctx, pctx, stage, startedAt, model.NewFatalTargetError(stage, outcome.StatusCode).Error())
		return false
	}

	if stage == model.StageExtraction {
		if !o.handleExtraction(ctx, pctx, stage, startedAt, outcome.Response) {
			return false
		}
	}

	var usage *model.TokenUsage
	if outcome.Response != nil {
		usage = outcome.Response.TokenUsage
	}
	o.writer.StageSucceeded(ctx, pctx.SessionID, stage, startedAt, usage)

	// Carry each stage's payload forward so downstream agents see prior
	// stage output alongside the lookup context.
	if outcome.Response != nil && outcome.Response.Payload != nil {
		stageContext[stage] = outcome.Response.Payload
	}
	return true
}

// handleExtraction validates the extracted record and routes it to the
// classification's destination table. Validation and routing failures fail
// the session; a record is never persisted partially.
func (o *Orchestrator) handleExtraction(ctx context.Context, pctx *model.PipelineContext, stage string, startedAt time.Time, resp *model.StageResponse) bool {
	if resp == nil || resp.Record == nil {
		o.failStage(ctx, pctx, stage, startedAt, "extraction returned no record")
		return false
	}

	rec, verrs, ok := validate.ValidateAndNormalize(*resp.Record, pctx.CorrelationID, pctx.DocumentRef)
	if !ok {
		if o.metrics != nil {
			o.metrics.RecordValidationFailure()
		}
		o.failStage(ctx, pctx, stage, startedAt,
			"validation failed: "+strings.Join(verrs, "; "),
		)
		return false
	}

	if _, err := o.router.Store(ctx, pctx.SourceClassification, rec); err != nil {
		o.failStage(ctx, pctx, stage, startedAt, err.Error())
		return false
	}
	return true
}

// lookupContext fetches prior processing context for the document. Any
// failure degrades to nil and the pipeline proceeds without context.
func (o *Orchestrator) lookupContext(ctx context.Context, pctx *model.PipelineContext) map[string]any {
	stageContext := make(map[string]any)
	if !o.cfg.ContextLookup.Enabled {
		return stageContext
	}

	payload := model.StageRequest{
		DocumentRef:          pctx.DocumentRef,
		SourceClassification: pctx.SourceClassification,
		CorrelationID:        pctx.CorrelationID,
	}
	outcome, err := o.resilience.Execute(ctx, ContextLookupTarget, func(ctx context.Context) (model.Outcome, error) {
		return o.invoker.Invoke(ctx, ContextLookupTarget, payload)
	})
	if err != nil || outcome == nil || outcome.Kind != model.OutcomeSuccess || outcome.Response == nil {
		o.logger.Info("context lookup unavailable, proceeding without prior context",
			zap.String("session_id", pctx.SessionID),
			zap.String("correlation_id", pctx.CorrelationID),
		)
		return stageContext
	}

	for k, v := range outcome.Response.Payload {
		stageContext[k] = v
	}
	return stageContext
}

func (o *Orchestrator) failStage(ctx context.Context, pctx *model.PipelineContext, stage string, startedAt time.Time, detail string) {
	o.writer.StageFailed(ctx, pctx.SessionID, stage, startedAt, detail)
	o.writer.SessionFailed(ctx, pctx.SessionID,
		fmt.Sprintf("stage %s failed: %s", stage, detail),
	)
	o.logger.Error("pipeline stage failed",
		zap.String("session_id", pctx.SessionID),
		zap.String("correlation_id", pctx.CorrelationID),
		zap.String("stage", stage),
		zap.String("detail", detail),
	)
}

func (o *Orchestrator) finish(ctx context.Context, pctx *model.PipelineContext, result string, duration time.Duration) {
	if result == model.SessionStatusCompleted {
		o.writer.SessionCompleted(ctx, pctx.SessionID)
		o.logger.Info("pipeline completed",
			zap.String("session_id", pctx.SessionID),
			zap.String("correlation_id", pctx.CorrelationID),
			zap.Duration("duration", duration),
		)
	}
	if o.metrics != nil {
		o.metrics.RecordPipeline(result, duration)
	}
}

// validateRequest checks the inbound trigger fields, collecting every
// problem before returning.
func validateRequest(req model.ProcessRequest) error {
	var details []model.FieldError
	if req.DocumentRef == "" {
		details = append(details, model.FieldError{
			Field: "document_ref", Message: "is required",
		})
	}
	if !model.ValidCorrelationID(req.CorrelationID) {
		details = append(details, model.FieldError{
			Field: "correlation_id", Message: "must match corr_<12 hex chars>",
		})
	}
	if !req.SourceClassification.Valid() {
		details = append(details, model.FieldError{
			Field: "source_classification", Message: "must be BANK or COUNTERPARTY",
		})
	}
	if len(details) > 0 {
		return model.NewValidationError(details)
	}
	return nil
}
