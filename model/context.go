package model

import (
	"context"
	"errors"
	"fmt"
)

// PipelineContext carries the identifiers threaded through every log line,
// metric, and remote call for one session. It is immutable after
// construction and safe for concurrent reads.
type PipelineContext struct {
	SessionID            string
	CorrelationID        string
	DocumentRef          string
	SourceClassification SourceClassification
	TraceID              string
}

// Validate checks that all mandatory fields are present and well-formed.
func (pc *PipelineContext) Validate() error {
	var errs []error
	if pc.SessionID == "" {
		errs = append(errs, fmt.Errorf("SessionID is required"))
	}
	if !ValidCorrelationID(pc.CorrelationID) {
		errs = append(errs, fmt.Errorf("CorrelationID %q is malformed", pc.CorrelationID))
	}
	if pc.DocumentRef == "" {
		errs = append(errs, fmt.Errorf("DocumentRef is required"))
	}
	if !pc.SourceClassification.Valid() {
		errs = append(errs, fmt.Errorf("SourceClassification %q is not recognized", pc.SourceClassification))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

type contextKey struct{}

// WithPipelineContext attaches a PipelineContext to the given context.
func WithPipelineContext(ctx context.Context, pc *PipelineContext) context.Context {
	return context.WithValue(ctx, contextKey{}, pc)
}

// PipelineContextFrom extracts the PipelineContext from the context, or
// returns nil if not present.
func PipelineContextFrom(ctx context.Context) *PipelineContext {
	pc, _ := ctx.Value(contextKey{}).(*PipelineContext)
	return pc
}
