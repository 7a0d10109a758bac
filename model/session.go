package model

import (
	"regexp"
	"time"
)

// Overall session status constants.
const (
	SessionStatusInitializing = "initializing"
	SessionStatusProcessing   = "processing"
	SessionStatusCompleted    = "completed"
	SessionStatusFailed       = "failed"
)

// Per-stage status constants.
const (
	StageStatusPending    = "pending"
	StageStatusInProgress = "in_progress"
	StageStatusSuccess    = "success"
	StageStatusError      = "error"
)

// Pipeline stage names, in execution order.
const (
	StagePDFAdapter    = "pdf_adapter"
	StageExtraction    = "extraction"
	StageMatching      = "matching"
	StageExceptionMgmt = "exception_mgmt"
)

// PipelineStages lists the stages in the order the orchestrator runs them.
var PipelineStages = []string{
	StagePDFAdapter,
	StageExtraction,
	StageMatching,
	StageExceptionMgmt,
}

var correlationIDPattern = regexp.MustCompile(`^corr_[a-f0-9]{12}$`)

// ValidCorrelationID reports whether id matches the corr_<12 hex> format
// that every downstream log and remote call is keyed by.
func ValidCorrelationID(id string) bool {
	return correlationIDPattern.MatchString(id)
}

// WorkflowSession tracks one document through all pipeline stages.
type WorkflowSession struct {
	SessionID            string                 `json:"session_id"`
	CorrelationID        string                 `json:"correlation_id"`
	DocumentRef          string                 `json:"document_ref"`
	SourceClassification SourceClassification   `json:"source_classification"`
	OverallStatus        string                 `json:"overall_status"`
	Stages               map[string]StageStatus `json:"stages"`
	Error                string                 `json:"error,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
	LastUpdated          time.Time              `json:"last_updated"`
	ExpiresAt            time.Time              `json:"expires_at"`
}

// IsTerminal reports whether the session has reached a final state.
// Terminal sessions must never regress; stage-completion callbacks that
// arrive afterwards are rejected as no-ops.
func (s *WorkflowSession) IsTerminal() bool {
	return s.OverallStatus == SessionStatusCompleted || s.OverallStatus == SessionStatusFailed
}

// NewSessionStages returns the initial per-stage map with every stage pending.
func NewSessionStages() map[string]StageStatus {
	stages := make(map[string]StageStatus, len(PipelineStages))
	for _, name := range PipelineStages {
		stages[name] = StageStatus{Status: StageStatusPending}
	}
	return stages
}

// StageStatus is the recorded state of a single pipeline stage within a session.
type StageStatus struct {
	Status          string      `json:"status"`
	Activity        string      `json:"activity,omitempty"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	DurationSeconds *float64    `json:"duration_seconds,omitempty"`
	TokenUsage      *TokenUsage `json:"token_usage,omitempty"`
	Error           string      `json:"error,omitempty"`
}

// IsTerminal reports whether the stage has reached success or error.
func (s *StageStatus) IsTerminal() bool {
	return s.Status == StageStatusSuccess || s.Status == StageStatusError
}

// TokenUsage counts LLM tokens consumed by a stage. Recorded for the
// compliance audit trail of LLM-backed stages.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates usage from another counter.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}
