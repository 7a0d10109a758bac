package model

// OutcomeKind classifies a remote call result for retry purposes.
type OutcomeKind int

const (
	// OutcomeSuccess is a 2xx response with a parseable body.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRetryable covers transport errors, timeouts, 429, and 5xx.
	OutcomeRetryable
	// OutcomeFatal covers 4xx other than 429: the request itself is
	// invalid and retrying will not help.
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one remote stage invocation.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int
	Response   *StageResponse
	Detail     string
}

// StageRequest is the JSON payload posted to a remote stage agent.
type StageRequest struct {
	DocumentRef          string               `json:"document_ref"`
	SourceClassification SourceClassification `json:"source_classification"`
	CorrelationID        string               `json:"correlation_id"`
	// Context carries the optional memory-lookup result. Nil means the
	// lookup was unavailable and the stage runs without prior context.
	Context map[string]any `json:"context,omitempty"`
}

// StageResponse is the envelope every stage agent returns on success.
type StageResponse struct {
	Success          bool           `json:"success"`
	CorrelationID    string         `json:"correlation_id"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	TokenUsage       *TokenUsage    `json:"token_usage,omitempty"`
	Record           *RawRecord     `json:"record,omitempty"`
	Payload          map[string]any `json:"payload,omitempty"`
}

// ProcessRequest is the inbound trigger payload on POST /process.
type ProcessRequest struct {
	DocumentRef          string               `json:"document_ref"`
	SourceClassification SourceClassification `json:"source_classification"`
	CorrelationID        string               `json:"correlation_id"`
}

// ProcessResponse acknowledges an accepted (or deduplicated) trigger.
type ProcessResponse struct {
	SessionID     string `json:"session_id"`
	CorrelationID string `json:"correlation_id"`
	Duplicate     bool   `json:"duplicate,omitempty"`
}
