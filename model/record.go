package model

import "time"

// SourceClassification declares which side of the trade a confirmation
// document originated from. It decides the downstream storage target.
type SourceClassification string

// Recognized source classifications.
const (
	SourceBank         SourceClassification = "BANK"
	SourceCounterparty SourceClassification = "COUNTERPARTY"
)

// Valid reports whether the classification is one of the declared values.
// Anything else must be treated as a routing error, never silently defaulted.
func (c SourceClassification) Valid() bool {
	return c == SourceBank || c == SourceCounterparty
}

// RawRecord is the extraction stage's structured output before validation.
// Field values arrive as loosely formatted strings from the remote agent.
type RawRecord struct {
	RecordID      string `json:"record_id"`
	Counterparty  string `json:"counterparty"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	EffectiveDate string `json:"effective_date"`
	MaturityDate  string `json:"maturity_date,omitempty"`
	ProductType   string `json:"product_type,omitempty"`
}

// CanonicalRecord is the validated, normalized business record produced by
// the extraction stage. It is only ever persisted after the validator
// reports zero errors.
type CanonicalRecord struct {
	RecordID      string  `json:"record_id"`
	Counterparty  string  `json:"counterparty"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	EffectiveDate string  `json:"effective_date"`
	MaturityDate  string  `json:"maturity_date,omitempty"`
	ProductType   string  `json:"product_type,omitempty"`

	// Provenance.
	CorrelationID  string    `json:"correlation_id"`
	SourceDocument string    `json:"source_document"`
	ExtractedAt    time.Time `json:"extracted_at"`
}
