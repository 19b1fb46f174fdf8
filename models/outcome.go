package models

import "time"

// OutcomeStatus records how a message ended up after one pass through the
// pipeline. Every status is terminal: re-processing a message requires an
// operator to remove its ledger entry first.
type OutcomeStatus string

const (
	OutcomeProcessed OutcomeStatus = "PROCESSED"
	OutcomeIgnored   OutcomeStatus = "IGNORED"
	OutcomeFailed    OutcomeStatus = "FAILED"
)

// ProcessingOutcome is the dedup-ledger entry written once per message id.
type ProcessingOutcome struct {
	Status OutcomeStatus `json:"status"`
	// ProducedExternalIDs lists the external ids of records extracted from the
	// message. Empty for IGNORED and FAILED.
	ProducedExternalIDs []string `json:"produced_external_ids,omitempty"`
	// Reason is required for IGNORED and FAILED outcomes.
	Reason      string    `json:"reason,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}
