package models

import (
	"time"
)

// RawMessage is a candidate notification pulled from a mail source. It may or
// may not describe a financial transaction; classification decides that later.
type RawMessage struct {
	// ID is the source message identifier. It is the dedup key: a message id
	// that already has a ledger entry is never parsed again.
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
	// Source names the fetcher that produced the message (mailbox, stream).
	Source string `json:"source,omitempty"`
}

// RecordBatch groups normalized records for the writers.
type RecordBatch struct {
	BatchID     string              `json:"batch_id"`
	Source      string              `json:"source"`
	Records     []TransactionRecord `json:"records"`
	RecordCount int                 `json:"record_count"`
	ProcessedAt time.Time           `json:"processed_at"`
}
