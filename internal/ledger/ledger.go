// Package ledger implements the dedup ledger: a keyed store mapping message
// id to processing outcome, giving the pipeline its at-most-once extraction
// guarantee.
package ledger

import (
	"context"
	"errors"
	"fmt"

	appconfig "ledgerflow/config"
	"ledgerflow/models"
)

// ErrDuplicateEntry is returned by Write when an entry already exists for the
// message id. Callers treat it as "already processed, skip": two concurrent
// runs racing on the same message must not double-process it.
var ErrDuplicateEntry = errors.New("ledger entry already exists")

// Ledger records one terminal outcome per message id. Entries are never
// overwritten; re-processing a message is an operator action outside this
// interface.
type Ledger interface {
	// Has reports whether an outcome has been recorded for the message id.
	Has(ctx context.Context, messageID string) (bool, error)
	// Write records the outcome for the message id. Returns
	// ErrDuplicateEntry when an entry already exists.
	Write(ctx context.Context, messageID string, outcome models.ProcessingOutcome) error
}

// Open builds the ledger selected by configuration.
func Open(cfg appconfig.LedgerConfig) (Ledger, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryLedger(), nil
	case "file":
		return OpenFileLedger(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown ledger backend '%s'", cfg.Backend)
	}
}
