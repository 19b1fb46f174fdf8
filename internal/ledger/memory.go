package ledger

import (
	"context"
	"sync"

	"ledgerflow/models"
)

// MemoryLedger keeps outcomes in a mutex-guarded map. Suitable for tests and
// single-process development runs; state is lost on restart.
type MemoryLedger struct {
	entries map[string]models.ProcessingOutcome
	mu      sync.RWMutex
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		entries: make(map[string]models.ProcessingOutcome),
	}
}

func (l *MemoryLedger) Has(ctx context.Context, messageID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.entries[messageID]
	return ok, nil
}

func (l *MemoryLedger) Write(ctx context.Context, messageID string, outcome models.ProcessingOutcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[messageID]; ok {
		return ErrDuplicateEntry
	}
	l.entries[messageID] = outcome
	return nil
}

// Get returns the recorded outcome for a message id.
func (l *MemoryLedger) Get(messageID string) (models.ProcessingOutcome, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	outcome, ok := l.entries[messageID]
	return outcome, ok
}

// Len reports the number of recorded entries.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.entries)
}
