package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"ledgerflow/models"
)

// fileEntry is one JSON line in the ledger file.
type fileEntry struct {
	MessageID string                   `json:"message_id"`
	Outcome   models.ProcessingOutcome `json:"outcome"`
}

// FileLedger appends outcomes to a JSON-lines file and keeps an in-memory
// index for lookups. The whole file is replayed at open, so restarts keep the
// at-most-once guarantee.
type FileLedger struct {
	file    *os.File
	entries map[string]models.ProcessingOutcome
	mu      sync.Mutex
}

// OpenFileLedger opens (or creates) the ledger file at path and replays its
// entries.
func OpenFileLedger(path string) (*FileLedger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}

	entries := make(map[string]models.ProcessingOutcome)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e fileEntry
		if err := json.Unmarshal(line, &e); err != nil {
			file.Close()
			return nil, fmt.Errorf("corrupt ledger line: %w", err)
		}
		entries[e.MessageID] = e.Outcome
	}
	if err := scanner.Err(); err != nil {
		file.Close()
		return nil, fmt.Errorf("read ledger file: %w", err)
	}

	return &FileLedger{file: file, entries: entries}, nil
}

func (l *FileLedger) Has(ctx context.Context, messageID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.entries[messageID]
	return ok, nil
}

func (l *FileLedger) Write(ctx context.Context, messageID string, outcome models.ProcessingOutcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[messageID]; ok {
		return ErrDuplicateEntry
	}

	data, err := json.Marshal(fileEntry{MessageID: messageID, Outcome: outcome})
	if err != nil {
		return fmt.Errorf("marshal ledger entry: %w", err)
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync ledger file: %w", err)
	}

	l.entries[messageID] = outcome
	return nil
}

// Close releases the underlying file.
func (l *FileLedger) Close() error {
	return l.file.Close()
}
