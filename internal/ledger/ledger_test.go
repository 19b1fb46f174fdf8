package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	appconfig "ledgerflow/config"
	"ledgerflow/models"
)

func ledgerConfig(backend, path string) appconfig.LedgerConfig {
	return appconfig.LedgerConfig{Backend: backend, Path: path}
}

func outcome(status models.OutcomeStatus) models.ProcessingOutcome {
	return models.ProcessingOutcome{
		Status:      status,
		ProcessedAt: time.Now().UTC(),
	}
}

func TestMemoryLedgerWriteOnce(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	ok, err := l.Has(ctx, "msg-1")
	if err != nil || ok {
		t.Fatalf("expected empty ledger, got ok=%v err=%v", ok, err)
	}

	if err := l.Write(ctx, "msg-1", outcome(models.OutcomeProcessed)); err != nil {
		t.Fatalf("write: %v", err)
	}
	ok, err = l.Has(ctx, "msg-1")
	if err != nil || !ok {
		t.Fatalf("expected entry, got ok=%v err=%v", ok, err)
	}

	err = l.Write(ctx, "msg-1", outcome(models.OutcomeFailed))
	if !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("expected ErrDuplicateEntry, got %v", err)
	}
	got, _ := l.Get("msg-1")
	if got.Status != models.OutcomeProcessed {
		t.Fatalf("duplicate write must not overwrite, got %s", got.Status)
	}
}

func TestFileLedgerReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	ctx := context.Background()

	l, err := OpenFileLedger(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.Write(ctx, "msg-1", outcome(models.OutcomeProcessed)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Write(ctx, "msg-2", outcome(models.OutcomeIgnored)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenFileLedger(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	for _, id := range []string{"msg-1", "msg-2"} {
		ok, err := reopened.Has(ctx, id)
		if err != nil || !ok {
			t.Errorf("expected replayed entry for %s, got ok=%v err=%v", id, ok, err)
		}
	}
	if err := reopened.Write(ctx, "msg-1", outcome(models.OutcomeFailed)); !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("expected ErrDuplicateEntry after replay, got %v", err)
	}
}

func TestFileLedgerRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	if err := os.WriteFile(path, []byte("not-json\n"), 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if _, err := OpenFileLedger(path); err == nil {
		t.Fatalf("expected error for corrupt ledger file")
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	l, err := Open(ledgerConfig("memory", ""))
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := l.(*MemoryLedger); !ok {
		t.Fatalf("expected MemoryLedger, got %T", l)
	}

	if _, err := Open(ledgerConfig("bogus", "")); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
