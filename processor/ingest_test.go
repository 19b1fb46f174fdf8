package processor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	appconfig "ledgerflow/config"
	"ledgerflow/internal/ledger"
	"ledgerflow/internal/mailparse"
	"ledgerflow/models"
)

func testParserConfig() appconfig.ParserConfig {
	return appconfig.ParserConfig{
		DefaultCurrency: "USDT",
		KnownCurrencies: []string{"USDT", "BTC", "ETH", "BNB", "BUSD"},
		Platform:        "binance",
	}
}

func testIngestor(led ledger.Ledger) *Ingestor {
	return NewIngestor(mailparse.New(testParserConfig()), led)
}

func depositMessage(id string) models.RawMessage {
	return models.RawMessage{
		ID:         id,
		Subject:    "USDT Deposit Confirmed",
		Body:       "Your deposit of 10,000 USDT is now available in your wallet.",
		ReceivedAt: time.Date(2025, 4, 11, 14, 25, 2, 0, time.UTC),
		Source:     "mailbox",
	}
}

func TestIngestMessageProcessed(t *testing.T) {
	led := ledger.NewMemoryLedger()
	in := testIngestor(led)

	outcome, records, skipped, err := in.IngestMessage(context.Background(), depositMessage("msg-1"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if skipped {
		t.Fatalf("fresh message must not be skipped")
	}
	if outcome.Status != models.OutcomeProcessed {
		t.Fatalf("expected PROCESSED, got %s (%s)", outcome.Status, outcome.Reason)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if len(outcome.ProducedExternalIDs) != 1 || outcome.ProducedExternalIDs[0] != records[0].ExternalID {
		t.Errorf("outcome must carry the produced external id, got %v", outcome.ProducedExternalIDs)
	}

	stored, ok := led.Get("msg-1")
	if !ok || stored.Status != models.OutcomeProcessed {
		t.Errorf("expected PROCESSED ledger entry, got %+v ok=%v", stored, ok)
	}
}

func TestIngestMessageIgnored(t *testing.T) {
	led := ledger.NewMemoryLedger()
	in := testIngestor(led)

	msg := models.RawMessage{
		ID:         "msg-news",
		Subject:    "Weekly market newsletter",
		Body:       "Top stories this week.",
		ReceivedAt: time.Now().UTC(),
	}
	outcome, records, skipped, err := in.IngestMessage(context.Background(), msg)
	if err != nil || skipped {
		t.Fatalf("ingest: err=%v skipped=%v", err, skipped)
	}
	if outcome.Status != models.OutcomeIgnored {
		t.Fatalf("expected IGNORED, got %s", outcome.Status)
	}
	if outcome.Reason != "unclassified" {
		t.Errorf("expected reason 'unclassified', got %q", outcome.Reason)
	}
	if len(records) != 0 {
		t.Errorf("ignored message must produce no records, got %d", len(records))
	}
}

func TestIngestMessageFailed(t *testing.T) {
	led := ledger.NewMemoryLedger()
	in := testIngestor(led)

	msg := models.RawMessage{
		ID:         "msg-bad",
		Subject:    "USDT Deposit Confirmed",
		Body:       "We could not complete your request.",
		ReceivedAt: time.Now().UTC(),
	}
	outcome, records, skipped, err := in.IngestMessage(context.Background(), msg)
	if err != nil || skipped {
		t.Fatalf("ingest: err=%v skipped=%v", err, skipped)
	}
	if outcome.Status != models.OutcomeFailed {
		t.Fatalf("expected FAILED, got %s", outcome.Status)
	}
	if outcome.Reason == "" {
		t.Errorf("failed outcome must carry a reason")
	}
	if len(records) != 0 {
		t.Errorf("failed message must produce no records, got %d", len(records))
	}

	stored, ok := led.Get("msg-bad")
	if !ok || stored.Status != models.OutcomeFailed {
		t.Errorf("failure must still be recorded in the ledger, got %+v ok=%v", stored, ok)
	}
}

func TestIngestMessageIdempotent(t *testing.T) {
	led := ledger.NewMemoryLedger()
	in := testIngestor(led)
	ctx := context.Background()

	first, records, _, err := in.IngestMessage(ctx, depositMessage("msg-1"))
	if err != nil || len(records) != 1 {
		t.Fatalf("first ingest: err=%v records=%d", err, len(records))
	}

	_, records, skipped, err := in.IngestMessage(ctx, depositMessage("msg-1"))
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if !skipped {
		t.Fatalf("second ingest of the same id must be skipped")
	}
	if len(records) != 0 {
		t.Errorf("skipped ingest must produce no records, got %d", len(records))
	}

	stored, _ := led.Get("msg-1")
	if len(stored.ProducedExternalIDs) != 1 || stored.ProducedExternalIDs[0] != first.ProducedExternalIDs[0] {
		t.Errorf("ledger entry must keep the first run's ids, got %v", stored.ProducedExternalIDs)
	}
	if led.Len() != 1 {
		t.Errorf("expected 1 ledger entry, got %d", led.Len())
	}
}

// blindLedger defers all writes to an inner ledger but never reports an entry
// as present, forcing the write-race path.
type blindLedger struct {
	inner *ledger.MemoryLedger
}

func (l *blindLedger) Has(ctx context.Context, messageID string) (bool, error) {
	return false, nil
}

func (l *blindLedger) Write(ctx context.Context, messageID string, outcome models.ProcessingOutcome) error {
	return l.inner.Write(ctx, messageID, outcome)
}

func TestIngestMessageLosesWriteRace(t *testing.T) {
	led := &blindLedger{inner: ledger.NewMemoryLedger()}
	in := testIngestor(led)
	ctx := context.Background()

	if _, _, skipped, err := in.IngestMessage(ctx, depositMessage("msg-1")); err != nil || skipped {
		t.Fatalf("first ingest: err=%v skipped=%v", err, skipped)
	}
	_, records, skipped, err := in.IngestMessage(ctx, depositMessage("msg-1"))
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if !skipped || len(records) != 0 {
		t.Fatalf("losing the write race must read as a skip, got skipped=%v records=%d", skipped, len(records))
	}
}

type failingLedger struct{}

func (failingLedger) Has(ctx context.Context, messageID string) (bool, error) {
	return false, errors.New("backend unavailable")
}

func (failingLedger) Write(ctx context.Context, messageID string, outcome models.ProcessingOutcome) error {
	return errors.New("backend unavailable")
}

func TestIngestMessageLedgerFailure(t *testing.T) {
	in := testIngestor(failingLedger{})

	_, _, _, err := in.IngestMessage(context.Background(), depositMessage("msg-1"))
	if err == nil {
		t.Fatalf("expected error when the ledger is unavailable")
	}
	if !strings.Contains(err.Error(), "ledger lookup") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestIngestBatchIsolatesFailures(t *testing.T) {
	led := ledger.NewMemoryLedger()
	in := testIngestor(led)
	ctx := context.Background()

	// Seed a prior run so the last message counts as skipped.
	if _, _, _, err := in.IngestMessage(ctx, depositMessage("msg-dup")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	msgs := []models.RawMessage{
		depositMessage("msg-ok"),
		{
			ID:         "msg-news",
			Subject:    "Weekly market newsletter",
			Body:       "Top stories this week.",
			ReceivedAt: time.Now().UTC(),
		},
		{
			ID:         "msg-bad",
			Subject:    "USDT Deposit Confirmed",
			Body:       "We could not complete your request.",
			ReceivedAt: time.Now().UTC(),
		},
		depositMessage("msg-dup"),
	}

	summary, records, err := in.IngestBatch(ctx, msgs)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if summary.Processed != 1 || summary.Ignored != 1 || summary.Failed != 1 || summary.Skipped != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.Total() != len(msgs) {
		t.Errorf("summary total %d != %d messages", summary.Total(), len(msgs))
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 extracted record, got %d", len(records))
	}
}

func TestSafeParseRecoversPanic(t *testing.T) {
	var p *mailparse.Parser
	c := mailparse.Classification{Type: models.TypeDeposit, Body: "deposit of 5 USDT"}

	records, err := safeParse(p, c)
	if err == nil || !strings.Contains(err.Error(), "parser panic") {
		t.Fatalf("expected recovered panic, got records=%v err=%v", records, err)
	}
}
