// Package processor runs the ingestion pipeline: dedup check, classify,
// parse, ledger write. Ingestor is the synchronous core; Processor wraps it
// into a channel component with workers and batching.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledgerflow/internal/ledger"
	"ledgerflow/internal/mailparse"
	"ledgerflow/logger"
	"ledgerflow/models"
)

// Summary counts how a set of messages ended up.
type Summary struct {
	Processed int
	Ignored   int
	Failed    int
	// Skipped counts messages that already had a ledger entry. They produce
	// no new outcome and no records.
	Skipped int
}

func (s Summary) Total() int {
	return s.Processed + s.Ignored + s.Failed + s.Skipped
}

// Ingestor pushes one message at a time through classify, parse and the
// dedup ledger. It is safe for concurrent use when the underlying ledger is.
type Ingestor struct {
	parser *mailparse.Parser
	ledger ledger.Ledger
	log    *logger.Log
}

func NewIngestor(parser *mailparse.Parser, led ledger.Ledger) *Ingestor {
	return &Ingestor{
		parser: parser,
		ledger: led,
		log:    logger.GetLogger(),
	}
}

// IngestMessage runs one message through the pipeline and records exactly one
// terminal outcome for it. skipped is true when the message id already had a
// ledger entry, either before the call or because a concurrent run won the
// write race; in both cases nothing was extracted by this call.
//
// A non-nil error means the ledger itself failed and the message's outcome is
// unknown; parse failures are not errors, they are FAILED outcomes.
func (in *Ingestor) IngestMessage(ctx context.Context, msg models.RawMessage) (models.ProcessingOutcome, []models.TransactionRecord, bool, error) {
	log := in.log.WithComponent("ingestor").WithFields(logger.Fields{
		"message_id": msg.ID,
		"source":     msg.Source,
	})

	seen, err := in.ledger.Has(ctx, msg.ID)
	if err != nil {
		return models.ProcessingOutcome{}, nil, false, fmt.Errorf("ledger lookup for message %s: %w", msg.ID, err)
	}
	if seen {
		log.Info("message already recorded, skipping")
		return models.ProcessingOutcome{}, nil, true, nil
	}

	c := mailparse.Classify(msg.Subject, msg.Body, msg.ReceivedAt)
	records, parseErr := safeParse(in.parser, c)

	outcome := models.ProcessingOutcome{ProcessedAt: time.Now().UTC()}
	switch {
	case parseErr != nil:
		outcome.Status = models.OutcomeFailed
		outcome.Reason = parseErr.Error()
		log.WithError(parseErr).WithFields(logger.Fields{
			"transaction_type": string(c.Type),
		}).Warn("message failed extraction")
	case len(records) == 0:
		outcome.Status = models.OutcomeIgnored
		outcome.Reason = "unclassified"
		log.Info("message not recognized as a transaction notification")
	default:
		outcome.Status = models.OutcomeProcessed
		for _, rec := range records {
			outcome.ProducedExternalIDs = append(outcome.ProducedExternalIDs, rec.ExternalID)
		}
		log.WithFields(logger.Fields{
			"transaction_type": string(c.Type),
			"record_count":     len(records),
		}).Info("message extracted")
	}

	if err := in.ledger.Write(ctx, msg.ID, outcome); err != nil {
		if errors.Is(err, ledger.ErrDuplicateEntry) {
			// A concurrent run recorded this message between our lookup and
			// our write. Its outcome stands, ours is discarded.
			log.Warn("lost ledger write race, discarding extraction")
			return models.ProcessingOutcome{}, nil, true, nil
		}
		return models.ProcessingOutcome{}, nil, false, fmt.Errorf("ledger write for message %s: %w", msg.ID, err)
	}

	switch outcome.Status {
	case models.OutcomeProcessed:
		logger.IncrementProcessed()
		logger.IncrementRecords(len(records))
	case models.OutcomeIgnored:
		logger.IncrementIgnored()
	case models.OutcomeFailed:
		logger.IncrementFailed()
		records = nil
	}
	return outcome, records, false, nil
}

// IngestBatch processes messages independently: one message failing to parse
// never affects its neighbours. Only a ledger failure aborts the batch, and
// the summary then covers the messages handled before the failure.
func (in *Ingestor) IngestBatch(ctx context.Context, msgs []models.RawMessage) (Summary, []models.TransactionRecord, error) {
	var (
		summary Summary
		records []models.TransactionRecord
	)
	for _, msg := range msgs {
		outcome, recs, skipped, err := in.IngestMessage(ctx, msg)
		if err != nil {
			return summary, records, err
		}
		if skipped {
			summary.Skipped++
			continue
		}
		switch outcome.Status {
		case models.OutcomeProcessed:
			summary.Processed++
			records = append(records, recs...)
		case models.OutcomeIgnored:
			summary.Ignored++
		case models.OutcomeFailed:
			summary.Failed++
		}
	}
	return summary, records, nil
}

// safeParse contains parser panics so a malformed message cannot take down a
// worker. A recovered panic reads as a FAILED outcome like any parse error.
func safeParse(p *mailparse.Parser, c mailparse.Classification) (records []models.TransactionRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			records = nil
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()
	return p.Parse(c)
}
