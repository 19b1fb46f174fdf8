package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	appconfig "ledgerflow/config"
	"ledgerflow/internal/ledger"
	"ledgerflow/internal/mailparse"
	"ledgerflow/logger"
	"ledgerflow/models"
)

// Processor consumes raw messages, runs them through the Ingestor and
// batches the extracted records per source for the writers.
type Processor struct {
	config      *appconfig.Config
	ingestor    *Ingestor
	rawChan     <-chan models.RawMessage
	recordsChan chan<- models.RecordBatch
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log

	// Batching
	batches   map[string]*models.RecordBatch
	lastFlush map[string]time.Time

	// Metrics
	messagesHandled  int64
	recordsExtracted int64
	batchesFlushed   int64
	skippedCount     int64
	errorsCount      int64
}

func NewProcessor(cfg *appconfig.Config, led ledger.Ledger, rawChan <-chan models.RawMessage, recordsChan chan<- models.RecordBatch) *Processor {
	return &Processor{
		config:      cfg,
		ingestor:    NewIngestor(mailparse.New(cfg.Parser), led),
		rawChan:     rawChan,
		recordsChan: recordsChan,
		wg:          &sync.WaitGroup{},
		log:         logger.GetLogger(),
		batches:     make(map[string]*models.RecordBatch),
		lastFlush:   make(map[string]time.Time),
	}
}

func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("processor already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	log := p.log.WithComponent("processor").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting processor")

	numWorkers := p.config.Pipeline.MaxWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}

	log.WithFields(logger.Fields{"workers": numWorkers}).Info("starting processor workers")

	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.wg.Add(1)
	go p.batchFlusher()

	go p.metricsReporter(ctx)

	log.Info("processor started successfully")
	return nil
}

func (p *Processor) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.log.WithComponent("processor").Info("stopping processor")

	p.wg.Wait()

	// Workers are done, nothing appends to batches anymore.
	p.flushAllBatches()

	p.log.WithComponent("processor").Info("processor stopped")
}

func (p *Processor) worker(workerID int) {
	defer p.wg.Done()

	log := p.log.WithComponent("processor").WithFields(logger.Fields{
		"worker_id": workerID,
		"worker":    "processor",
	})

	log.Info("starting processor worker")

	for {
		select {
		case <-p.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case msg, ok := <-p.rawChan:
			if !ok {
				log.Info("raw channel closed, worker stopping")
				return
			}

			start := time.Now()
			extracted := p.processMessage(msg)
			duration := time.Since(start)

			logger.LogPerformanceEntry(log, "processor", "ingest_message", duration, logger.Fields{
				"worker_id":  workerID,
				"message_id": msg.ID,
				"source":     msg.Source,
				"extracted":  extracted,
			})
		}
	}
}

func (p *Processor) processMessage(msg models.RawMessage) int {
	outcome, records, skipped, err := p.ingestor.IngestMessage(p.ctx, msg)

	p.mu.Lock()
	p.messagesHandled++
	switch {
	case err != nil:
		p.errorsCount++
	case skipped:
		p.skippedCount++
	default:
		p.recordsExtracted += int64(len(records))
	}
	p.mu.Unlock()

	if err != nil {
		p.log.WithComponent("processor").WithError(err).WithFields(logger.Fields{
			"message_id": msg.ID,
		}).Error("ledger failure, message outcome unknown")
		return 0
	}
	if skipped || outcome.Status != models.OutcomeProcessed {
		return 0
	}

	p.addToBatch(msg.Source, records)
	return len(records)
}

func (p *Processor) addToBatch(source string, records []models.TransactionRecord) {
	if source == "" {
		source = "unknown"
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	batch, exists := p.batches[source]
	if !exists {
		batch = &models.RecordBatch{
			BatchID:     uuid.New().String(),
			Source:      source,
			Records:     make([]models.TransactionRecord, 0, p.config.Pipeline.BatchSize),
			ProcessedAt: time.Now(),
		}
		p.batches[source] = batch
		p.lastFlush[source] = time.Now()
	}

	batch.Records = append(batch.Records, records...)
	batch.RecordCount = len(batch.Records)

	if batch.RecordCount >= p.config.Pipeline.BatchSize {
		p.flushBatch(source)
	}
}

func (p *Processor) batchFlusher() {
	defer p.wg.Done()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.flushTimedOutBatches()
		}
	}
}

func (p *Processor) flushTimedOutBatches() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for source, lastFlush := range p.lastFlush {
		if now.Sub(lastFlush) >= p.config.Pipeline.BatchTimeout {
			p.flushBatch(source)
		}
	}
}

// flushBatch sends one batch downstream. Callers hold p.mu.
func (p *Processor) flushBatch(source string) {
	batch, exists := p.batches[source]
	if !exists || batch.RecordCount == 0 {
		return
	}

	log := p.log.WithComponent("processor").WithFields(logger.Fields{
		"batch_id":     batch.BatchID,
		"source":       source,
		"record_count": batch.RecordCount,
		"operation":    "flush_batch",
	})

	select {
	case p.recordsChan <- *batch:
		p.batchesFlushed++
		delete(p.batches, source)
		delete(p.lastFlush, source)

		log.Info("batch flushed successfully")
		logger.LogDataFlowEntry(log, "processor", "records_channel", batch.RecordCount, "batch")

	default:
		log.Warn("records channel is full, batch not sent")
	}
}

func (p *Processor) flushAllBatches() {
	p.mu.Lock()
	defer p.mu.Unlock()

	log := p.log.WithComponent("processor").WithFields(logger.Fields{"operation": "flush_all_batches"})
	log.Info("flushing all remaining batches")

	for source := range p.batches {
		p.flushBatch(source)
	}

	log.WithFields(logger.Fields{"remaining_batches": len(p.batches)}).Info("all batches flushed")
}

func (p *Processor) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reportMetrics()
		}
	}
}

func (p *Processor) reportMetrics() {
	p.mu.RLock()
	messagesHandled := p.messagesHandled
	recordsExtracted := p.recordsExtracted
	batchesFlushed := p.batchesFlushed
	skippedCount := p.skippedCount
	errorsCount := p.errorsCount
	activeBatches := len(p.batches)
	p.mu.RUnlock()

	errorRate := float64(0)
	if messagesHandled > 0 {
		errorRate = float64(errorsCount) / float64(messagesHandled)
	}
	rawLen := len(p.rawChan)
	rawCap := cap(p.rawChan)
	recordsLen := len(p.recordsChan)
	recordsCap := cap(p.recordsChan)

	log := p.log.WithComponent("processor")
	p.log.LogMetric("processor", "messages_handled", messagesHandled, "counter", logger.Fields{})
	p.log.LogMetric("processor", "records_extracted", recordsExtracted, "counter", logger.Fields{})
	p.log.LogMetric("processor", "batches_flushed", batchesFlushed, "counter", logger.Fields{})
	p.log.LogMetric("processor", "messages_skipped", skippedCount, "counter", logger.Fields{})
	p.log.LogMetric("processor", "errors_count", errorsCount, "counter", logger.Fields{})
	p.log.LogMetric("processor", "error_rate", errorRate, "gauge", logger.Fields{})
	p.log.LogMetric("processor", "active_batches", activeBatches, "gauge", logger.Fields{})

	log.WithFields(logger.Fields{
		"messages_handled":    messagesHandled,
		"records_extracted":   recordsExtracted,
		"batches_flushed":     batchesFlushed,
		"messages_skipped":    skippedCount,
		"errors_count":        errorsCount,
		"error_rate":          errorRate,
		"active_batches":      activeBatches,
		"raw_channel_len":     rawLen,
		"raw_channel_cap":     rawCap,
		"records_channel_len": recordsLen,
		"records_channel_cap": recordsCap,
	}).Info("processor metrics")
}
