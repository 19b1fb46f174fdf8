// Package notify aggregates processed records into periodic digests for the
// operations channel. The digest is emitted through the structured log; a
// delivery transport can tail it without the pipeline knowing about inboxes.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	appconfig "ledgerflow/config"
	"ledgerflow/logger"
	"ledgerflow/models"
)

// digestStats accumulates one digest window.
type digestStats struct {
	batches      int
	records      int
	countByType  map[models.TransactionType]int
	sumBySymbol  map[string]decimal.Decimal
	firstAt      time.Time
	lastAt       time.Time
}

func newDigestStats() *digestStats {
	return &digestStats{
		countByType: make(map[models.TransactionType]int),
		sumBySymbol: make(map[string]decimal.Decimal),
	}
}

func (s *digestStats) add(batch models.RecordBatch) {
	s.batches++
	s.records += len(batch.Records)
	for _, rec := range batch.Records {
		s.countByType[rec.TransactionType]++
		s.sumBySymbol[rec.Symbol] = s.sumBySymbol[rec.Symbol].Add(rec.Quantity)
		if s.firstAt.IsZero() || rec.Time.Before(s.firstAt) {
			s.firstAt = rec.Time
		}
		if rec.Time.After(s.lastAt) {
			s.lastAt = rec.Time
		}
	}
}

// Delivery sends a rendered digest to its audience.
type Delivery interface {
	Deliver(ctx context.Context, customer, digest string) error
}

// logDelivery emits digests through the structured log.
type logDelivery struct {
	log *logger.Log
}

func (l *logDelivery) Deliver(_ context.Context, customer, digest string) error {
	l.log.WithComponent("digester").WithFields(logger.Fields{
		"customer": customer,
		"digest":   digest,
	}).Info("activity digest")
	return nil
}

// Digester consumes record batches and emits a per-window activity summary.
type Digester struct {
	config      *appconfig.Config
	recordsChan <-chan models.RecordBatch
	delivery    Delivery
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log
	stats       *digestStats
}

func NewDigester(cfg *appconfig.Config, recordsChan <-chan models.RecordBatch) *Digester {
	log := logger.GetLogger()
	return &Digester{
		config:      cfg,
		recordsChan: recordsChan,
		delivery:    &logDelivery{log: log},
		wg:          &sync.WaitGroup{},
		log:         log,
		stats:       newDigestStats(),
	}
}

// SetDelivery overrides the default log delivery. Must be called before Start.
func (d *Digester) SetDelivery(del Delivery) {
	d.delivery = del
}

func (d *Digester) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("digester already running")
	}
	d.running = true
	d.ctx = ctx
	d.mu.Unlock()

	log := d.log.WithComponent("digester").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting digester")

	d.wg.Add(1)
	go d.worker()

	log.Info("digester started successfully")
	return nil
}

func (d *Digester) Stop() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	d.log.WithComponent("digester").Info("stopping digester")
	d.wg.Wait()
	d.log.WithComponent("digester").Info("digester stopped")
}

func (d *Digester) worker() {
	defer d.wg.Done()

	log := d.log.WithComponent("digester").WithFields(logger.Fields{"worker": "digest"})
	log.Info("starting digest worker")

	interval := d.config.Notify.DigestInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			d.emit("shutdown")
			log.Info("worker stopped due to context cancellation")
			return
		case <-ticker.C:
			d.emit("interval")
		case batch, ok := <-d.recordsChan:
			if !ok {
				d.emit("channel closed")
				log.Info("records channel closed, worker stopping")
				return
			}
			d.mu.Lock()
			d.stats.add(batch)
			d.mu.Unlock()
		}
	}
}

func (d *Digester) emit(reason string) {
	d.mu.Lock()
	stats := d.stats
	d.stats = newDigestStats()
	d.mu.Unlock()

	if stats.records == 0 {
		return
	}

	customer := d.config.Notify.Customer
	digest := formatDigest(customer, stats)

	if err := d.delivery.Deliver(context.Background(), customer, digest); err != nil {
		d.log.WithComponent("digester").WithError(err).WithFields(logger.Fields{
			"reason": reason,
		}).Warn("failed to deliver digest")
		return
	}

	d.log.WithComponent("digester").WithFields(logger.Fields{
		"reason":       reason,
		"batch_count":  stats.batches,
		"record_count": stats.records,
	}).Info("digest delivered")
}

// formatDigest renders one digest window as a human-readable summary, one
// line per transaction type and per symbol total.
func formatDigest(customer string, stats *digestStats) string {
	var b strings.Builder

	fmt.Fprintf(&b, "activity digest for %s: %d records in %d batches", customer, stats.records, stats.batches)
	if !stats.firstAt.IsZero() {
		fmt.Fprintf(&b, " (%s to %s)",
			stats.firstAt.UTC().Format(time.RFC3339),
			stats.lastAt.UTC().Format(time.RFC3339))
	}

	types := make([]string, 0, len(stats.countByType))
	for typ := range stats.countByType {
		types = append(types, string(typ))
	}
	sort.Strings(types)
	for _, typ := range types {
		fmt.Fprintf(&b, "; %s=%d", strings.ToLower(typ), stats.countByType[models.TransactionType(typ)])
	}

	symbols := make([]string, 0, len(stats.sumBySymbol))
	for sym := range stats.sumBySymbol {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		fmt.Fprintf(&b, "; total %s %s", stats.sumBySymbol[sym].String(), sym)
	}

	return b.String()
}
