package writer

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "ledgerflow/config"
	"ledgerflow/logger"
	"ledgerflow/models"
)

var reportHeader = []string{
	"external_id", "transaction_type", "symbol", "side",
	"quantity", "price", "quote_quantity", "status", "order_type",
	"time", "update_time", "description", "wallet_address",
	"payment_method", "payment_currency", "payment_reference",
	"source_type", "platform",
}

// ReportWriter accumulates records and periodically uploads them as a CSV
// report to S3. Reports are accounting exports: one file per flush, named by
// upload time.
type ReportWriter struct {
	config      *appconfig.Config
	recordsChan <-chan models.RecordBatch
	s3Client    *s3.Client
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log
	buffer      []models.TransactionRecord
	flushTicker *time.Ticker
}

func NewReportWriter(cfg *appconfig.Config, recordsChan <-chan models.RecordBatch) (*ReportWriter, error) {
	log := logger.GetLogger()

	s3Client, err := newS3Client(context.Background(), cfg.Storage.S3)
	if err != nil {
		log.WithComponent("report_writer").WithError(err).Warn("failed to configure S3 client")
		return nil, err
	}

	w := &ReportWriter{
		config:      cfg,
		recordsChan: recordsChan,
		s3Client:    s3Client,
		wg:          &sync.WaitGroup{},
		log:         log,
	}

	log.WithComponent("report_writer").WithFields(logger.Fields{
		"bucket": cfg.Storage.S3.Bucket,
		"prefix": cfg.Storage.S3.ReportPrefix,
	}).Info("report writer initialized")

	return w, nil
}

func (w *ReportWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("report writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	log := w.log.WithComponent("report_writer").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting report writer")

	interval := w.config.Storage.S3.FlushInterval
	if interval <= 0 {
		interval = time.Minute
	}
	w.flushTicker = time.NewTicker(interval)

	w.wg.Add(1)
	go w.worker()

	log.Info("report writer started successfully")
	return nil
}

func (w *ReportWriter) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	w.log.WithComponent("report_writer").Info("stopping report writer")
	w.wg.Wait()
	w.log.WithComponent("report_writer").Info("report writer stopped")
}

func (w *ReportWriter) worker() {
	defer w.wg.Done()

	log := w.log.WithComponent("report_writer").WithFields(logger.Fields{"worker": "report"})
	log.Info("starting report worker")

	for {
		select {
		case <-w.ctx.Done():
			w.flush("shutdown")
			log.Info("worker stopped due to context cancellation")
			return
		case <-w.flushTicker.C:
			w.flush("interval")
		case batch, ok := <-w.recordsChan:
			if !ok {
				w.flush("channel closed")
				log.Info("records channel closed, worker stopping")
				return
			}
			w.mu.Lock()
			w.buffer = append(w.buffer, batch.Records...)
			w.mu.Unlock()
		}
	}
}

func (w *ReportWriter) flush(reason string) {
	w.mu.Lock()
	records := w.buffer
	w.buffer = nil
	w.mu.Unlock()

	if len(records) == 0 {
		return
	}

	log := w.log.WithComponent("report_writer").WithFields(logger.Fields{
		"record_count": len(records),
		"reason":       reason,
		"operation":    "flush",
	})
	log.Info("flushing report")

	data, err := reportCSV(records)
	if err != nil {
		log.WithError(err).Error("failed to build CSV report")
		return
	}

	key := w.reportKey(time.Now().UTC())
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/csv"),
	}

	ctx := context.WithoutCancel(w.ctx)
	if _, err := w.s3Client.PutObject(ctx, input); err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"bucket": w.config.Storage.S3.Bucket,
			"s3_key": key,
		}).Error("failed to upload report to S3")
		return
	}

	logger.IncrementSinkWrites()
	log.WithFields(logger.Fields{"s3_key": key, "file_size": len(data)}).Info("report uploaded successfully")
	logger.LogDataFlowEntry(log, "records_channel", "s3_report", len(records), "csv_rows")
}

func (w *ReportWriter) reportKey(ts time.Time) string {
	filename := fmt.Sprintf("transactions_%s.csv", ts.Format("20060102150405"))
	return path.Join(
		w.config.Storage.S3.ReportPrefix,
		fmt.Sprintf("date=%s", ts.Format("2006-01-02")),
		filename,
	)
}

// reportCSV renders records as a CSV document with a header row. A null price
// renders as an empty cell, not zero.
func reportCSV(records []models.TransactionRecord) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	if err := cw.Write(reportHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range records {
		if err := cw.Write(reportRow(rec)); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func reportRow(rec models.TransactionRecord) []string {
	price := ""
	if rec.Price.Valid {
		price = rec.Price.Decimal.String()
	}

	var method, currency, reference string
	if rec.PaymentDetails != nil {
		method = rec.PaymentDetails.Method
		currency = rec.PaymentDetails.Currency
		reference = rec.PaymentDetails.Reference
	}

	return []string{
		rec.ExternalID,
		string(rec.TransactionType),
		rec.Symbol,
		string(rec.Side),
		rec.Quantity.String(),
		price,
		rec.QuoteQuantity.String(),
		string(rec.Status),
		rec.OrderType,
		rec.Time.UTC().Format(time.RFC3339),
		rec.UpdateTime.UTC().Format(time.RFC3339),
		rec.Description,
		rec.WalletAddress,
		method,
		currency,
		reference,
		string(rec.SourceType),
		rec.Platform,
	}
}
