package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	parquetwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "ledgerflow/config"
	"ledgerflow/logger"
	"ledgerflow/models"
)

// archiveRecord is the parquet row layout of the long-term archive. Decimal
// amounts are stored as strings so precision survives round trips.
type archiveRecord struct {
	ExternalID      string `parquet:"name=external_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	TransactionType string `parquet:"name=transaction_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol          string `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side            string `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Quantity        string `parquet:"name=quantity, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price           string `parquet:"name=price, type=BYTE_ARRAY, convertedtype=UTF8"`
	QuoteQuantity   string `parquet:"name=quote_quantity, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status          string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	OrderType       string `parquet:"name=order_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Time            int64  `parquet:"name=time, type=INT64"`
	UpdateTime      int64  `parquet:"name=update_time, type=INT64"`
	WalletAddress   string `parquet:"name=wallet_address, type=BYTE_ARRAY, convertedtype=UTF8"`
	SourceType      string `parquet:"name=source_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Platform        string `parquet:"name=platform, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// memoryFileWriter implements the ParquetFile interface over a byte buffer so
// files can be built in memory and uploaded in one request.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

// ArchiveWriter uploads every record batch as a parquet file to S3, partitioned
// by date. The archive is the replayable source of truth; the CSV reports are
// the human-facing view.
type ArchiveWriter struct {
	config      *appconfig.Config
	recordsChan <-chan models.RecordBatch
	s3Client    *s3.Client
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log
}

func NewArchiveWriter(cfg *appconfig.Config, recordsChan <-chan models.RecordBatch) (*ArchiveWriter, error) {
	log := logger.GetLogger()

	s3Client, err := newS3Client(context.Background(), cfg.Storage.S3)
	if err != nil {
		log.WithComponent("archive_writer").WithError(err).Warn("failed to configure S3 client")
		return nil, err
	}

	w := &ArchiveWriter{
		config:      cfg,
		recordsChan: recordsChan,
		s3Client:    s3Client,
		wg:          &sync.WaitGroup{},
		log:         log,
	}

	log.WithComponent("archive_writer").WithFields(logger.Fields{
		"bucket": cfg.Storage.S3.Bucket,
		"prefix": cfg.Storage.S3.ArchivePrefix,
	}).Info("archive writer initialized")

	return w, nil
}

func (w *ArchiveWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("archive writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	log := w.log.WithComponent("archive_writer").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting archive writer")

	w.wg.Add(1)
	go w.worker()

	log.Info("archive writer started successfully")
	return nil
}

func (w *ArchiveWriter) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.log.WithComponent("archive_writer").Info("stopping archive writer")
	w.wg.Wait()
	w.log.WithComponent("archive_writer").Info("archive writer stopped")
}

func (w *ArchiveWriter) worker() {
	defer w.wg.Done()

	log := w.log.WithComponent("archive_writer").WithFields(logger.Fields{"worker": "archive"})
	log.Info("starting archive worker")

	for {
		select {
		case <-w.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case batch, ok := <-w.recordsChan:
			if !ok {
				log.Info("records channel closed, worker stopping")
				return
			}
			w.processBatch(batch)
		}
	}
}

func (w *ArchiveWriter) processBatch(batch models.RecordBatch) {
	log := w.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"batch_id":     batch.BatchID,
		"source":       batch.Source,
		"record_count": batch.RecordCount,
		"operation":    "process_batch",
	})

	if batch.RecordCount == 0 {
		return
	}

	log.Info("processing batch")

	data, err := archiveParquet(batch.Records)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	key := w.archiveKey(batch)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":       "parquet",
			"ledgerflow-version": w.config.Ledgerflow.Version,
		},
	}

	ctx := context.WithoutCancel(w.ctx)
	if _, err := w.s3Client.PutObject(ctx, input); err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"bucket": w.config.Storage.S3.Bucket,
			"s3_key": key,
		}).Error("failed to upload archive to S3")
		return
	}

	logger.IncrementSinkWrites()
	log.WithFields(logger.Fields{"s3_key": key, "file_size": len(data)}).Info("batch archived successfully")
	logger.LogDataFlowEntry(log, "records_channel", "s3_archive", batch.RecordCount, "parquet_rows")
}

func (w *ArchiveWriter) archiveKey(batch models.RecordBatch) string {
	ts := batch.ProcessedAt.UTC()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	filename := fmt.Sprintf("%s_%s.parquet", batch.Source, batch.BatchID)
	return path.Join(
		w.config.Storage.S3.ArchivePrefix,
		fmt.Sprintf("source=%s", batch.Source),
		fmt.Sprintf("date=%s", ts.Format("2006-01-02")),
		filename,
	)
}

// archiveParquet renders records as a snappy-compressed parquet file.
func archiveParquet(records []models.TransactionRecord) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := parquetwriter.NewParquetWriter(fw, new(archiveRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		price := ""
		if rec.Price.Valid {
			price = rec.Price.Decimal.String()
		}
		row := archiveRecord{
			ExternalID:      rec.ExternalID,
			TransactionType: string(rec.TransactionType),
			Symbol:          rec.Symbol,
			Side:            string(rec.Side),
			Quantity:        rec.Quantity.String(),
			Price:           price,
			QuoteQuantity:   rec.QuoteQuantity.String(),
			Status:          string(rec.Status),
			OrderType:       rec.OrderType,
			Time:            rec.Time.UnixMilli(),
			UpdateTime:      rec.UpdateTime.UnixMilli(),
			WalletAddress:   rec.WalletAddress,
			SourceType:      string(rec.SourceType),
			Platform:        rec.Platform,
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}
