package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	kafka "github.com/segmentio/kafka-go"

	appconfig "ledgerflow/config"
	"ledgerflow/logger"
	"ledgerflow/models"
)

// KafkaWriter publishes every record batch to a Kafka topic for downstream
// consumers (reconciliation, alerting).
type KafkaWriter struct {
	config      *appconfig.Config
	recordsChan <-chan models.RecordBatch
	writer      *kafka.Writer
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log
}

func NewKafkaWriter(cfg *appconfig.Config, recordsChan <-chan models.RecordBatch) (*KafkaWriter, error) {
	if len(cfg.Storage.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	kw := &KafkaWriter{
		config:      cfg,
		recordsChan: recordsChan,
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Storage.Kafka.Brokers...),
			Topic:    cfg.Storage.Kafka.Topic,
			Balancer: &kafka.LeastBytes{},
		},
		wg:  &sync.WaitGroup{},
		log: logger.GetLogger(),
	}
	kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"brokers": cfg.Storage.Kafka.Brokers,
		"topic":   cfg.Storage.Kafka.Topic,
	}).Info("kafka writer initialized")
	return kw, nil
}

func (kw *KafkaWriter) Start(ctx context.Context) error {
	kw.mu.Lock()
	if kw.running {
		kw.mu.Unlock()
		return fmt.Errorf("kafka writer already running")
	}
	kw.running = true
	kw.ctx = ctx
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Info("starting kafka writer")

	kw.wg.Add(1)
	go kw.run()

	return nil
}

func (kw *KafkaWriter) run() {
	defer kw.wg.Done()

	for {
		select {
		case <-kw.ctx.Done():
			return
		case batch, ok := <-kw.recordsChan:
			if !ok {
				return
			}
			data, err := json.Marshal(batch)
			if err != nil {
				kw.log.WithComponent("kafka_writer").WithError(err).Warn("failed to marshal batch")
				continue
			}
			msg := kafka.Message{
				Key:   []byte(batch.Source),
				Value: data,
			}
			if err := kw.writer.WriteMessages(kw.ctx, msg); err != nil {
				kw.log.WithComponent("kafka_writer").WithError(err).Warn("failed to write message")
			} else {
				logger.IncrementSinkWrites()
				kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
					"batch_id": batch.BatchID,
					"records":  batch.RecordCount,
				}).Info("batch written to kafka")
			}
		}
	}
}

func (kw *KafkaWriter) Stop() {
	kw.mu.Lock()
	kw.running = false
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Info("stopping kafka writer")
	kw.writer.Close()
	kw.wg.Wait()
	kw.log.WithComponent("kafka_writer").Info("kafka writer stopped")
}
