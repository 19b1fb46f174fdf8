package logger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Batch-run counters. The pipeline and writers bump these so operators can
// watch format drift (rising IGNORED/FAILED counts) without grepping raw logs.
var (
	messagesRead      int64
	messagesProcessed int64
	messagesIgnored   int64
	messagesFailed    int64
	recordsEmitted    int64
	sinkWrites        int64
)

var componentWarns sync.Map  // map[string]*int64
var componentErrors sync.Map // map[string]*int64

func recordWarn(component string) {
	counterFor(&componentWarns, component).Add(1)
}

func recordError(component string) {
	counterFor(&componentErrors, component).Add(1)
}

func counterFor(m *sync.Map, key string) *atomic.Int64 {
	v, _ := m.LoadOrStore(key, &atomic.Int64{})
	return v.(*atomic.Int64)
}

// IncrementMessagesRead records a message pulled from a source.
func IncrementMessagesRead() { atomic.AddInt64(&messagesRead, 1) }

// IncrementProcessed records a message that produced transaction records.
func IncrementProcessed() { atomic.AddInt64(&messagesProcessed, 1) }

// IncrementIgnored records a message that was not a transaction notification.
func IncrementIgnored() { atomic.AddInt64(&messagesIgnored, 1) }

// IncrementFailed records a message that was classified but unparseable, or
// that raised an unexpected error.
func IncrementFailed() { atomic.AddInt64(&messagesFailed, 1) }

// IncrementRecords adds to the emitted record total.
func IncrementRecords(n int) { atomic.AddInt64(&recordsEmitted, int64(n)) }

// IncrementSinkWrites records a successful flush to a downstream sink.
func IncrementSinkWrites() { atomic.AddInt64(&sinkWrites, 1) }

// StartReport launches a goroutine that periodically logs a run summary and
// publishes the counters to CloudWatch when configured.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				emitReport(ctx, log)
			}
		}
	}()
}

func emitReport(ctx context.Context, log *Log) {
	read := atomic.LoadInt64(&messagesRead)
	processed := atomic.LoadInt64(&messagesProcessed)
	ignored := atomic.LoadInt64(&messagesIgnored)
	failed := atomic.LoadInt64(&messagesFailed)
	records := atomic.LoadInt64(&recordsEmitted)
	writes := atomic.LoadInt64(&sinkWrites)

	fields := Fields{
		"messages_read":      read,
		"messages_processed": processed,
		"messages_ignored":   ignored,
		"messages_failed":    failed,
		"records_emitted":    records,
		"sink_writes":        writes,
	}

	componentWarns.Range(func(k, v interface{}) bool {
		fields["warns_"+k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	componentErrors.Range(func(k, v interface{}) bool {
		fields["errors_"+k.(string)] = v.(*atomic.Int64).Load()
		return true
	})

	log.WithComponent("report").WithFields(fields).Info("ingestion report")

	data := []cwtypes.MetricDatum{
		metricDatum("MessagesRead", read),
		metricDatum("MessagesProcessed", processed),
		metricDatum("MessagesIgnored", ignored),
		metricDatum("MessagesFailed", failed),
		metricDatum("RecordsEmitted", records),
		metricDatum("SinkWrites", writes),
	}
	publishMetrics(ctx, data)
}

func metricDatum(name string, value int64) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Unit:       cwtypes.StandardUnitCount,
		Value:      aws.Float64(float64(value)),
	}
}
