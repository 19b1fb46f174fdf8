package channel

import (
	"context"
	"sync"
	"time"

	"ledgerflow/logger"
	"ledgerflow/models"
)

type ChannelStats struct {
	RawSent        int64
	RecordsSent    int64
	RawDropped     int64
	RecordsDropped int64
}

// Channels connects the sources to the pipeline and the pipeline to the
// sinks. Raw carries unparsed messages, Records carries batches of
// normalized transaction records.
type Channels struct {
	Raw     chan models.RawMessage
	Records chan models.RecordBatch

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(rawBufferSize, recordBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Raw:     make(chan models.RawMessage, rawBufferSize),
		Records: make(chan models.RecordBatch, recordBufferSize),
		log:     log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"raw_buffer_size":    rawBufferSize,
		"record_buffer_size": recordBufferSize,
	}).Info("channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Raw)
	close(c.Records)
	c.log.WithComponent("channels").Info("channels closed")
}

func (c *Channels) IncrementRawSent() {
	c.statsMutex.Lock()
	c.stats.RawSent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementRecordsSent() {
	c.statsMutex.Lock()
	c.stats.RecordsSent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementRawDropped() {
	c.statsMutex.Lock()
	c.stats.RawDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementRecordsDropped() {
	c.statsMutex.Lock()
	c.stats.RecordsDropped++
	c.statsMutex.Unlock()
}

// SendRaw offers a message to the raw channel without blocking. A full
// channel counts as a drop so backpressure shows up in the stats.
func (c *Channels) SendRaw(ctx context.Context, msg models.RawMessage) bool {
	select {
	case c.Raw <- msg:
		c.IncrementRawSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.IncrementRawDropped()
		return false
	}
}

func (c *Channels) SendRecords(ctx context.Context, batch models.RecordBatch) bool {
	select {
	case c.Records <- batch:
		c.IncrementRecordsSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.IncrementRecordsDropped()
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

// StartMetricsReporting logs channel utilization on an interval until the
// context is cancelled.
func (c *Channels) StartMetricsReporting(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := c.GetStats()
				c.log.WithComponent("channels").WithFields(logger.Fields{
					"raw_len":         len(c.Raw),
					"raw_cap":         cap(c.Raw),
					"records_len":     len(c.Records),
					"records_cap":     cap(c.Records),
					"raw_sent":        stats.RawSent,
					"records_sent":    stats.RecordsSent,
					"raw_dropped":     stats.RawDropped,
					"records_dropped": stats.RecordsDropped,
				}).Info("channel utilization")
			}
		}
	}()
}
