package writer

import (
	"context"
	"fmt"
	"sync"

	"ledgerflow/logger"
	"ledgerflow/models"
)

// Fanout duplicates every record batch from the pipeline to each sink's
// input channel. Sinks consume at different speeds; a sink whose buffer is
// full loses the batch rather than stalling the others.
type Fanout struct {
	in      <-chan models.RecordBatch
	outs    []chan models.RecordBatch
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
}

func NewFanout(in <-chan models.RecordBatch) *Fanout {
	return &Fanout{
		in:  in,
		wg:  &sync.WaitGroup{},
		log: logger.GetLogger(),
	}
}

// Subscribe registers one sink and returns its input channel. Must be called
// before Start.
func (f *Fanout) Subscribe(buffer int) <-chan models.RecordBatch {
	ch := make(chan models.RecordBatch, buffer)
	f.outs = append(f.outs, ch)
	return ch
}

func (f *Fanout) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("fanout already running")
	}
	f.running = true
	f.ctx = ctx
	f.mu.Unlock()

	f.log.WithComponent("fanout").WithFields(logger.Fields{
		"sinks": len(f.outs),
	}).Info("starting fanout")

	f.wg.Add(1)
	go f.run()

	return nil
}

func (f *Fanout) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()

	f.log.WithComponent("fanout").Info("stopping fanout")
	f.wg.Wait()
	for _, out := range f.outs {
		close(out)
	}
	f.log.WithComponent("fanout").Info("fanout stopped")
}

func (f *Fanout) run() {
	defer f.wg.Done()

	log := f.log.WithComponent("fanout")

	for {
		select {
		case <-f.ctx.Done():
			log.Info("fanout stopped due to context cancellation")
			return
		case batch, ok := <-f.in:
			if !ok {
				log.Info("records channel closed, fanout stopping")
				return
			}
			for i, out := range f.outs {
				select {
				case out <- batch:
				default:
					log.WithFields(logger.Fields{
						"sink_index": i,
						"batch_id":   batch.BatchID,
					}).Warn("sink buffer is full, dropping batch")
				}
			}
		}
	}
}
