// Package binance pulls confirmed deposit and withdrawal history from the
// Binance account API. API-sourced records are already structured, so they
// bypass the email parsing pipeline and go straight to the record channel.
package binance

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	appconfig "ledgerflow/config"
	"ledgerflow/internal/channel"
	"ledgerflow/logger"
	"ledgerflow/models"
)

const (
	// depositStatusSuccess is the Binance wallet status for a credited deposit.
	depositStatusSuccess = 1
	// withdrawStatusCompleted is the Binance wallet status for a finished withdrawal.
	withdrawStatusCompleted = 6
)

// applyTimeLayout is the timestamp format of withdrawal applyTime fields.
const applyTimeLayout = "2006-01-02 15:04:05"

type Reader struct {
	config   *appconfig.Config
	client   *binance.Client
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	// sinceMs is the exclusive lower bound of the next poll window. Windows
	// never overlap so each deposit and withdrawal is emitted once.
	sinceMs int64
}

func NewReader(cfg *appconfig.Config, ch *channel.Channels) *Reader {
	log := logger.GetLogger()
	src := cfg.Source.Binance

	transport := &http.Transport{
		MaxIdleConns:        src.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: src.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     src.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     src.ConnectionPool.IdleConnTimeout,
		DisableCompression:  false,
	}
	if src.LocalIP != "" {
		if ip := net.ParseIP(src.LocalIP); ip != nil {
			dialer := &net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}
			transport.DialContext = dialer.DialContext
		}
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   src.Timeout,
	}

	client := binance.NewClient(src.APIKey, src.APISecret)
	client.HTTPClient = httpClient
	if src.URL != "" {
		if parsed, err := url.Parse(src.URL); err == nil {
			client.BaseURL = fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
		}
	}

	window := src.Window
	if window <= 0 {
		window = time.Hour
	}

	r := &Reader{
		config:   cfg,
		client:   client,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      log,
		sinceMs:  time.Now().Add(-window).UnixMilli(),
	}

	log.WithComponent("binance_reader").WithFields(logger.Fields{
		"poll_interval": src.PollInterval,
		"window":        window,
	}).Info("binance history reader initialized")

	return r
}

func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("binance_reader").WithFields(logger.Fields{"operation": "start"})

	if !r.config.Source.Binance.Enabled {
		log.Warn("binance source is disabled")
		return fmt.Errorf("binance source is disabled")
	}

	log.Info("starting binance history reader")

	r.wg.Add(1)
	go r.pollWorker()

	log.Info("binance history reader started successfully")
	return nil
}

func (r *Reader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("binance_reader").Info("stopping binance history reader")
	r.wg.Wait()
	r.log.WithComponent("binance_reader").Info("binance history reader stopped")
}

func (r *Reader) pollWorker() {
	defer r.wg.Done()

	log := r.log.WithComponent("binance_reader").WithFields(logger.Fields{
		"worker": "history_fetcher",
	})

	log.Info("starting history worker")

	interval := r.config.Source.Binance.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case <-ticker.C:
			r.poll()
		}
	}
}

// poll fetches deposit and withdrawal history over the current window and
// emits one combined batch. The window only advances when both fetches
// succeed, so a failed call is retried on the next tick.
func (r *Reader) poll() {
	log := r.log.WithComponent("binance_reader").WithFields(logger.Fields{
		"operation": "fetch_history",
	})

	endMs := time.Now().UnixMilli()

	deposits, err := r.fetchDeposits(endMs)
	if err != nil {
		log.WithError(err).Warn("failed to fetch deposits")
		return
	}
	withdrawals, err := r.fetchWithdrawals(endMs)
	if err != nil {
		log.WithError(err).Warn("failed to fetch withdrawals")
		return
	}

	r.sinceMs = endMs + 1

	records := make([]models.TransactionRecord, 0, len(deposits)+len(withdrawals))
	for _, d := range deposits {
		rec, ok := depositRecord(d)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	for _, w := range withdrawals {
		rec, ok := withdrawRecord(w)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return
	}

	batch := models.RecordBatch{
		BatchID:     uuid.New().String(),
		Source:      "binance_api",
		Records:     records,
		RecordCount: len(records),
		ProcessedAt: time.Now().UTC(),
	}

	if r.channels.SendRecords(r.ctx, batch) {
		logger.IncrementRecords(len(records))
		log.WithFields(logger.Fields{"record_count": len(records)}).Info("history records sent to record channel")
		logger.LogDataFlowEntry(log, "binance_api", "records_channel", len(records), "history_records")
	} else if r.ctx.Err() == nil {
		log.Warn("records channel is full, dropping batch")
	}
}

func (r *Reader) fetchDeposits(endMs int64) ([]*binance.Deposit, error) {
	log := r.log.WithComponent("binance_reader")

	start := time.Now()
	deposits, err := r.client.NewListDepositsService().
		StartTime(r.sinceMs).
		EndTime(endMs).
		Do(r.ctx)
	if err != nil {
		return nil, err
	}
	logger.LogPerformanceEntry(log, "binance_reader", "list_deposits", time.Since(start), logger.Fields{
		"deposit_count": len(deposits),
	})
	return deposits, nil
}

func (r *Reader) fetchWithdrawals(endMs int64) ([]*binance.Withdraw, error) {
	log := r.log.WithComponent("binance_reader")

	start := time.Now()
	withdrawals, err := r.client.NewListWithdrawsService().
		StartTime(r.sinceMs).
		EndTime(endMs).
		Do(r.ctx)
	if err != nil {
		return nil, err
	}
	logger.LogPerformanceEntry(log, "binance_reader", "list_withdrawals", time.Since(start), logger.Fields{
		"withdrawal_count": len(withdrawals),
	})
	return withdrawals, nil
}

// depositRecord normalizes one wallet deposit. Pending or failed deposits and
// unparseable amounts are skipped.
func depositRecord(d *binance.Deposit) (models.TransactionRecord, bool) {
	if d == nil || d.Status != depositStatusSuccess {
		return models.TransactionRecord{}, false
	}
	amount, err := decimal.NewFromString(d.Amount)
	if err != nil || !amount.IsPositive() {
		return models.TransactionRecord{}, false
	}

	ts := time.UnixMilli(d.InsertTime).UTC()
	externalID := d.TxID
	if externalID == "" {
		externalID = models.GenerateExternalID("DEP", ts)
	}

	return models.TransactionRecord{
		ExternalID:      externalID,
		TransactionType: models.TypeDeposit,
		Symbol:          d.Coin,
		Side:            models.SideBuy,
		Quantity:        amount,
		Price:           decimal.NewNullDecimal(decimal.NewFromInt(1)),
		QuoteQuantity:   amount,
		Status:          models.StatusCompleted,
		Time:            ts,
		UpdateTime:      ts,
		WalletAddress:   d.Address,
		SourceType:      models.SourceAPI,
		Platform:        "binance",
	}, true
}

// withdrawRecord normalizes one wallet withdrawal. Only completed withdrawals
// with parseable amounts are kept.
func withdrawRecord(w *binance.Withdraw) (models.TransactionRecord, bool) {
	if w == nil || w.Status != withdrawStatusCompleted {
		return models.TransactionRecord{}, false
	}
	amount, err := decimal.NewFromString(w.Amount)
	if err != nil || !amount.IsPositive() {
		return models.TransactionRecord{}, false
	}

	ts, err := time.Parse(applyTimeLayout, w.ApplyTime)
	if err != nil {
		ts = time.Now()
	}
	ts = ts.UTC()

	externalID := w.TxID
	if externalID == "" {
		externalID = models.GenerateExternalID("WDR", ts)
	}

	return models.TransactionRecord{
		ExternalID:      externalID,
		TransactionType: models.TypeWithdrawal,
		Symbol:          w.Coin,
		Side:            models.SideSell,
		Quantity:        amount,
		Price:           decimal.NewNullDecimal(decimal.NewFromInt(1)),
		QuoteQuantity:   amount,
		Status:          models.StatusCompleted,
		Time:            ts,
		UpdateTime:      ts,
		WalletAddress:   w.Address,
		SourceType:      models.SourceAPI,
		Platform:        "binance",
	}, true
}
