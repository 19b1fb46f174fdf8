// Package bybit pulls confirmed deposit history from the Bybit account API.
// Like the binance reader, these records bypass email parsing entirely.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	appconfig "ledgerflow/config"
	"ledgerflow/internal/channel"
	"ledgerflow/logger"
	"ledgerflow/models"
)

// depositStatusSuccess is the Bybit deposit status for a credited deposit.
const depositStatusSuccess = 3

type Reader struct {
	config   *appconfig.Config
	client   *bybit.Client
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	sinceMs int64
}

// depositResult is the typed shape of the GetDepositRecords result payload.
type depositResult struct {
	Rows []depositRow `json:"rows"`
}

type depositRow struct {
	Coin      string `json:"coin"`
	Amount    string `json:"amount"`
	TxID      string `json:"txID"`
	Status    int    `json:"status"`
	ToAddress string `json:"toAddress"`
	SuccessAt string `json:"successAt"`
}

func NewReader(cfg *appconfig.Config, ch *channel.Channels) *Reader {
	log := logger.GetLogger()
	src := cfg.Source.Bybit

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

	httpClient := &http.Client{Transport: transport, Timeout: src.Timeout}

	base := src.URL
	if parsed, err := url.Parse(src.URL); err == nil && parsed.Host != "" {
		base = fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
	}

	client := bybit.NewBybitHttpClient(src.APIKey, src.APISecret, bybit.WithBaseURL(base))
	client.HTTPClient = httpClient

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

	log.WithComponent("bybit_reader").WithFields(logger.Fields{
		"poll_interval": src.PollInterval,
		"window":        window,
	}).Info("bybit deposit reader initialized")

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

	log := r.log.WithComponent("bybit_reader").WithFields(logger.Fields{"operation": "start"})

	if !r.config.Source.Bybit.Enabled {
		log.Warn("bybit source is disabled")
		return fmt.Errorf("bybit source is disabled")
	}

	log.Info("starting bybit deposit reader")

	r.wg.Add(1)
	go r.pollWorker()

	log.Info("bybit deposit reader started successfully")
	return nil
}

func (r *Reader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("bybit_reader").Info("stopping bybit deposit reader")
	r.wg.Wait()
	r.log.WithComponent("bybit_reader").Info("bybit deposit reader stopped")
}

func (r *Reader) pollWorker() {
	defer r.wg.Done()

	log := r.log.WithComponent("bybit_reader").WithFields(logger.Fields{
		"worker": "deposit_fetcher",
	})

	log.Info("starting deposit worker")

	interval := r.config.Source.Bybit.PollInterval
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
			r.fetchDeposits()
		}
	}
}

func (r *Reader) fetchDeposits() {
	log := r.log.WithComponent("bybit_reader").WithFields(logger.Fields{
		"operation": "fetch_deposits",
	})

	endMs := time.Now().UnixMilli()
	params := map[string]interface{}{
		"startTime": r.sinceMs,
		"endTime":   endMs,
	}

	start := time.Now()
	resp, err := r.client.NewUtaBybitServiceWithParams(params).GetDepositRecords(r.ctx)
	if err != nil {
		log.WithError(err).Warn("failed to fetch deposits")
		return
	}
	duration := time.Since(start)
	logger.LogPerformanceEntry(log, "bybit_reader", "api_request", duration, logger.Fields{})

	r.sinceMs = endMs + 1

	records, err := depositRecords(resp.Result)
	if err != nil {
		log.WithError(err).Warn("failed to decode deposit records")
		return
	}
	if len(records) == 0 {
		return
	}

	batch := models.RecordBatch{
		BatchID:     uuid.New().String(),
		Source:      "bybit_api",
		Records:     records,
		RecordCount: len(records),
		ProcessedAt: time.Now().UTC(),
	}

	if r.channels.SendRecords(r.ctx, batch) {
		logger.IncrementRecords(len(records))
		log.WithFields(logger.Fields{"record_count": len(records)}).Info("deposit records sent to record channel")
		logger.LogDataFlowEntry(log, "bybit_api", "records_channel", len(records), "deposit_records")
	} else if r.ctx.Err() == nil {
		log.Warn("records channel is full, dropping batch")
	}
}

// depositRecords re-marshals the untyped API result into the typed deposit
// shape and normalizes each credited row.
func depositRecords(result interface{}) ([]models.TransactionRecord, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal deposit result: %w", err)
	}
	var parsed depositResult
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal deposit result: %w", err)
	}

	records := make([]models.TransactionRecord, 0, len(parsed.Rows))
	for _, row := range parsed.Rows {
		rec, ok := depositRecord(row)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func depositRecord(row depositRow) (models.TransactionRecord, bool) {
	if row.Status != depositStatusSuccess {
		return models.TransactionRecord{}, false
	}
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil || !amount.IsPositive() {
		return models.TransactionRecord{}, false
	}

	ts := time.Now().UTC()
	if ms, err := strconv.ParseInt(row.SuccessAt, 10, 64); err == nil && ms > 0 {
		ts = time.UnixMilli(ms).UTC()
	}

	externalID := row.TxID
	if externalID == "" {
		externalID = models.GenerateExternalID("DEP", ts)
	}

	return models.TransactionRecord{
		ExternalID:      externalID,
		TransactionType: models.TypeDeposit,
		Symbol:          row.Coin,
		Side:            models.SideBuy,
		Quantity:        amount,
		Price:           decimal.NewNullDecimal(decimal.NewFromInt(1)),
		QuoteQuantity:   amount,
		Status:          models.StatusCompleted,
		Time:            ts,
		UpdateTime:      ts,
		WalletAddress:   row.ToAddress,
		SourceType:      models.SourceAPI,
		Platform:        "bybit",
	}, true
}
