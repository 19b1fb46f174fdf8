// Package mailbox polls a mailbox REST endpoint for new notification emails
// and feeds them into the raw channel.
package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	appconfig "ledgerflow/config"
	"ledgerflow/internal/channel"
	"ledgerflow/logger"
	"ledgerflow/models"
)

// Reader fetches candidate messages from the mailbox API on a fixed poll
// interval. Overlapping poll windows are fine: the dedup ledger downstream
// absorbs re-fetched messages.
type Reader struct {
	config   *appconfig.Config
	client   *http.Client
	channels *channel.Channels
	limiter  *rate.Limiter
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

// mailboxMessage is the wire shape of one message in the list response.
type mailboxMessage struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

type listResponse struct {
	Messages []mailboxMessage `json:"messages"`
}

func NewReader(cfg *appconfig.Config, ch *channel.Channels) *Reader {
	log := logger.GetLogger()
	src := cfg.Source.Mailbox

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

	rps := src.RequestsPerSecond
	if rps < 1 {
		rps = 1
	}
	burst := src.BurstSize
	if burst < 1 {
		burst = 1
	}

	r := &Reader{
		config:   cfg,
		client:   httpClient,
		channels: ch,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		wg:       &sync.WaitGroup{},
		log:      log,
	}

	log.WithComponent("mailbox_reader").WithFields(logger.Fields{
		"url":           src.URL,
		"poll_interval": src.PollInterval,
		"window":        src.Window,
	}).Info("mailbox reader initialized")

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

	log := r.log.WithComponent("mailbox_reader").WithFields(logger.Fields{"operation": "start"})

	if !r.config.Source.Mailbox.Enabled {
		log.Warn("mailbox source is disabled")
		return fmt.Errorf("mailbox source is disabled")
	}

	log.Info("starting mailbox reader")

	r.wg.Add(1)
	go r.pollWorker()

	log.Info("mailbox reader started successfully")
	return nil
}

func (r *Reader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("mailbox_reader").Info("stopping mailbox reader")
	r.wg.Wait()
	r.log.WithComponent("mailbox_reader").Info("mailbox reader stopped")
}

func (r *Reader) pollWorker() {
	defer r.wg.Done()

	log := r.log.WithComponent("mailbox_reader").WithFields(logger.Fields{
		"worker": "mailbox_poller",
	})

	log.Info("starting mailbox poll worker")

	interval := r.config.Source.Mailbox.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First poll happens immediately, not one interval in.
	r.poll()

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

func (r *Reader) poll() {
	log := r.log.WithComponent("mailbox_reader").WithFields(logger.Fields{
		"operation": "poll",
	})

	if err := r.limiter.Wait(r.ctx); err != nil {
		return
	}

	src := r.config.Source.Mailbox
	reqURL, err := url.Parse(src.URL)
	if err != nil {
		log.WithError(err).Warn("invalid mailbox URL")
		return
	}
	q := reqURL.Query()
	if src.Window > 0 {
		q.Set("since", time.Now().UTC().Add(-src.Window).Format(time.RFC3339))
	}
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(r.ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		log.WithError(err).Warn("failed to create request")
		return
	}
	if src.Token != "" {
		req.Header.Set("Authorization", "Bearer "+src.Token)
	}

	start := time.Now()
	res, err := r.client.Do(req)
	if err != nil {
		log.WithError(err).Warn("failed to poll mailbox")
		return
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		log.WithFields(logger.Fields{"status": res.StatusCode}).Warn("mailbox returned non-200 status")
		return
	}

	msgs, err := decodeMessages(res.Body)
	if err != nil {
		log.WithError(err).Warn("failed to decode mailbox response")
		return
	}
	duration := time.Since(start)
	logger.LogPerformanceEntry(log, "mailbox_reader", "api_request", duration, logger.Fields{
		"message_count": len(msgs),
	})

	sent := 0
	for _, msg := range msgs {
		if r.channels.SendRaw(r.ctx, msg) {
			logger.IncrementMessagesRead()
			sent++
		} else if r.ctx.Err() != nil {
			return
		} else {
			log.WithFields(logger.Fields{"message_id": msg.ID}).Warn("raw channel is full, dropping message")
		}
	}

	if sent > 0 {
		logger.LogDataFlowEntry(log, "mailbox_api", "raw_channel", sent, "messages")
	}
}

// decodeMessages turns a list response into raw messages. Messages without an
// id are dropped: the id is the dedup key and an empty one would collide.
func decodeMessages(body io.Reader) ([]models.RawMessage, error) {
	var resp listResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode mailbox response: %w", err)
	}

	msgs := make([]models.RawMessage, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m.ID == "" {
			continue
		}
		received := m.ReceivedAt
		if received.IsZero() {
			received = time.Now().UTC()
		}
		msgs = append(msgs, models.RawMessage{
			ID:         m.ID,
			Subject:    m.Subject,
			Body:       m.Body,
			ReceivedAt: received,
			Source:     "mailbox",
		})
	}
	return msgs, nil
}
