// Package stream subscribes to a mailbox push feed over websocket. Each
// frame carries one notification email; the dedup ledger downstream absorbs
// any overlap with the polling source.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	appconfig "ledgerflow/config"
	"ledgerflow/internal/channel"
	"ledgerflow/logger"
	"ledgerflow/models"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultKeepAlive      = 20 * time.Second
)

type Reader struct {
	config   *appconfig.Config
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

// streamFrame is the wire shape of one pushed message.
type streamFrame struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

func NewReader(cfg *appconfig.Config, ch *channel.Channels) *Reader {
	log := logger.GetLogger()

	r := &Reader{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      log,
	}

	log.WithComponent("stream_reader").WithFields(logger.Fields{
		"url": cfg.Source.Stream.URL,
	}).Info("stream reader initialized")

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

	log := r.log.WithComponent("stream_reader").WithFields(logger.Fields{"operation": "start"})

	if !r.config.Source.Stream.Enabled {
		log.Warn("stream source is disabled")
		return fmt.Errorf("stream source is disabled")
	}

	log.Info("starting stream reader")

	r.wg.Add(1)
	go r.connectionWorker()

	log.Info("stream reader started successfully")
	return nil
}

func (r *Reader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("stream_reader").Info("stopping stream reader")
	r.wg.Wait()
	r.log.WithComponent("stream_reader").Info("stream reader stopped")
}

// connectionWorker keeps one websocket connection alive, reconnecting with
// exponential backoff capped at max_reconnect_delay.
func (r *Reader) connectionWorker() {
	defer r.wg.Done()

	src := r.config.Source.Stream
	log := r.log.WithComponent("stream_reader").WithFields(logger.Fields{
		"worker": "stream_connection",
		"url":    src.URL,
	})

	log.Info("starting stream connection worker")

	delay := src.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	maxDelay := src.MaxReconnectDelay
	if maxDelay < delay {
		maxDelay = delay
	}
	backoff := delay

	dialer := &websocket.Dialer{
		HandshakeTimeout: src.HandshakeTimeout,
		ReadBufferSize:   src.ReadBufferBytes,
	}

	for {
		if r.ctx.Err() != nil {
			return
		}

		header := http.Header{}
		if src.Token != "" {
			header.Set("Authorization", "Bearer "+src.Token)
		}

		conn, _, err := dialer.DialContext(r.ctx, src.URL, header)
		if err != nil {
			log.WithError(err).Warn("failed to connect to stream")
			if waitForReconnect(r.ctx, backoff) {
				return
			}
			backoff = backoff * 2
			if backoff > maxDelay {
				backoff = maxDelay
			}
			continue
		}

		log.Info("stream connected")
		backoff = delay

		pingCancel := startPingLoop(r.ctx, conn, defaultKeepAlive, log)

		if err := r.readFrames(conn); err != nil && r.ctx.Err() == nil {
			log.WithError(err).Warn("stream read loop ended")
		}

		pingCancel()
		conn.Close()

		if r.ctx.Err() != nil {
			return
		}
		if waitForReconnect(r.ctx, backoff) {
			return
		}
	}
}

func (r *Reader) readFrames(conn *websocket.Conn) error {
	for {
		if r.ctx.Err() != nil {
			return r.ctx.Err()
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		r.handleFrame(data)
	}
}

func (r *Reader) handleFrame(data []byte) {
	log := r.log.WithComponent("stream_reader").WithFields(logger.Fields{
		"operation": "handle_frame",
	})

	msg, ok := decodeFrame(data)
	if !ok {
		log.Warn("dropping malformed stream frame")
		return
	}

	if r.channels.SendRaw(r.ctx, msg) {
		logger.IncrementMessagesRead()
		logger.LogDataFlowEntry(log, "stream_feed", "raw_channel", 1, "messages")
	} else if r.ctx.Err() == nil {
		log.WithFields(logger.Fields{"message_id": msg.ID}).Warn("raw channel is full, dropping message")
	}
}

// decodeFrame parses one pushed frame. Frames without an id are dropped, the
// id is the dedup key.
func decodeFrame(data []byte) (models.RawMessage, bool) {
	var frame streamFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.ID == "" {
		return models.RawMessage{}, false
	}
	received := frame.ReceivedAt
	if received.IsZero() {
		received = time.Now().UTC()
	}
	return models.RawMessage{
		ID:         frame.ID,
		Subject:    frame.Subject,
		Body:       frame.Body,
		ReceivedAt: received,
		Source:     "stream",
	}, true
}

func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

func startPingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration, log *logger.Entry) context.CancelFunc {
	pingCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(time.Second))
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					log.WithError(err).Warn("failed to send websocket ping")
					cancel()
					return
				}
			}
		}
	}()
	return cancel
}
