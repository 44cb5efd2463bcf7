package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"kortrade/internal/middleware"
	"kortrade/internal/observability"

	"github.com/gorilla/websocket"
)

// StreamConfig configures the combined-stream connection.
type StreamConfig struct {
	BaseURL        string
	Streams        []string
	ReconnectDelay time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
}

func (c *StreamConfig) applyDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 15 * time.Second
	}
}

// FrameHandler receives the stream name and the raw event payload.
type FrameHandler func(stream string, data json.RawMessage)

// Stream keeps one combined WebSocket connection open, reconnecting after
// a fixed delay until its context is cancelled.
type Stream struct {
	cfg       StreamConfig
	handler   FrameHandler
	onConnect func()
	dialer    *websocket.Dialer
	logger    *slog.Logger
}

// NewStream creates a stream. onConnect runs after every successful dial,
// before frames are delivered; it may be nil.
func NewStream(cfg StreamConfig, handler FrameHandler, onConnect func()) *Stream {
	cfg.applyDefaults()
	return &Stream{
		cfg:       cfg,
		handler:   handler,
		onConnect: onConnect,
		dialer:    websocket.DefaultDialer,
		logger:    middleware.Component("binance-stream"),
	}
}

// StreamNames builds the per-symbol stream names used by the trading room.
func StreamNames(symbols []string) []string {
	names := make([]string, 0, len(symbols)*4)
	for _, s := range symbols {
		s = strings.ToLower(s)
		names = append(names,
			s+"@depth@100ms",
			s+"@markPrice@1s",
			s+"@aggTrade",
			s+"@ticker",
		)
	}
	return names
}

// URL returns the combined stream endpoint.
func (s *Stream) URL() string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/stream?streams=" + strings.Join(s.cfg.Streams, "/")
}

// Run blocks until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	first := true
	for {
		if !first {
			observability.MarketReconnects.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.ReconnectDelay):
			}
		}
		first = false

		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("stream disconnected, reconnecting",
			slog.Any("error", err),
			slog.Duration("delay", s.cfg.ReconnectDelay))
	}
}

func (s *Stream) runOnce(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.URL(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})
	// Binance pings every few minutes and expects the payload echoed back.
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	s.logger.Info("stream connected", slog.Int("streams", len(s.cfg.Streams)))
	if s.onConnect != nil {
		s.onConnect()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		var frame combinedFrame
		if err := json.Unmarshal(msg, &frame); err != nil || frame.Stream == "" {
			s.logger.Debug("skipping unparsable frame", slog.Int("bytes", len(msg)))
			continue
		}
		s.handler(frame.Stream, frame.Data)
	}
}
