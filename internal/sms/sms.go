// Package sms delivers verification codes to Korean mobile numbers.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"kortrade/internal/config"
	"kortrade/internal/middleware"
	"kortrade/internal/observability"
)

const defaultTimeout = 5 * time.Second

// Sender delivers one text message.
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// VerificationMessage renders the Korean verification text.
func VerificationMessage(code string) string {
	return fmt.Sprintf("[KorTrade] 인증번호 [%s]를 입력해주세요.", code)
}

// NewSender picks the sender configured by SMS_PROVIDER.
func NewSender(cfg *config.Config) (Sender, error) {
	switch cfg.SMSProvider {
	case "", "log":
		return NewLogSender(), nil
	case "gateway":
		if cfg.SMSGatewayURL == "" {
			return nil, errors.New("SMS_GATEWAY_URL is required for the gateway provider")
		}
		return NewGatewaySender(GatewayConfig{
			URL:    cfg.SMSGatewayURL,
			APIKey: cfg.SMSAPIKey,
			From:   cfg.SMSSender,
		}), nil
	default:
		return nil, fmt.Errorf("unknown SMS_PROVIDER %q", cfg.SMSProvider)
	}
}

// LogSender writes messages to the log. Development only.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender() *LogSender {
	return &LogSender{logger: middleware.Component("sms")}
}

func (s *LogSender) Send(ctx context.Context, phone, message string) error {
	s.logger.InfoContext(ctx, "SMS (not delivered)", slog.String("phone", phone), slog.String("message", message))
	observability.SMSSent.WithLabelValues("log", "ok").Inc()
	return nil
}

// GatewayConfig configures an HTTP JSON SMS gateway.
type GatewayConfig struct {
	URL     string
	APIKey  string
	From    string
	Timeout time.Duration
}

// GatewaySender posts {from, to, text} to an HTTP gateway.
type GatewaySender struct {
	cfg    GatewayConfig
	client *http.Client
}

func NewGatewaySender(cfg GatewayConfig) *GatewaySender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &GatewaySender{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type gatewayRequest struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
	Text string `json:"text"`
}

func (s *GatewaySender) Send(ctx context.Context, phone, message string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(gatewayRequest{From: s.cfg.From, To: phone, Text: message})
	if err != nil {
		return fmt.Errorf("marshal sms request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		observability.SMSSent.WithLabelValues("gateway", "error").Inc()
		return fmt.Errorf("sms gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		observability.SMSSent.WithLabelValues("gateway", "error").Inc()
		return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, string(b))
	}
	observability.SMSSent.WithLabelValues("gateway", "ok").Inc()
	return nil
}
