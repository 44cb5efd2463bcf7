// Package market connects the trading room to Binance USDⓈ-M futures public
// market data: REST snapshots, the combined WebSocket stream, local order
// books and the shared mark price cache.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"kortrade/internal/middleware"
	"kortrade/internal/observability"
	"kortrade/internal/retry"

	"golang.org/x/time/rate"
)

// ClientConfig holds configuration for the REST client.
type ClientConfig struct {
	BaseURL         string
	Timeout         time.Duration
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	RateLimitPerMin int
	HTTPClient      *http.Client
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		BaseURL:         "https://fapi.binance.com",
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		InitialBackoff:  250 * time.Millisecond,
		MaxBackoff:      4 * time.Second,
		RateLimitPerMin: 1200,
	}
}

func applyDefaults(cfg *ClientConfig) {
	d := ClientConfigDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = d.BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = d.MaxRetries
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = d.InitialBackoff
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = d.MaxBackoff
	}
	if cfg.RateLimitPerMin == 0 {
		cfg.RateLimitPerMin = d.RateLimitPerMin
	}
}

// Client is a rate-limited Binance futures REST client with retries on
// 429, 5xx and transport errors.
type Client struct {
	cfg         ClientConfig
	httpClient  *http.Client
	limiter     *rate.Limiter
	retryConfig retry.Config
	logger      *slog.Logger
}

// NewClient creates a REST client.
func NewClient(cfg ClientConfig) *Client {
	applyDefaults(&cfg)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	rps := float64(cfg.RateLimitPerMin) / 60.0
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), 5),
		retryConfig: retry.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
			BackoffFactor:  2.0,
		},
		logger: middleware.Component("binance-client"),
	}
}

// Ticker24h returns rolling 24h statistics.
func (c *Client) Ticker24h(ctx context.Context, symbol string) (Ticker, error) {
	var w ticker24hWire
	if err := c.get(ctx, "/fapi/v1/ticker/24hr", url.Values{"symbol": {symbol}}, &w); err != nil {
		return Ticker{}, err
	}
	return w.ticker(), nil
}

// PremiumIndex returns the mark price and current funding rate.
func (c *Client) PremiumIndex(ctx context.Context, symbol string) (MarkPrice, error) {
	var w premiumIndexWire
	if err := c.get(ctx, "/fapi/v1/premiumIndex", url.Values{"symbol": {symbol}}, &w); err != nil {
		return MarkPrice{}, err
	}
	return w.mark(), nil
}

// Depth returns an order book snapshot with up to limit levels per side.
func (c *Client) Depth(ctx context.Context, symbol string, limit int) (DepthSnapshot, error) {
	params := url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(limit)}}
	var w depthSnapshotWire
	if err := c.get(ctx, "/fapi/v1/depth", params, &w); err != nil {
		return DepthSnapshot{}, err
	}
	return DepthSnapshot{LastUpdateID: w.LastUpdateID, Bids: w.Bids.levels(), Asks: w.Asks.levels()}, nil
}

// Klines returns candlesticks for interval (1m, 5m, 1h, ...).
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{"symbol": {symbol}, "interval": {interval}, "limit": {strconv.Itoa(limit)}}
	var klines []Kline
	if err := c.get(ctx, "/fapi/v1/klines", params, &klines); err != nil {
		return nil, err
	}
	return klines, nil
}

// FundingRateHistory returns the most recent funding settlements.
func (c *Client) FundingRateHistory(ctx context.Context, symbol string, limit int) ([]FundingRate, error) {
	params := url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(limit)}}
	var wire []fundingRateWire
	if err := c.get(ctx, "/fapi/v1/fundingRate", params, &wire); err != nil {
		return nil, err
	}
	out := make([]FundingRate, 0, len(wire))
	for _, w := range wire {
		out = append(out, FundingRate{
			Symbol:      w.Symbol,
			FundingRate: w.FundingRate.Float(),
			FundingTime: time.UnixMilli(w.FundingTime),
			MarkPrice:   w.MarkPrice.Float(),
		})
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, result any) error {
	fullURL := c.cfg.BaseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	isRetryable := func(err error) bool {
		var nonRetryable *nonRetryableError
		return !errors.As(err, &nonRetryable)
	}

	onRetry := func(attempt int, err error, backoff time.Duration) {
		c.logger.Warn("request failed, retrying",
			"path", path,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
	}

	return retry.DoVoid(ctx, c.retryConfig, isRetryable, onRetry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return &nonRetryableError{err: fmt.Errorf("rate limiter: %w", err)}
		}
		return c.doSingleRequest(ctx, path, fullURL, result)
	})
}

func (c *Client) doSingleRequest(ctx context.Context, path, fullURL string, result any) error {
	span, ctx := observability.StartClientSpan(ctx, "binance "+path)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return &nonRetryableError{err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.ExchangeRequestDuration.WithLabelValues(path, "error").Observe(time.Since(start).Seconds())
		span.SetError(err)
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close response body", "error", closeErr)
		}
	}()
	observability.ExchangeRequestDuration.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418 {
		return fmt.Errorf("rate limited (HTTP %d)", resp.StatusCode)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("server error (HTTP %d)", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if jsonErr := json.Unmarshal(body, &apiErr); jsonErr == nil && apiErr.Msg != "" {
			return &nonRetryableError{err: fmt.Errorf("API error %d (HTTP %d): %s", apiErr.Code, resp.StatusCode, apiErr.Msg)}
		}
		return &nonRetryableError{err: fmt.Errorf("client error (HTTP %d): %s", resp.StatusCode, string(body))}
	}

	if err := json.Unmarshal(body, result); err != nil {
		return &nonRetryableError{err: fmt.Errorf("parsing response: %w", err)}
	}
	return nil
}

// nonRetryableError wraps errors that should not be retried.
type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }
