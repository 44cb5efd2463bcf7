package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"kortrade/internal/config"
	"kortrade/internal/middleware"
	"kortrade/internal/observability"
)

// RESTClient is the subset of Client the feed uses.
type RESTClient interface {
	Ticker24h(ctx context.Context, symbol string) (Ticker, error)
	PremiumIndex(ctx context.Context, symbol string) (MarkPrice, error)
	Depth(ctx context.Context, symbol string, limit int) (DepthSnapshot, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	FundingRateHistory(ctx context.Context, symbol string, limit int) ([]FundingRate, error)
}

// Publisher fans market events out to other processes.
type Publisher interface {
	PublishMarket(ctx context.Context, symbol string, payload string) error
}

// Event is the envelope sent to market subscribers.
type Event struct {
	Type    string `json:"type"`
	Symbol  string `json:"symbol"`
	Payload any    `json:"payload"`
}

const (
	EventOrderBook = "orderbook"
	EventTrade     = "trade"
	EventTicker    = "ticker"
	EventMarkPrice = "mark_price"
)

const (
	snapshotLimit  = 1000
	pollInterval   = 2 * time.Second
	tickerMaxAge   = 10 * time.Second
	resyncBackoff  = time.Second
	maxKlineLimit  = 1500
	maxFundingRows = 1000
)

var ErrUnknownSymbol = errors.New("symbol is not listed in the trading room")

var klineIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "12h": true,
	"1d": true, "1w": true,
}

// ValidInterval reports whether interval is a supported kline interval.
func ValidInterval(interval string) bool { return klineIntervals[interval] }

// Feed owns the exchange connection for the configured symbols and
// exposes books, trades, tickers and mark prices to the rest of the app.
type Feed struct {
	symbols   []string
	listed    map[string]bool
	client    RESTClient
	prices    *PriceCache
	tape      *Tape
	books     map[string]*OrderBook
	publisher Publisher

	tickersMu sync.RWMutex
	tickers   map[string]Ticker

	pendingMu sync.Mutex
	pending   map[string]bool
	resync    chan string

	streamEnabled bool
	streamCfg     StreamConfig
	depth         int
	publishPeriod time.Duration
	logger        *slog.Logger
}

// NewFeed wires a feed from the market config. publisher may be nil.
func NewFeed(cfg *config.MarketConfig, client RESTClient, prices *PriceCache, publisher Publisher) *Feed {
	symbols := make([]string, 0, len(cfg.Market.Symbols))
	listed := make(map[string]bool)
	books := make(map[string]*OrderBook)
	for _, s := range cfg.Market.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || listed[s] {
			continue
		}
		symbols = append(symbols, s)
		listed[s] = true
		books[s] = NewOrderBook(s)
	}

	return &Feed{
		symbols:       symbols,
		listed:        listed,
		client:        client,
		prices:        prices,
		tape:          NewTape(),
		books:         books,
		publisher:     publisher,
		tickers:       make(map[string]Ticker),
		pending:       make(map[string]bool),
		resync:        make(chan string, len(symbols)+1),
		streamEnabled: cfg.Market.StreamEnabled,
		streamCfg: StreamConfig{
			BaseURL:        cfg.Binance.WSURL,
			Streams:        StreamNames(symbols),
			ReconnectDelay: cfg.Market.ReconnectDelay,
		},
		depth:         cfg.Market.BookDepth,
		publishPeriod: cfg.Market.BookPublishPeriod,
		logger:        middleware.Component("market-feed"),
	}
}

func (f *Feed) Symbols() []string {
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// Listed reports whether symbol is traded in the room.
func (f *Feed) Listed(symbol string) bool {
	return f.listed[symbol]
}

// Run consumes the exchange stream until ctx is cancelled. With the stream
// disabled it polls mark prices over REST instead.
func (f *Feed) Run(ctx context.Context) error {
	if !f.streamEnabled {
		return f.poll(ctx)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.resyncLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		f.publishLoop(ctx)
	}()

	stream := NewStream(f.streamCfg, f.handleFrame, f.onConnect)
	err := stream.Run(ctx)
	wg.Wait()
	return err
}

// onConnect resets every book; events missed while disconnected make the
// old state unusable.
func (f *Feed) onConnect() {
	for symbol, book := range f.books {
		book.Reset()
		f.requestResync(symbol, "connect")
	}
}

func (f *Feed) handleFrame(stream string, data json.RawMessage) {
	ctx := context.Background()
	switch {
	case strings.Contains(stream, "@depth"):
		var w depthEventWire
		if !f.decode(stream, data, &w) {
			return
		}
		observability.MarketEvents.WithLabelValues("depth").Inc()
		f.applyDepth(w.event())

	case strings.HasSuffix(stream, "@markPrice@1s") || strings.HasSuffix(stream, "@markPrice"):
		var w markPriceWire
		if !f.decode(stream, data, &w) {
			return
		}
		observability.MarketEvents.WithLabelValues("mark_price").Inc()
		mp := w.mark()
		f.prices.Set(ctx, mp)
		f.publish(ctx, EventMarkPrice, mp.Symbol, mp)

	case strings.HasSuffix(stream, "@aggTrade"):
		var w aggTradeWire
		if !f.decode(stream, data, &w) {
			return
		}
		observability.MarketEvents.WithLabelValues("trade").Inc()
		tr := w.trade()
		f.tape.Add(tr)
		f.publish(ctx, EventTrade, tr.Symbol, tr)

	case strings.HasSuffix(stream, "@ticker"):
		var w tickerStreamWire
		if !f.decode(stream, data, &w) {
			return
		}
		observability.MarketEvents.WithLabelValues("ticker").Inc()
		t := w.ticker()
		f.tickersMu.Lock()
		f.tickers[t.Symbol] = t
		f.tickersMu.Unlock()
		f.publish(ctx, EventTicker, t.Symbol, t)
	}
}

func (f *Feed) decode(stream string, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		observability.MarketEvents.WithLabelValues("decode_error").Inc()
		f.logger.Warn("undecodable stream frame", slog.String("stream", stream), slog.Any("error", err))
		return false
	}
	return true
}

func (f *Feed) applyDepth(ev DepthEvent) {
	book, ok := f.books[ev.Symbol]
	if !ok {
		return
	}
	if err := book.Apply(ev); errors.Is(err, ErrBookGap) {
		f.logger.Warn("order book gap, resyncing", slog.String("symbol", ev.Symbol))
		f.requestResync(ev.Symbol, "gap")
	}
}

func (f *Feed) requestResync(symbol, reason string) {
	f.pendingMu.Lock()
	if f.pending[symbol] {
		f.pendingMu.Unlock()
		return
	}
	f.pending[symbol] = true
	f.pendingMu.Unlock()

	observability.OrderBookResyncs.WithLabelValues(symbol, reason).Inc()
	// pending dedupes, so the buffer always has room
	f.resync <- symbol
}

func (f *Feed) resyncLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case symbol := <-f.resync:
			err := f.loadSnapshot(ctx, symbol)
			f.pendingMu.Lock()
			delete(f.pending, symbol)
			f.pendingMu.Unlock()
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			f.logger.Warn("snapshot load failed", slog.String("symbol", symbol), slog.Any("error", err))
			time.AfterFunc(resyncBackoff, func() { f.requestResync(symbol, "retry") })
		}
	}
}

func (f *Feed) loadSnapshot(ctx context.Context, symbol string) error {
	snap, err := f.client.Depth(ctx, symbol, snapshotLimit)
	if err != nil {
		return fmt.Errorf("depth snapshot: %w", err)
	}
	return f.books[symbol].LoadSnapshot(snap)
}

func (f *Feed) publishLoop(ctx context.Context) {
	period := f.publishPeriod
	if period <= 0 {
		period = 250 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for symbol, book := range f.books {
				if !book.takeDirty() {
					continue
				}
				snap, err := book.Top(f.depth)
				if err != nil {
					continue
				}
				f.publish(ctx, EventOrderBook, symbol, snap)
			}
		}
	}
}

func (f *Feed) poll(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		for _, symbol := range f.symbols {
			mp, err := f.client.PremiumIndex(ctx, symbol)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				f.logger.Warn("mark price poll failed", slog.String("symbol", symbol), slog.Any("error", err))
				continue
			}
			f.prices.Set(ctx, mp)
			f.publish(ctx, EventMarkPrice, symbol, mp)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (f *Feed) publish(ctx context.Context, eventType, symbol string, payload any) {
	if f.publisher == nil {
		return
	}
	b, err := json.Marshal(Event{Type: eventType, Symbol: symbol, Payload: payload})
	if err != nil {
		return
	}
	if err := f.publisher.PublishMarket(ctx, symbol, string(b)); err != nil {
		f.logger.Debug("market publish failed", slog.String("symbol", symbol), slog.Any("error", err))
	}
}

// MarkPrice returns the cached mark price, falling back to REST.
func (f *Feed) MarkPrice(ctx context.Context, symbol string) (MarkPrice, error) {
	if !f.Listed(symbol) {
		return MarkPrice{}, ErrUnknownSymbol
	}
	if mp, err := f.prices.Get(ctx, symbol); err == nil {
		return mp, nil
	}
	mp, err := f.PremiumIndex(ctx, symbol)
	if err != nil {
		return MarkPrice{}, err
	}
	f.prices.Set(ctx, mp)
	return mp, nil
}

// PremiumIndex asks the exchange directly. Its funding rate is the one last
// settled, where the stream carries the estimate for the running window.
func (f *Feed) PremiumIndex(ctx context.Context, symbol string) (MarkPrice, error) {
	if !f.Listed(symbol) {
		return MarkPrice{}, ErrUnknownSymbol
	}
	mp, err := f.client.PremiumIndex(ctx, symbol)
	if err != nil {
		return MarkPrice{}, fmt.Errorf("premium index %s: %w", symbol, err)
	}
	if mp.MarkPrice <= 0 {
		return MarkPrice{}, ErrNoPrice
	}
	return mp, nil
}

// OrderBook returns the local book, or a REST snapshot when the local one
// is not synchronized.
func (f *Feed) OrderBook(ctx context.Context, symbol string) (BookSnapshot, error) {
	book, ok := f.books[symbol]
	if !ok {
		return BookSnapshot{}, ErrUnknownSymbol
	}
	if snap, err := book.Top(f.depth); err == nil {
		return snap, nil
	}
	limit := 20
	if f.depth > 20 {
		limit = 50
	}
	snap, err := f.client.Depth(ctx, symbol, limit)
	if err != nil {
		return BookSnapshot{}, err
	}
	bids, asks := snap.Bids, snap.Asks
	if f.depth > 0 && len(bids) > f.depth {
		bids = bids[:f.depth]
	}
	if f.depth > 0 && len(asks) > f.depth {
		asks = asks[:f.depth]
	}
	return BookSnapshot{Symbol: symbol, LastUpdateID: snap.LastUpdateID, Bids: bids, Asks: asks, UpdatedAt: time.Now()}, nil
}

// Trades returns the most recent aggregated trades.
func (f *Feed) Trades(symbol string, limit int) ([]Trade, error) {
	if !f.Listed(symbol) {
		return nil, ErrUnknownSymbol
	}
	return f.tape.Recent(symbol, limit), nil
}

// Ticker returns 24h statistics from the stream, or REST when stale.
func (f *Feed) Ticker(ctx context.Context, symbol string) (Ticker, error) {
	if !f.Listed(symbol) {
		return Ticker{}, ErrUnknownSymbol
	}
	f.tickersMu.RLock()
	t, ok := f.tickers[symbol]
	f.tickersMu.RUnlock()
	if ok && time.Since(t.UpdatedAt) <= tickerMaxAge {
		return t, nil
	}
	t, err := f.client.Ticker24h(ctx, symbol)
	if err != nil {
		return Ticker{}, err
	}
	f.tickersMu.Lock()
	f.tickers[symbol] = t
	f.tickersMu.Unlock()
	return t, nil
}

// Klines validates the interval and proxies to REST.
func (f *Feed) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	if !f.Listed(symbol) {
		return nil, ErrUnknownSymbol
	}
	if !ValidInterval(interval) {
		return nil, fmt.Errorf("unsupported interval %q", interval)
	}
	if limit <= 0 || limit > maxKlineLimit {
		limit = 500
	}
	return f.client.Klines(ctx, symbol, interval, limit)
}

// FundingRates returns recent funding settlements from the exchange.
func (f *Feed) FundingRates(ctx context.Context, symbol string, limit int) ([]FundingRate, error) {
	if !f.Listed(symbol) {
		return nil, ErrUnknownSymbol
	}
	if limit <= 0 || limit > maxFundingRows {
		limit = 100
	}
	return f.client.FundingRateHistory(ctx, symbol, limit)
}
