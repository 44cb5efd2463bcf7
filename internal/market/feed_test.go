package market

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kortrade/internal/config"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubREST struct {
	TickerFn  func(ctx context.Context, symbol string) (Ticker, error)
	PremiumFn func(ctx context.Context, symbol string) (MarkPrice, error)
	DepthFn   func(ctx context.Context, symbol string, limit int) (DepthSnapshot, error)
	KlinesFn  func(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	FundingFn func(ctx context.Context, symbol string, limit int) ([]FundingRate, error)
}

var errNotStubbed = errors.New("rest call not stubbed")

func (s *stubREST) Ticker24h(ctx context.Context, symbol string) (Ticker, error) {
	if s.TickerFn == nil {
		return Ticker{}, errNotStubbed
	}
	return s.TickerFn(ctx, symbol)
}
func (s *stubREST) PremiumIndex(ctx context.Context, symbol string) (MarkPrice, error) {
	if s.PremiumFn == nil {
		return MarkPrice{}, errNotStubbed
	}
	return s.PremiumFn(ctx, symbol)
}
func (s *stubREST) Depth(ctx context.Context, symbol string, limit int) (DepthSnapshot, error) {
	if s.DepthFn == nil {
		return DepthSnapshot{}, errNotStubbed
	}
	return s.DepthFn(ctx, symbol, limit)
}
func (s *stubREST) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	if s.KlinesFn == nil {
		return nil, errNotStubbed
	}
	return s.KlinesFn(ctx, symbol, interval, limit)
}
func (s *stubREST) FundingRateHistory(ctx context.Context, symbol string, limit int) ([]FundingRate, error) {
	if s.FundingFn == nil {
		return nil, errNotStubbed
	}
	return s.FundingFn(ctx, symbol, limit)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) PublishMarket(_ context.Context, _ string, payload string) error {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return err
	}
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func testMarketConfig() *config.MarketConfig {
	cfg := &config.MarketConfig{}
	cfg.Market.Symbols = []string{"btcusdt", "ETHUSDT", "BTCUSDT"}
	cfg.Market.StreamEnabled = true
	cfg.Market.BookDepth = 5
	cfg.Market.BookPublishPeriod = 10 * time.Millisecond
	return cfg
}

func TestNewFeed_NormalizesSymbols(t *testing.T) {
	f := NewFeed(testMarketConfig(), &stubREST{}, NewPriceCache(nil), nil)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, f.Symbols())
	assert.True(t, f.Listed("ETHUSDT"))
	assert.False(t, f.Listed("DOGEUSDT"))
}

func TestFeed_MarkPriceFallsBackToREST(t *testing.T) {
	calls := 0
	rest := &stubREST{PremiumFn: func(_ context.Context, symbol string) (MarkPrice, error) {
		calls++
		return MarkPrice{Symbol: symbol, MarkPrice: 65000, UpdatedAt: time.Now()}, nil
	}}
	f := NewFeed(testMarketConfig(), rest, NewPriceCache(nil), nil)

	mp, err := f.MarkPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 65000.0, mp.MarkPrice)

	// cached now
	_, err = f.MarkPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	_, err = f.MarkPrice(context.Background(), "DOGEUSDT")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestFeed_PremiumIndexSkipsCache(t *testing.T) {
	rest := &stubREST{PremiumFn: func(_ context.Context, symbol string) (MarkPrice, error) {
		return MarkPrice{Symbol: symbol, MarkPrice: 64000, FundingRate: 0.0001, UpdatedAt: time.Now()}, nil
	}}
	prices := NewPriceCache(nil)
	prices.Set(context.Background(), MarkPrice{Symbol: "BTCUSDT", MarkPrice: 64100, FundingRate: 0.0004, UpdatedAt: time.Now()})
	f := NewFeed(testMarketConfig(), rest, prices, nil)

	mp, err := f.PremiumIndex(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.0001, mp.FundingRate)

	cached, err := f.MarkPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.0004, cached.FundingRate, "the stream estimate stays cached")

	_, err = f.PremiumIndex(context.Background(), "DOGEUSDT")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestFeed_MarkPriceRESTFailure(t *testing.T) {
	rest := &stubREST{PremiumFn: func(context.Context, string) (MarkPrice, error) {
		return MarkPrice{}, errors.New("down")
	}}
	f := NewFeed(testMarketConfig(), rest, NewPriceCache(nil), nil)
	_, err := f.MarkPrice(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}

func TestFeed_HandleFramesUpdatesStateAndPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	rest := &stubREST{
		PremiumFn: func(context.Context, string) (MarkPrice, error) {
			t.Fatal("mark price should come from the stream")
			return MarkPrice{}, nil
		},
		TickerFn: func(context.Context, string) (Ticker, error) {
			t.Fatal("ticker should come from the stream")
			return Ticker{}, nil
		},
	}
	f := NewFeed(testMarketConfig(), rest, NewPriceCache(nil), pub)

	now := itoa(time.Now().UnixMilli())
	f.handleFrame("btcusdt@markPrice@1s", json.RawMessage(
		`{"e":"markPriceUpdate","E":`+now+`,"s":"BTCUSDT","p":"66000.1","i":"65990","P":"65980.5","r":"0.0001","T":1700006400000}`))
	f.handleFrame("btcusdt@aggTrade", json.RawMessage(
		`{"e":"aggTrade","E":`+now+`,"s":"BTCUSDT","a":7,"p":"66001","q":"0.5","f":100,"l":105,"T":1700000000000,"m":false}`))
	f.handleFrame("btcusdt@ticker", json.RawMessage(
		`{"e":"24hrTicker","E":`+now+`,"s":"BTCUSDT","p":"1610","P":"2.5","w":"65500","c":"66001","Q":"0.01","o":"64391","h":"66500","l":"64000","v":"1200","q":"78600000","O":1700000000000,"C":1700086400000,"F":1,"L":18150,"n":18150}`))
	f.handleFrame("btcusdt@ticker", json.RawMessage(`{"e":"24hrTicker","E":"soon"}`))

	mp, err := f.MarkPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 66000.1, mp.MarkPrice)

	trades, err := f.Trades("BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(7), trades[0].ID)

	ticker, err := f.Ticker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2.5, ticker.PriceChangePercent)
	assert.Equal(t, 66001.0, ticker.LastPrice)
	assert.Equal(t, 64391.0, ticker.OpenPrice)
	assert.Equal(t, 64000.0, ticker.LowPrice)
	assert.Equal(t, 78600000.0, ticker.QuoteVolume)

	assert.Equal(t, []string{EventMarkPrice, EventTrade, EventTicker}, pub.types())
}

func TestFeed_DepthGapRequestsResync(t *testing.T) {
	depthCalls := 0
	rest := &stubREST{DepthFn: func(_ context.Context, symbol string, limit int) (DepthSnapshot, error) {
		depthCalls++
		assert.Equal(t, snapshotLimit, limit)
		return DepthSnapshot{LastUpdateID: 100, Bids: []PriceLevel{{Price: 10, Quantity: 1}}, Asks: []PriceLevel{{Price: 11, Quantity: 1}}}, nil
	}}
	f := NewFeed(testMarketConfig(), rest, NewPriceCache(nil), nil)

	f.onConnect()
	assert.Len(t, f.resync, 2)

	f.applyDepth(DepthEvent{Symbol: "BTCUSDT", FirstUpdateID: 99, FinalUpdateID: 101, PrevFinalID: 98})
	require.NoError(t, f.loadSnapshot(context.Background(), "BTCUSDT"))
	assert.Equal(t, 1, depthCalls)

	snap, err := f.OrderBook(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, int64(101), snap.LastUpdateID)

	// gap: pu does not match the previous u
	f.pendingMu.Lock()
	delete(f.pending, "BTCUSDT")
	f.pendingMu.Unlock()
	f.applyDepth(DepthEvent{Symbol: "BTCUSDT", FirstUpdateID: 105, FinalUpdateID: 106, PrevFinalID: 104})
	assert.False(t, f.books["BTCUSDT"].Ready())
	f.pendingMu.Lock()
	assert.True(t, f.pending["BTCUSDT"])
	f.pendingMu.Unlock()
}

func TestFeed_OrderBookFallsBackToREST(t *testing.T) {
	rest := &stubREST{DepthFn: func(_ context.Context, _ string, limit int) (DepthSnapshot, error) {
		assert.Equal(t, 20, limit)
		levels := make([]PriceLevel, 0, 10)
		for i := 0; i < 10; i++ {
			levels = append(levels, PriceLevel{Price: float64(100 - i), Quantity: 1})
		}
		return DepthSnapshot{LastUpdateID: 5, Bids: levels, Asks: levels}, nil
	}}
	f := NewFeed(testMarketConfig(), rest, NewPriceCache(nil), nil)
	snap, err := f.OrderBook(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Len(t, snap.Bids, 5)

	_, err = f.OrderBook(context.Background(), "DOGEUSDT")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestFeed_KlinesValidatesInterval(t *testing.T) {
	rest := &stubREST{KlinesFn: func(_ context.Context, _, _ string, limit int) ([]Kline, error) {
		assert.Equal(t, 500, limit)
		return []Kline{{Close: 1}}, nil
	}}
	f := NewFeed(testMarketConfig(), rest, NewPriceCache(nil), nil)

	_, err := f.Klines(context.Background(), "BTCUSDT", "7m", 10)
	assert.Error(t, err)

	klines, err := f.Klines(context.Background(), "BTCUSDT", "1h", 0)
	require.NoError(t, err)
	assert.Len(t, klines, 1)
}

func TestFeed_PublishLoopThrottlesBook(t *testing.T) {
	pub := &recordingPublisher{}
	f := NewFeed(testMarketConfig(), &stubREST{}, NewPriceCache(nil), pub)
	book := f.books["BTCUSDT"]
	require.NoError(t, book.LoadSnapshot(DepthSnapshot{LastUpdateID: 1}))
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, book.Apply(DepthEvent{Symbol: "BTCUSDT", FirstUpdateID: i, FinalUpdateID: i + 1, PrevFinalID: i}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	go f.publishLoop(ctx)
	require.Eventually(t, func() bool { return len(pub.types()) > 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	cancel()

	// five deltas, one publish
	assert.Equal(t, []string{EventOrderBook}, pub.types())
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func combined(stream, data string) []byte {
	return []byte(`{"stream":"` + stream + `","data":` + data + `}`)
}

func TestFeed_RunSyncsBookFromExchangeFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	sendGap := make(chan struct{})
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		frames := [][]byte{
			combined("btcusdt@depth@100ms",
				`{"e":"depthUpdate","E":1700000000100,"T":1700000000095,"s":"BTCUSDT","U":157,"u":160,"pu":149,"b":[["65000.10","2.5"]],"a":[["65001.20","1.0"],["65010.00","0"]]}`),
			combined("btcusdt@markPrice@1s",
				`{"e":"markPriceUpdate","E":1700000000200,"s":"BTCUSDT","p":"65000.50","i":"64990.00","P":"64988.25","r":"0.00010000","T":1700006400000}`),
		}
		for _, frame := range frames {
			if conn.WriteMessage(websocket.TextMessage, frame) != nil {
				return
			}
		}
		select {
		case <-sendGap:
		case <-release:
			return
		}
		// pu 165 does not follow the last applied u of 160
		_ = conn.WriteMessage(websocket.TextMessage, combined("btcusdt@depth@100ms",
			`{"e":"depthUpdate","E":1700000000300,"T":1700000000295,"s":"BTCUSDT","U":166,"u":170,"pu":165,"b":[],"a":[]}`))
		<-release
	}))
	defer server.Close()
	defer close(release)

	var btcSnapshots atomic.Int32
	rest := &stubREST{DepthFn: func(_ context.Context, symbol string, _ int) (DepthSnapshot, error) {
		if symbol != "BTCUSDT" {
			return DepthSnapshot{}, errors.New("no book")
		}
		btcSnapshots.Add(1)
		return DepthSnapshot{
			LastUpdateID: 158,
			Bids:         []PriceLevel{{Price: 64999, Quantity: 1}},
			Asks:         []PriceLevel{{Price: 65010, Quantity: 3}},
		}, nil
	}}

	cfg := testMarketConfig()
	cfg.Binance.WSURL = wsURL(server.URL)
	cfg.Market.ReconnectDelay = 10 * time.Millisecond
	prices := NewPriceCache(nil)
	f := NewFeed(cfg, rest, prices, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	defer func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("feed did not stop")
		}
	}()

	book := f.books["BTCUSDT"]
	require.Eventually(t, book.Ready, 2*time.Second, 5*time.Millisecond)
	snap, err := book.Top(5)
	require.NoError(t, err)
	assert.Equal(t, int64(160), snap.LastUpdateID)
	assert.Equal(t, []PriceLevel{{Price: 65000.10, Quantity: 2.5}, {Price: 64999, Quantity: 1}}, snap.Bids)
	assert.Equal(t, []PriceLevel{{Price: 65001.20, Quantity: 1}}, snap.Asks)

	require.Eventually(t, func() bool {
		_, ok := prices.Snapshot()["BTCUSDT"]
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	mp := prices.Snapshot()["BTCUSDT"]
	assert.Equal(t, 65000.50, mp.MarkPrice)
	assert.Equal(t, 0.0001, mp.FundingRate)

	first := btcSnapshots.Load()
	close(sendGap)
	require.Eventually(t, func() bool { return btcSnapshots.Load() > first }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, book.Ready())
}
