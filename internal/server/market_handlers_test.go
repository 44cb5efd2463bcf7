package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"kortrade/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarketEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var symbols []string
	status := ts.doJSON(t, http.MethodGet, "/api/market/symbols", nil, "", &symbols)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, symbols)

	var book market.BookSnapshot
	status = ts.doJSON(t, http.MethodGet, "/api/market/btcusdt/orderbook", nil, "", &book)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "BTCUSDT", book.Symbol)
	require.Len(t, book.Bids, 1)
	assert.Less(t, book.Bids[0].Price, book.Asks[0].Price)

	var mark market.MarkPrice
	status = ts.doJSON(t, http.MethodGet, "/api/market/ETHUSDT/mark", nil, "", &mark)
	require.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 3000, mark.MarkPrice, 1e-9)

	var trades []market.Trade
	status = ts.doJSON(t, http.MethodGet, "/api/market/BTCUSDT/trades?limit=10", nil, "", &trades)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, trades, 1)

	status, _ = ts.do(t, http.MethodGet, "/api/market/BTCUSDT/klines?interval=15m", nil, "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = ts.do(t, http.MethodGet, "/api/market/BTCUSDT/funding", nil, "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = ts.do(t, http.MethodGet, "/api/market/BTCUSDT/ticker", nil, "")
	assert.Equal(t, http.StatusOK, status)
}

func TestMarketEndpoints_Errors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"unlisted symbol", "/api/market/DOGEUSDT/ticker", http.StatusNotFound},
		{"malformed symbol", "/api/market/btc-usdt!/orderbook", http.StatusNotFound},
		{"bad interval", "/api/market/BTCUSDT/klines?interval=7m", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := ts.do(t, http.MethodGet, tt.path, nil, "")
			assert.Equal(t, tt.status, status)
		})
	}

	ts.market.failWith(market.ErrBookNotReady)
	status, _ := ts.do(t, http.MethodGet, "/api/market/BTCUSDT/orderbook", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	ts.market.failWith(errors.New("upstream timeout"))
	status, _ = ts.do(t, http.MethodGet, "/api/market/BTCUSDT/mark", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestMarketSnapshot(t *testing.T) {
	ts := newTestServer(t)

	msgs := ts.srv.marketSnapshot(context.Background(), "BTCUSDT")
	require.Len(t, msgs, 3)

	types := make([]string, 0, len(msgs))
	for _, m := range msgs {
		var ev struct {
			Type   string `json:"type"`
			Symbol string `json:"symbol"`
		}
		require.NoError(t, json.Unmarshal([]byte(m), &ev))
		assert.Equal(t, "BTCUSDT", ev.Symbol)
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{market.EventOrderBook, market.EventTicker, market.EventMarkPrice}, types)

	// Failing sources are left out rather than failing the subscription.
	ts.market.failWith(market.ErrBookNotReady)
	msgs = ts.srv.marketSnapshot(context.Background(), "BTCUSDT")
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], `"type":"ticker"`)
}
