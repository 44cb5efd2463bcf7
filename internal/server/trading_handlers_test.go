package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"kortrade/internal/models"
	"kortrade/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (ts *testServer) openLong(t *testing.T, token string) service.OrderResult {
	t.Helper()
	var res service.OrderResult
	status := ts.doJSON(t, http.MethodPost, "/api/trading/orders", map[string]any{
		"symbol": "btcusdt", "side": "LONG", "leverage": 10, "margin": 100,
	}, token, &res)
	require.Equal(t, http.StatusCreated, status)
	require.NotNil(t, res.Position)
	return res
}

func TestPlaceOrderAndClose(t *testing.T) {
	ts := newTestServer(t)
	u, token := ts.member(t, "futures_kim", 1000)

	opened := ts.openLong(t, token)
	assert.Equal(t, "BTCUSDT", opened.Position.Symbol)
	assert.Equal(t, models.SideLong, opened.Position.Side)
	assert.InDelta(t, 0.02, opened.Position.Quantity, 1e-9)
	assert.InDelta(t, 899.6, opened.Balance, 1e-9)

	ts.market.setMark("BTCUSDT", 55000)

	var positions []models.Position
	status := ts.doJSON(t, http.MethodGet, "/api/trading/positions", nil, token, &positions)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, positions, 1)
	assert.InDelta(t, 100, positions[0].UnrealizedPnL, 1e-9)
	assert.InDelta(t, 100, positions[0].ROE, 1e-9)

	closePath := fmt.Sprintf("/api/trading/positions/%d/close", opened.Position.ID)

	_, otherToken := ts.member(t, "someone_else", 1000)
	status, _ = ts.do(t, http.MethodPost, closePath, nil, otherToken)
	assert.Equal(t, http.StatusNotFound, status)

	var closed service.OrderResult
	status = ts.doJSON(t, http.MethodPost, closePath, nil, token, &closed)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.PositionClosed, closed.Position.Status)
	assert.InDelta(t, 100, closed.Trade.RealizedPnL, 1e-9)
	assert.InDelta(t, 1099.16, ts.balance(t, u.ID), 1e-9)

	var history struct {
		Items []models.TradeHistory `json:"items"`
		Total int64                 `json:"total"`
	}
	status = ts.doJSON(t, http.MethodGet, "/api/trading/history?symbol=BTCUSDT", nil, token, &history)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(2), history.Total)

	var summary service.Summary
	status = ts.doJSON(t, http.MethodGet, "/api/trading/summary", nil, token, &summary)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(1), summary.ClosedTrades)
	assert.Zero(t, summary.OpenPositions)
}

func TestPartialClose(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.member(t, "scalper", 1000)
	opened := ts.openLong(t, token)

	var res service.OrderResult
	status := ts.doJSON(t, http.MethodPost, fmt.Sprintf("/api/trading/positions/%d/close", opened.Position.ID),
		map[string]float64{"quantity": 0.01}, token, &res)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.PositionOpen, res.Position.Status)
	assert.InDelta(t, 0.01, res.Position.Quantity, 1e-9)
}

func TestSetTPSL(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.member(t, "planner", 1000)
	opened := ts.openLong(t, token)
	path := fmt.Sprintf("/api/trading/positions/%d/tpsl", opened.Position.ID)

	status, raw := ts.do(t, http.MethodPut, path, map[string]float64{"take_profit": 48000}, token)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, models.CodeValidation, errorCode(t, raw))

	var pos models.Position
	status = ts.doJSON(t, http.MethodPut, path, map[string]float64{"take_profit": 60000, "stop_loss": 47000}, token, &pos)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, pos.TakeProfit)
	require.NotNil(t, pos.StopLoss)
	assert.InDelta(t, 60000, *pos.TakeProfit, 1e-9)
	assert.InDelta(t, 47000, *pos.StopLoss, 1e-9)
}

func TestPlaceOrder_Rejections(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.member(t, "rich", 100000)
	_, poorToken := ts.member(t, "poor", 50)

	tests := []struct {
		name   string
		token  string
		body   map[string]any
		status int
		code   string
	}{
		{"unlisted symbol", token, map[string]any{"symbol": "DOGEUSDT", "side": "long", "leverage": 5, "margin": 100}, http.StatusBadRequest, models.CodeValidation},
		{"bad side", token, map[string]any{"symbol": "BTCUSDT", "side": "up", "leverage": 5, "margin": 100}, http.StatusBadRequest, models.CodeValidation},
		{"leverage too high", token, map[string]any{"symbol": "BTCUSDT", "side": "long", "leverage": 200, "margin": 100}, http.StatusBadRequest, models.CodeValidation},
		{"below min margin", token, map[string]any{"symbol": "BTCUSDT", "side": "long", "leverage": 5, "margin": 1}, http.StatusBadRequest, models.CodeValidation},
		{"insufficient balance", poorToken, map[string]any{"symbol": "BTCUSDT", "side": "long", "leverage": 5, "margin": 100}, http.StatusUnprocessableEntity, models.CodeInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, raw := ts.do(t, http.MethodPost, "/api/trading/orders", tt.body, tt.token)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, errorCode(t, raw))
		})
	}

	ts.market.failWith(errors.New("feed offline"))
	status, raw := ts.do(t, http.MethodPost, "/api/trading/orders",
		map[string]any{"symbol": "BTCUSDT", "side": "long", "leverage": 5, "margin": 100}, token)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, models.CodeUnavailable, errorCode(t, raw))
}

func TestFundingHistory_Empty(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.member(t, "holder", 1000)

	var out struct {
		Items []models.FundingPayment `json:"items"`
		Total int64                   `json:"total"`
	}
	status := ts.doJSON(t, http.MethodGet, "/api/trading/funding", nil, token, &out)
	require.Equal(t, http.StatusOK, status)
	assert.Zero(t, out.Total)
}
