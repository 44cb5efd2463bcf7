package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"kortrade/internal/market"
	"kortrade/internal/models"
	"kortrade/internal/validation"

	"github.com/gofiber/fiber/v2"
)

const snapshotTimeout = 3 * time.Second

// marketSymbol reads the :symbol param. Unlisted symbols answer 404.
func (s *Server) marketSymbol(c *fiber.Ctx) (string, error) {
	symbol, err := validation.NormalizeSymbol(c.Params("symbol"))
	if err != nil || !s.market.Listed(symbol) {
		_ = models.RespondWithError(c, fiber.StatusNotFound,
			models.NewNotFoundMessage("지원하지 않는 종목입니다"))
		return "", errResponseWritten
	}
	return symbol, nil
}

func marketError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, market.ErrUnknownSymbol):
		return models.RespondWithError(c, fiber.StatusNotFound,
			models.NewNotFoundMessage("지원하지 않는 종목입니다"))
	case errors.Is(err, market.ErrBookNotReady), errors.Is(err, market.ErrNoPrice):
		return respondError(c, models.NewUnavailableError("시세를 준비 중입니다. 잠시 후 다시 시도해주세요", err))
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return respondError(c, err)
	}
	return respondError(c, models.NewUnavailableError("거래소 시세를 가져오지 못했습니다", err))
}

// GetSymbols handles GET /api/market/symbols
// @Summary Tradable symbols
// @Tags market
// @Produce json
// @Success 200 {array} string
// @Router /market/symbols [get]
func (s *Server) GetSymbols(c *fiber.Ctx) error {
	return c.JSON(s.market.Symbols())
}

// GetOrderBook handles GET /api/market/:symbol/orderbook
// @Summary Order book
// @Tags market
// @Produce json
// @Param symbol path string true "Symbol, e.g. BTCUSDT"
// @Success 200 {object} market.BookSnapshot
// @Failure 404 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /market/{symbol}/orderbook [get]
func (s *Server) GetOrderBook(c *fiber.Ctx) error {
	symbol, err := s.marketSymbol(c)
	if err != nil {
		return nil
	}
	book, err := s.market.OrderBook(c.UserContext(), symbol)
	if err != nil {
		return marketError(c, err)
	}
	return c.JSON(book)
}

// GetTrades handles GET /api/market/:symbol/trades
// @Summary Recent trades
// @Tags market
// @Produce json
// @Param symbol path string true "Symbol"
// @Param limit query int false "Number of trades" default(50)
// @Success 200 {array} market.Trade
// @Router /market/{symbol}/trades [get]
func (s *Server) GetTrades(c *fiber.Ctx) error {
	symbol, err := s.marketSymbol(c)
	if err != nil {
		return nil
	}
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	trades, err := s.market.Trades(symbol, limit)
	if err != nil {
		return marketError(c, err)
	}
	if trades == nil {
		trades = []market.Trade{}
	}
	return c.JSON(trades)
}

// GetTicker handles GET /api/market/:symbol/ticker
// @Summary 24h ticker
// @Tags market
// @Produce json
// @Param symbol path string true "Symbol"
// @Success 200 {object} market.Ticker
// @Router /market/{symbol}/ticker [get]
func (s *Server) GetTicker(c *fiber.Ctx) error {
	symbol, err := s.marketSymbol(c)
	if err != nil {
		return nil
	}
	t, err := s.market.Ticker(c.UserContext(), symbol)
	if err != nil {
		return marketError(c, err)
	}
	return c.JSON(t)
}

// GetKlines handles GET /api/market/:symbol/klines
// @Summary Candlesticks
// @Tags market
// @Produce json
// @Param symbol path string true "Symbol"
// @Param interval query string false "Kline interval" default(1m)
// @Param limit query int false "Number of candles" default(500)
// @Success 200 {array} market.Kline
// @Failure 400 {object} models.ErrorResponse
// @Router /market/{symbol}/klines [get]
func (s *Server) GetKlines(c *fiber.Ctx) error {
	symbol, err := s.marketSymbol(c)
	if err != nil {
		return nil
	}
	interval := c.Query("interval", "1m")
	if !market.ValidInterval(interval) {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("지원하지 않는 캔들 간격입니다"))
	}
	klines, err := s.market.Klines(c.UserContext(), symbol, interval, c.QueryInt("limit", 500))
	if err != nil {
		return marketError(c, err)
	}
	return c.JSON(klines)
}

// GetFundingRates handles GET /api/market/:symbol/funding
// @Summary Funding rate history
// @Tags market
// @Produce json
// @Param symbol path string true "Symbol"
// @Param limit query int false "Rows" default(100)
// @Success 200 {array} market.FundingRate
// @Router /market/{symbol}/funding [get]
func (s *Server) GetFundingRates(c *fiber.Ctx) error {
	symbol, err := s.marketSymbol(c)
	if err != nil {
		return nil
	}
	rates, err := s.market.FundingRates(c.UserContext(), symbol, c.QueryInt("limit", 100))
	if err != nil {
		return marketError(c, err)
	}
	return c.JSON(rates)
}

// GetMarkPrice handles GET /api/market/:symbol/mark
// @Summary Mark price
// @Description Mark price, index price and the next funding time
// @Tags market
// @Produce json
// @Param symbol path string true "Symbol"
// @Success 200 {object} market.MarkPrice
// @Failure 503 {object} models.ErrorResponse
// @Router /market/{symbol}/mark [get]
func (s *Server) GetMarkPrice(c *fiber.Ctx) error {
	symbol, err := s.marketSymbol(c)
	if err != nil {
		return nil
	}
	mp, err := s.market.MarkPrice(c.UserContext(), symbol)
	if err != nil {
		return marketError(c, err)
	}
	return c.JSON(mp)
}

// marketSnapshot returns the messages a new market subscriber receives
// before live updates. Sources that fail are skipped.
func (s *Server) marketSnapshot(ctx context.Context, symbol string) []string {
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	var out []string
	add := func(eventType string, payload any) {
		b, err := json.Marshal(market.Event{Type: eventType, Symbol: symbol, Payload: payload})
		if err != nil {
			return
		}
		out = append(out, string(b))
	}

	if book, err := s.market.OrderBook(ctx, symbol); err == nil {
		add(market.EventOrderBook, book)
	} else {
		s.logger.Debug("snapshot order book unavailable", slog.String("symbol", symbol), slog.Any("error", err))
	}
	if t, err := s.market.Ticker(ctx, symbol); err == nil {
		add(market.EventTicker, t)
	}
	if mp, err := s.market.MarkPrice(ctx, symbol); err == nil {
		add(market.EventMarkPrice, mp)
	}
	return out
}
