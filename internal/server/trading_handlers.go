package server

import (
	"strings"

	"kortrade/internal/models"
	"kortrade/internal/service"

	"github.com/gofiber/fiber/v2"
)

type orderRequest struct {
	Symbol     string   `json:"symbol"`
	Side       string   `json:"side"`
	Leverage   int      `json:"leverage"`
	Margin     float64  `json:"margin"`
	TakeProfit *float64 `json:"take_profit"`
	StopLoss   *float64 `json:"stop_loss"`
}

// PlaceOrder handles POST /api/trading/orders
// @Summary Place market order
// @Description Fills at the mark price, opening, growing or reducing the one-way position for the symbol
// @Tags trading
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body orderRequest true "Order"
// @Success 201 {object} service.OrderResult
// @Failure 400 {object} models.ErrorResponse
// @Failure 422 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /trading/orders [post]
func (s *Server) PlaceOrder(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	var req orderRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	res, err := s.tradingService.PlaceOrder(c.UserContext(), service.OrderInput{
		UserID:     userID,
		Symbol:     req.Symbol,
		Side:       models.PositionSide(strings.ToLower(strings.TrimSpace(req.Side))),
		Leverage:   req.Leverage,
		Margin:     req.Margin,
		TakeProfit: req.TakeProfit,
		StopLoss:   req.StopLoss,
		IP:         c.IP(),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// GetPositions handles GET /api/trading/positions
// @Summary Open positions
// @Description Open positions with mark price, unrealized PnL and ROE
// @Tags trading
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Position
// @Router /trading/positions [get]
func (s *Server) GetPositions(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	positions, err := s.tradingService.OpenPositions(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(positions)
}

// ClosePosition handles POST /api/trading/positions/:id/close
// @Summary Close position
// @Description Closes the given quantity at the mark price; omit quantity to close fully
// @Tags trading
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Position ID"
// @Param request body object{quantity=number} false "Partial close quantity"
// @Success 200 {object} service.OrderResult
// @Failure 404 {object} models.ErrorResponse
// @Router /trading/positions/{id}/close [post]
func (s *Server) ClosePosition(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	id, err := pathID(c)
	if err != nil {
		return nil
	}
	var req struct {
		Quantity *float64 `json:"quantity"`
	}
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return nil
		}
	}

	res, err := s.tradingService.ClosePosition(c.UserContext(), userID, id, req.Quantity, c.IP())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// SetTPSL handles PUT /api/trading/positions/:id/tpsl
// @Summary Set take-profit and stop-loss
// @Description Replaces both triggers; a missing value clears it
// @Tags trading
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Position ID"
// @Param request body object{take_profit=number,stop_loss=number} true "Triggers"
// @Success 200 {object} models.Position
// @Failure 400 {object} models.ErrorResponse
// @Router /trading/positions/{id}/tpsl [put]
func (s *Server) SetTPSL(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	id, err := pathID(c)
	if err != nil {
		return nil
	}
	var req struct {
		TakeProfit *float64 `json:"take_profit"`
		StopLoss   *float64 `json:"stop_loss"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	pos, err := s.tradingService.SetTPSL(c.UserContext(), userID, id, req.TakeProfit, req.StopLoss)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(pos)
}

// GetTradeHistory handles GET /api/trading/history
// @Summary Trade history
// @Tags trading
// @Produce json
// @Security BearerAuth
// @Param symbol query string false "Symbol filter"
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Offset"
// @Success 200 {object} object{items=[]models.TradeHistory,total=int}
// @Router /trading/history [get]
func (s *Server) GetTradeHistory(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	page := parsePagination(c, 20)

	rows, total, err := s.tradingService.History(c.UserContext(), service.TradeHistoryFilter{
		UserID: userID,
		Symbol: c.Query("symbol"),
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(paged(rows, total, page))
}

// GetFundingHistory handles GET /api/trading/funding
// @Summary Funding payments
// @Tags trading
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Offset"
// @Success 200 {object} object{items=[]models.FundingPayment,total=int}
// @Router /trading/funding [get]
func (s *Server) GetFundingHistory(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	page := parsePagination(c, 20)

	rows, total, err := s.tradingService.FundingHistory(c.UserContext(), userID, page.Limit, page.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(paged(rows, total, page))
}

// GetTradingSummary handles GET /api/trading/summary
// @Summary Trading account summary
// @Tags trading
// @Produce json
// @Security BearerAuth
// @Success 200 {object} service.Summary
// @Router /trading/summary [get]
func (s *Server) GetTradingSummary(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	summary, err := s.tradingService.Summary(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(summary)
}
