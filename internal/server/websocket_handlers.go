package server

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"kortrade/internal/cache"
	"kortrade/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// IssueWSTicket handles POST /api/ws/ticket
// @Summary Issue WebSocket ticket
// @Description Returns a single-use ticket for ?ticket= on the WebSocket endpoints; it expires after 60 seconds
// @Tags realtime
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{ticket=string,expires_in=int}
// @Failure 503 {object} models.ErrorResponse
// @Router /ws/ticket [post]
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	if s.redis == nil {
		return respondError(c, models.NewUnavailableError("실시간 연결을 사용할 수 없습니다", nil))
	}

	ticket := uuid.NewString()
	if err := s.redis.Set(c.UserContext(), cache.WSTicketKey(ticket),
		strconv.FormatUint(uint64(userID), 10), cache.WSTicketTTL).Err(); err != nil {
		return respondError(c, models.NewUnavailableError("실시간 연결을 사용할 수 없습니다", err))
	}
	return c.JSON(fiber.Map{
		"ticket":     ticket,
		"expires_in": int(cache.WSTicketTTL.Seconds()),
	})
}

// WebsocketHandler returns a websocket handler that registers connections with the Hub.
// Authentication is handled by route middleware and userID is read from connection locals.
func (s *Server) WebsocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		uid, ok := conn.Locals("userID").(uint)
		if !ok || uid == 0 || s.hub == nil {
			_ = conn.Close()
			return
		}

		client, err := s.hub.Register(uid, conn)
		if err != nil {
			s.logger.Warn("notification websocket rejected", slog.Uint64("user_id", uint64(uid)), slog.Any("error", err))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}
		defer s.hub.UnregisterClient(client)

		client.Serve(nil)
	})
}

// MarketWebsocketHandler streams order book, trade, ticker and mark price
// events. Clients pick symbols with ?symbols=BTCUSDT,ETHUSDT or by sending
// {"type":"subscribe","symbols":[...]}.
func (s *Server) MarketWebsocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		uid, _ := conn.Locals("userID").(uint)

		client, err := s.marketHub.Register(uid, conn)
		if err != nil {
			s.logger.Warn("market websocket rejected", slog.Any("error", err))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}
		defer s.marketHub.UnregisterClient(client)

		client.Serve(func() {
			for _, sym := range strings.Split(conn.Query("symbols"), ",") {
				if sym = strings.TrimSpace(sym); sym == "" {
					continue
				}
				if err := s.marketHub.Subscribe(context.Background(), client, sym); err != nil {
					s.logger.Debug("initial market subscription failed", slog.String("symbol", sym), slog.Any("error", err))
				}
			}
		})
	})
}
