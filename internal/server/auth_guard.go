package server

import (
	"context"
	"strconv"
	"strings"

	"kortrade/internal/cache"
	"kortrade/internal/middleware"
	"kortrade/internal/models"
	"kortrade/internal/service"

	"github.com/gofiber/fiber/v2"
)

func unauthorized(c *fiber.Ctx, msg string) error {
	return models.RespondWithError(c, fiber.StatusUnauthorized, models.NewUnauthorizedError(msg))
}

func isWebsocketPath(path string) bool {
	return path == "/api/ws" || strings.HasPrefix(path, "/api/ws/")
}

// AuthRequired admits a caller holding a single-use websocket ticket or a
// valid, unrevoked access token. Websocket routes accept tickets only; the
// ?token= fallback is for plain HTTP clients that cannot set headers.
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ws := isWebsocketPath(c.Path())

		if ticket := c.Query("ticket"); ticket != "" {
			if userID, ok := s.consumeWSTicket(c.Context(), ticket); ok {
				return s.authenticate(c, userID)
			}
			if ws {
				return unauthorized(c, "웹소켓 티켓이 만료되었거나 올바르지 않습니다")
			}
		}

		token := middleware.BearerToken(c)
		if token == "" && !ws {
			token = c.Query("token")
		}
		if token == "" {
			return unauthorized(c, "로그인이 필요합니다")
		}

		claims, err := middleware.ParseToken(s.config.JWTSecret, token)
		if err != nil {
			return unauthorized(c, err.Error())
		}
		if claims.JTI != "" && s.authService.IsRevoked(c.Context(), claims.JTI) {
			return unauthorized(c, "로그아웃된 토큰입니다")
		}

		c.Locals("claims", claims)
		return s.authenticate(c, claims.UserID)
	}
}

// authenticate loads the account behind a credential. Deleted accounts are
// 401 and banned ones 403.
func (s *Server) authenticate(c *fiber.Ctx, userID uint) error {
	user, err := s.userRepo.GetByID(c.Context(), userID)
	switch {
	case service.IsNotFound(err):
		return unauthorized(c, "계정을 찾을 수 없습니다")
	case err != nil:
		return models.RespondWithError(c, models.StatusFor(err), err)
	case user.IsBanned:
		return models.RespondWithError(c, fiber.StatusForbidden,
			models.NewForbiddenError("이용이 정지된 계정입니다"))
	}

	c.Locals("userID", userID)
	c.SetUserContext(middleware.WithUserID(c.UserContext(), userID))
	return c.Next()
}

// AdminRequired must follow AuthRequired.
func (s *Server) AdminRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		admin, err := s.isAdmin(c, c.Locals("userID").(uint))
		if err != nil {
			return models.RespondWithError(c, models.StatusFor(err), err)
		}
		if !admin {
			return models.RespondWithError(c, fiber.StatusForbidden,
				models.NewForbiddenError("관리자 권한이 필요합니다"))
		}
		return c.Next()
	}
}

// FeatureRequired hides a section behind 404 while flag is off for the
// caller.
func (s *Server) FeatureRequired(flag string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, _ := c.Locals("userID").(uint)
		if s.featureFlags != nil && !s.featureFlags.Enabled(flag, userID) {
			return models.RespondWithError(c, fiber.StatusNotFound,
				models.NewNotFoundMessage("현재 이용할 수 없는 기능입니다"))
		}
		return c.Next()
	}
}

// optionalUserID identifies the caller from a bearer token without
// requiring one.
func (s *Server) optionalUserID(c *fiber.Ctx) (uint, bool) {
	token := middleware.BearerToken(c)
	if token == "" {
		return 0, false
	}
	claims, err := middleware.ParseToken(s.config.JWTSecret, token)
	if err != nil || (claims.JTI != "" && s.authService.IsRevoked(c.Context(), claims.JTI)) {
		return 0, false
	}
	return claims.UserID, true
}

// optionalWSAuth lets anonymous viewers onto the market stream; a ticket,
// when given, must be valid.
func (s *Server) optionalWSAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ticket := c.Query("ticket")
		if ticket == "" {
			return c.Next()
		}
		userID, ok := s.consumeWSTicket(c.Context(), ticket)
		if !ok {
			return unauthorized(c, "웹소켓 티켓이 만료되었거나 올바르지 않습니다")
		}
		c.Locals("userID", userID)
		return c.Next()
	}
}

// consumeWSTicket redeems a ticket exactly once.
func (s *Server) consumeWSTicket(ctx context.Context, ticket string) (uint, bool) {
	if s.redis == nil {
		return 0, false
	}
	raw, err := s.redis.GetDel(ctx, cache.WSTicketKey(ticket)).Result()
	if err != nil {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
