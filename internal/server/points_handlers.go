package server

import (
	"errors"

	"kortrade/internal/models"
	"kortrade/internal/points"

	"github.com/gofiber/fiber/v2"
)

// GetMyPoints handles GET /api/points/me
// @Summary KOR-Coin wallet
// @Description Balance, activity points, level and today's reward counters
// @Tags points
// @Produce json
// @Security BearerAuth
// @Success 200 {object} points.Summary
// @Router /points/me [get]
func (s *Server) GetMyPoints(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	summary, err := s.points.Me(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(summary)
}

// GetPointHistory handles GET /api/points/history
// @Summary KOR-Coin ledger
// @Tags points
// @Produce json
// @Security BearerAuth
// @Param type query string false "Ledger type filter"
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Offset"
// @Success 200 {object} object{items=[]models.CoinTransaction,total=int}
// @Router /points/history [get]
func (s *Server) GetPointHistory(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	page := parsePagination(c, 20)

	rows, total, err := s.points.History(c.UserContext(), points.HistoryFilter{
		UserID: userID,
		Type:   models.CoinTxType(c.Query("type")),
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(paged(rows, total, page))
}

// Attend handles POST /api/points/attendance
// @Summary Daily attendance
// @Description Checks in once per Asia/Seoul day and pays the attendance reward
// @Tags points
// @Produce json
// @Security BearerAuth
// @Success 200 {object} points.Reward
// @Failure 409 {object} models.ErrorResponse
// @Router /points/attendance [post]
func (s *Server) Attend(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	reward, err := s.points.Attend(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, points.ErrAlreadyAttended) {
			return models.RespondWithError(c, fiber.StatusConflict,
				models.NewConflictError("오늘은 이미 출석했습니다"))
		}
		return respondError(c, err)
	}
	return c.JSON(reward)
}

// GetRanking handles GET /api/points/ranking
// @Summary Activity ranking
// @Tags points
// @Produce json
// @Success 200 {array} points.RankEntry
// @Router /points/ranking [get]
func (s *Server) GetRanking(c *fiber.Ctx) error {
	ranking, err := s.points.Ranking(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ranking)
}
