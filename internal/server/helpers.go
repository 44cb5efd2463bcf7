package server

import (
	"context"
	"errors"

	"kortrade/internal/models"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten means a helper already wrote a 400. Handlers return
// nil when they see it so the error handler does not overwrite the body.
var errResponseWritten = errors.New("response already written")

const maxPageSize = 100

// Pagination is the offset window of a listing request.
type Pagination struct {
	Limit  int
	Offset int
}

// parsePagination reads ?limit= and either ?offset= or the 1-based ?page=
// the board UI sends. Limit is clamped to [1, maxPageSize].
func parsePagination(c *fiber.Ctx, defaultLimit int) Pagination {
	p := Pagination{Limit: c.QueryInt("limit", defaultLimit), Offset: c.QueryInt("offset", 0)}
	switch {
	case p.Limit <= 0:
		p.Limit = defaultLimit
	case p.Limit > maxPageSize:
		p.Limit = maxPageSize
	}
	if page := c.QueryInt("page", 0); page > 1 && p.Offset == 0 {
		p.Offset = (page - 1) * p.Limit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

func paged(items any, total int64, p Pagination) fiber.Map {
	return fiber.Map{
		"items":  items,
		"total":  total,
		"limit":  p.Limit,
		"offset": p.Offset,
	}
}

// pathID returns the positive :id route parameter.
func pathID(c *fiber.Ctx) (uint, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("잘못된 ID입니다"))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// parseBody decodes a JSON body into dst or writes a 400.
func parseBody(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("요청 형식이 올바르지 않습니다"))
		return errResponseWritten
	}
	return nil
}

// respondError writes err with the status its code maps to. Anything that
// is not an AppError is reported as internal.
func respondError(c *fiber.Ctx, err error) error {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		err = models.NewInternalError(err)
	}
	return models.RespondWithError(c, models.StatusFor(err), err)
}

func (s *Server) isAdmin(c *fiber.Ctx, userID uint) (bool, error) {
	return s.isAdminByUserID(c.UserContext(), userID)
}

// isAdminByUserID treats a banned admin as a member.
func (s *Server) isAdminByUserID(ctx context.Context, userID uint) (bool, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.IsAdmin && !user.IsBanned, nil
}
