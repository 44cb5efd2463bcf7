package server

import (
	"strconv"
	"time"

	"kortrade/internal/models"
	"kortrade/internal/points"
	"kortrade/internal/repository"
	"kortrade/internal/service"

	"github.com/gofiber/fiber/v2"
)

const dayLayout = "2006-01-02"

// queryBool reads an optional boolean filter; absent or malformed values are nil.
func queryBool(c *fiber.Ctx, key string) *bool {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}

// queryDay parses a YYYY-MM-DD query value in Korean time. Zero when absent.
func queryDay(c *fiber.Ctx, key string) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(dayLayout, raw, points.KST)
	if err != nil {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError(key+" must be YYYY-MM-DD"))
		return time.Time{}, errResponseWritten
	}
	return t, nil
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// GetDashboard handles GET /api/admin/dashboard
// @Summary Admin dashboard
// @Description Member, content, coin and trading totals plus online count
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} service.Dashboard
// @Router /admin/dashboard [get]
func (s *Server) GetDashboard(c *fiber.Ctx) error {
	d, err := s.adminService.Dashboard(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(d)
}

// AdminListPosts handles GET /api/admin/posts
// @Summary List posts for moderation
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param board query string false "free or profit"
// @Param status query string false "published or hidden"
// @Param q query string false "Title search"
// @Param author_id query int false "Author"
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Offset"
// @Success 200 {object} object{items=[]models.Post,total=int}
// @Router /admin/posts [get]
func (s *Server) AdminListPosts(c *fiber.Ctx) error {
	page := parsePagination(c, 20)
	posts, total, err := s.adminService.ListPosts(c.UserContext(), service.AdminPostFilter{
		Board:    models.Board(c.Query("board")),
		Status:   models.PostStatus(c.Query("status")),
		Query:    c.Query("q"),
		AuthorID: uint(c.QueryInt("author_id", 0)),
		Limit:    page.Limit,
		Offset:   page.Offset,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(paged(posts, total, page))
}

// AdminHidePost handles POST /api/admin/posts/:id/hide
// @Summary Hide post
// @Tags admin
// @Accept json
// @Security BearerAuth
// @Param id path int true "Post ID"
// @Param request body reasonRequest false "Reason"
// @Success 204
// @Router /admin/posts/{id}/hide [post]
func (s *Server) AdminHidePost(c *fiber.Ctx) error {
	adminID := c.Locals("userID").(uint)
	id, err := pathID(c)
	if err != nil {
		return nil
	}
	var req reasonRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return nil
		}
	}
	if err := s.adminService.HidePost(c.UserContext(), adminID, id, req.Reason, c.IP()); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AdminRestorePost handles POST /api/admin/posts/:id/restore
// @Summary Restore hidden post
// @Tags admin
// @Security BearerAuth
// @Param id path int true "Post ID"
// @Success 204
// @Router /admin/posts/{id}/restore [post]
func (s *Server) AdminRestorePost(c *fiber.Ctx) error {
	adminID := c.Locals("userID").(uint)
	id, err := pathID(c)
	if err != nil {
		return nil
	}
	if err := s.adminService.RestorePost(c.UserContext(), adminID, id, c.IP()); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AdminSetNotice handles POST /api/admin/posts/:id/notice
// @Summary Pin or unpin a notice
// @Tags admin
// @Accept json
// @Security BearerAuth
// @Param id path int true "Post ID"
// @Param request body object{notice=bool} true "Notice flag"
// @Success 204
// @Router /admin/posts/{id}/notice [post]
func (s *Server) AdminSetNotice(c *fiber.Ctx) error {
	adminID := c.Locals("userID").(uint)
	id, err := pathID(c)
	if err != nil {
		return nil
	}
	var req struct {
		Notice bool `json:"notice"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if err := s.adminService.SetNotice(c.UserContext(), adminID, id, req.Notice, c.IP()); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AdminDeletePost handles DELETE /api/admin/posts/:id
// @Summary Delete any post
// @Tags admin
// @Security BearerAuth
// @Param id path int true "Post ID"
// @Success 204
// @Router /admin/posts/{id} [delete]
func (s *Server) AdminDeletePost(c *fiber.Ctx) error {
	adminID := c.Locals("userID").(uint)
	id, err := pathID(c)
	if err != nil {
		return nil
	}
	if err := s.adminService.DeletePost(c.UserContext(), adminID, id, c.IP()); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AdminDeleteComment handles DELETE /api/admin/comments/:id
// @Summary Delete any comment
// @Tags admin
// @Security BearerAuth
// @Param id path int true "Comment ID"
// @Success 204
// @Router /admin/comments/{id} [delete]
func (s *Server) AdminDeleteComment(c *fiber.Ctx) error {
	adminID := c.Locals("userID").(uint)
	id, err := pathID(c)
	if err != nil {
		return nil
	}
	if err := s.adminService.DeleteComment(c.UserContext(), adminID, id, c.IP()); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AdminListUsers handles GET /api/admin/users
// @Summary List members
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param q query string false "Username, nickname or email"
// @Param banned query bool false "Banned filter"
// @Param admin query bool false "Admin filter"
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Offset"
// @Success 200 {object} object{items=[]models.User,total=int}
// @Router /admin/users [get]
func (s *Server) AdminListUsers(c *fiber.Ctx) error {
	page := parsePagination(c, 20)
	users, total, err := s.adminService.ListUsers(c.UserContext(), repository.UserFilter{
		Query:  c.Query("q"),
		Banned: queryBool(c, "banned"),
		Admin:  queryBool(c, "admin"),
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(paged(users, total, page))
}

// AdminBanUser handles POST /api/admin/users/:id/ban
// @Summary Ban member
// @Tags admin
// @Accept json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Param request body reasonRequest false "Reason"
// @Success 204
// @Failure 400 {object} models.ErrorResponse
// @Router /admin/users/{id}/ban [post]
func (s *Server) AdminBanUser(c *fiber.Ctx) error {
	adminID := c.Locals("userID").(uint)
	id, err := pathID(c)
	if err != nil {
		return nil
	}
	var req reasonRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return nil
		}
	}
	if err := s.adminService.BanUser(c.UserContext(), adminID, id, req.Reason, c.IP()); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AdminUnbanUser handles POST /api/admin/users/:id/unban
// @Summary Unban member
// @Tags admin
// @Security BearerAuth
// @Param id path int true "User ID"
// @Success 204
// @Router /admin/users/{id}/unban [post]
func (s *Server) AdminUnbanUser(c *fiber.Ctx) error {
	adminID := c.Locals("userID").(uint)
	id, err := pathID(c)
	if err != nil {
		return nil
	}
	if err := s.adminService.UnbanUser(c.UserContext(), adminID, id, c.IP()); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AdminPromoteUser handles POST /api/admin/users/:id/promote
// @Summary Grant admin
// @Tags admin
// @Security BearerAuth
// @Param id path int true "User ID"
// @Success 204
// @Router /admin/users/{id}/promote [post]
func (s *Server) AdminPromoteUser(c *fiber.Ctx) error {
	return s.setAdmin(c, true)
}

// AdminDemoteUser handles POST /api/admin/users/:id/demote
// @Summary Revoke admin
// @Tags admin
// @Security BearerAuth
// @Param id path int true "User ID"
// @Success 204
// @Router /admin/users/{id}/demote [post]
func (s *Server) AdminDemoteUser(c *fiber.Ctx) error {
	return s.setAdmin(c, false)
}

func (s *Server) setAdmin(c *fiber.Ctx, admin bool) error {
	adminID := c.Locals("userID").(uint)
	id, err := pathID(c)
	if err != nil {
		return nil
	}
	if err := s.adminService.SetAdmin(c.UserContext(), adminID, id, admin, c.IP()); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AdminAdjustCoins handles POST /api/admin/users/:id/coins
// @Summary Grant or deduct KOR-Coin
// @Description Positive amounts grant, negative amounts deduct
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Param request body object{amount=number,memo=string} true "Adjustment"
// @Success 200 {object} models.CoinTransaction
// @Failure 400 {object} models.ErrorResponse
// @Router /admin/users/{id}/coins [post]
func (s *Server) AdminAdjustCoins(c *fiber.Ctx) error {
	adminID := c.Locals("userID").(uint)
	id, err := pathID(c)
	if err != nil {
		return nil
	}
	var req struct {
		Amount float64 `json:"amount"`
		Memo   string  `json:"memo"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	row, err := s.adminService.AdjustCoins(c.UserContext(), adminID, id, req.Amount, req.Memo, c.IP())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(row)
}

// GetEconomy handles GET /api/admin/economy
// @Summary Coin economy by day
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param from query string false "First day, YYYY-MM-DD"
// @Param to query string false "Last day, YYYY-MM-DD"
// @Success 200 {array} service.EconomyBucket
// @Router /admin/economy [get]
func (s *Server) GetEconomy(c *fiber.Ctx) error {
	from, err := queryDay(c, "from")
	if err != nil {
		return nil
	}
	to, err := queryDay(c, "to")
	if err != nil {
		return nil
	}
	buckets, err := s.adminService.Economy(c.UserContext(), from, to)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(buckets)
}

// GetHolders handles GET /api/admin/economy/holders
// @Summary Top KOR-Coin holders
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Rows" default(20)
// @Success 200 {array} service.Holder
// @Router /admin/economy/holders [get]
func (s *Server) GetHolders(c *fiber.Ctx) error {
	holders, err := s.adminService.Holders(c.UserContext(), c.QueryInt("limit", 20))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(holders)
}

// GetActivityLogs handles GET /api/admin/activity-logs
// @Summary Activity log
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param actor_id query int false "Actor"
// @Param action query string false "Action, or a prefix ending in '.'"
// @Param target_type query string false "Target type"
// @Param target_id query int false "Target ID"
// @Param from query string false "First day, YYYY-MM-DD"
// @Param to query string false "Last day, YYYY-MM-DD"
// @Param limit query int false "Page size" default(50)
// @Param offset query int false "Offset"
// @Success 200 {object} object{items=[]models.ActivityLog,total=int}
// @Router /admin/activity-logs [get]
func (s *Server) GetActivityLogs(c *fiber.Ctx) error {
	page := parsePagination(c, 50)
	from, err := queryDay(c, "from")
	if err != nil {
		return nil
	}
	to, err := queryDay(c, "to")
	if err != nil {
		return nil
	}
	if !to.IsZero() {
		to = to.AddDate(0, 0, 1)
	}

	logs, total, err := s.adminService.ActivityLogs(c.UserContext(), repository.ActivityLogFilter{
		ActorID:    uint(c.QueryInt("actor_id", 0)),
		Action:     c.Query("action"),
		TargetType: c.Query("target_type"),
		TargetID:   uint(c.QueryInt("target_id", 0)),
		From:       from,
		To:         to,
		Limit:      page.Limit,
		Offset:     page.Offset,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(paged(logs, total, page))
}

// GetAdminNotes handles GET /api/admin/notes
// @Summary Admin notes
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param target_user_id query int false "Notes about this member"
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Offset"
// @Success 200 {object} object{items=[]models.AdminNote,total=int}
// @Router /admin/notes [get]
func (s *Server) GetAdminNotes(c *fiber.Ctx) error {
	page := parsePagination(c, 20)
	notes, total, err := s.adminService.ListNotes(c.UserContext(),
		uint(c.QueryInt("target_user_id", 0)), page.Limit, page.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(paged(notes, total, page))
}

// CreateAdminNote handles POST /api/admin/notes
// @Summary Create admin note
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.NoteInput true "Note"
// @Success 201 {object} models.AdminNote
// @Router /admin/notes [post]
func (s *Server) CreateAdminNote(c *fiber.Ctx) error {
	adminID := c.Locals("userID").(uint)
	var req service.NoteInput
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	note, err := s.adminService.CreateNote(c.UserContext(), adminID, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(note)
}

// UpdateAdminNote handles PUT /api/admin/notes/:id
// @Summary Update admin note
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Note ID"
// @Param request body service.NoteInput true "Note"
// @Success 200 {object} models.AdminNote
// @Router /admin/notes/{id} [put]
func (s *Server) UpdateAdminNote(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return nil
	}
	var req service.NoteInput
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	note, err := s.adminService.UpdateNote(c.UserContext(), id, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(note)
}

// DeleteAdminNote handles DELETE /api/admin/notes/:id
// @Summary Delete admin note
// @Tags admin
// @Security BearerAuth
// @Param id path int true "Note ID"
// @Success 204
// @Router /admin/notes/{id} [delete]
func (s *Server) DeleteAdminNote(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return nil
	}
	if err := s.adminService.DeleteNote(c.UserContext(), id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
