// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"kortrade/internal/models"
	"kortrade/internal/service"

	"github.com/gofiber/fiber/v2"
)

// GetUserProfile handles GET /api/users/:id
// @Summary Public profile
// @Tags users
// @Produce json
// @Param id path int true "User ID"
// @Success 200 {object} service.Profile
// @Failure 404 {object} models.ErrorResponse
// @Router /users/{id} [get]
func (s *Server) GetUserProfile(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return nil
	}

	profile, err := s.userService.GetProfile(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(profile)
}

// GetMyProfile handles GET /api/me
// @Summary My account
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} service.Me
// @Router /me [get]
func (s *Server) GetMyProfile(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	me, err := s.userService.GetMe(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(me)
}

// UpdateMyProfile handles PUT /api/me
// @Summary Update my profile
// @Description Nickname, bio and avatar; omitted fields are unchanged
// @Tags users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{nickname=string,bio=string,avatar=string} true "Profile"
// @Success 200 {object} service.Me
// @Failure 409 {object} models.ErrorResponse
// @Router /me [put]
func (s *Server) UpdateMyProfile(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var req struct {
		Nickname string  `json:"nickname"`
		Bio      *string `json:"bio"`
		Avatar   *string `json:"avatar"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	me, err := s.userService.UpdateProfile(c.UserContext(), service.UpdateProfileInput{
		UserID:   userID,
		Nickname: req.Nickname,
		Bio:      req.Bio,
		Avatar:   req.Avatar,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(me)
}

// ChangePassword handles PUT /api/me/password
// @Summary Change password
// @Tags users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{current_password=string,new_password=string} true "Passwords"
// @Success 200 {object} object{message=string}
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /me/password [put]
func (s *Server) ChangePassword(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("현재 비밀번호와 새 비밀번호를 입력해주세요"))
	}

	if err := s.userService.ChangePassword(c.UserContext(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "비밀번호가 변경되었습니다"})
}
