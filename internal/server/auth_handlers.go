package server

import (
	"kortrade/internal/middleware"
	"kortrade/internal/models"
	"kortrade/internal/service"

	"github.com/gofiber/fiber/v2"
)

// SendVerificationCode handles POST /api/auth/verification/send
// @Summary Send SMS verification code
// @Description Sends a 6-digit code to the phone for signup, password reset or username recovery
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{phone=string,purpose=string} true "Phone and purpose"
// @Success 200 {object} service.SendResult
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Failure 429 {object} models.ErrorResponse
// @Router /auth/verification/send [post]
func (s *Server) SendVerificationCode(c *fiber.Ctx) error {
	var req struct {
		Phone   string `json:"phone"`
		Purpose string `json:"purpose"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	purpose := service.Purpose(req.Purpose)
	if purpose == "" {
		purpose = service.PurposeSignup
	}
	res, err := s.authService.SendCode(c.UserContext(), req.Phone, purpose)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// ConfirmVerificationCode handles POST /api/auth/verification/confirm
// @Summary Confirm SMS verification code
// @Description Exchanges a correct code for a single-use verification token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{phone=string,purpose=string,code=string} true "Code confirmation"
// @Success 200 {object} object{verification_token=string}
// @Failure 400 {object} models.ErrorResponse
// @Router /auth/verification/confirm [post]
func (s *Server) ConfirmVerificationCode(c *fiber.Ctx) error {
	var req struct {
		Phone   string `json:"phone"`
		Purpose string `json:"purpose"`
		Code    string `json:"code"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	purpose := service.Purpose(req.Purpose)
	if purpose == "" {
		purpose = service.PurposeSignup
	}
	token, err := s.authService.ConfirmCode(c.UserContext(), req.Phone, purpose, req.Code)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"verification_token": token})
}

// Signup handles POST /api/auth/signup
// @Summary User signup
// @Description Register a new member with a verified phone
// @Tags auth
// @Accept json
// @Produce json
// @Param request body service.SignupInput true "Signup request"
// @Success 201 {object} service.AuthResult
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /auth/signup [post]
func (s *Server) Signup(c *fiber.Ctx) error {
	var req service.SignupInput
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	req.IP = c.IP()

	res, err := s.authService.Signup(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// Login handles POST /api/auth/login
// @Summary User login
// @Description Authenticate by username or email and return a JWT
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{login=string,password=string} true "Login credentials"
// @Success 200 {object} service.AuthResult
// @Failure 401 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /auth/login [post]
func (s *Server) Login(c *fiber.Ctx) error {
	var req struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	res, err := s.authService.Login(c.UserContext(), req.Login, req.Password, c.IP())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// Logout handles POST /api/auth/logout
// @Summary User logout
// @Description Revokes the presented token
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{message=string}
// @Router /auth/logout [post]
func (s *Server) Logout(c *fiber.Ctx) error {
	claims, ok := c.Locals("claims").(middleware.TokenClaims)
	if ok {
		if err := s.authService.Logout(c.UserContext(), claims); err != nil {
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		}
	}
	return c.JSON(fiber.Map{"message": "로그아웃되었습니다"})
}

// Refresh handles POST /api/auth/refresh
// @Summary Refresh token
// @Description Issues a new token and revokes the presented one
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} service.AuthResult
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/refresh [post]
func (s *Server) Refresh(c *fiber.Ctx) error {
	claims, ok := c.Locals("claims").(middleware.TokenClaims)
	if !ok {
		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Bearer token required"))
	}
	res, err := s.authService.Refresh(c.UserContext(), claims)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// CheckAvailability handles GET /api/auth/check
// @Summary Check identifier availability
// @Description Exactly one of username, nickname or email must be given
// @Tags auth
// @Produce json
// @Param username query string false "Username"
// @Param nickname query string false "Nickname"
// @Param email query string false "Email"
// @Success 200 {object} object{field=string,available=bool}
// @Failure 400 {object} models.ErrorResponse
// @Router /auth/check [get]
func (s *Server) CheckAvailability(c *fiber.Ctx) error {
	var field, value string
	for _, f := range []string{"username", "nickname", "email"} {
		if v := c.Query(f); v != "" {
			if field != "" {
				return models.RespondWithError(c, fiber.StatusBadRequest,
					models.NewValidationError("한 번에 하나의 항목만 확인할 수 있습니다"))
			}
			field, value = f, v
		}
	}

	available, err := s.authService.CheckAvailability(c.UserContext(), field, value)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"field": field, "available": available})
}

// FindUsername handles POST /api/auth/find-username
// @Summary Find username
// @Description Returns the masked username registered to a verified phone
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{phone=string,verification_token=string} true "Verified phone"
// @Success 200 {object} service.FoundUsername
// @Failure 404 {object} models.ErrorResponse
// @Router /auth/find-username [post]
func (s *Server) FindUsername(c *fiber.Ctx) error {
	var req struct {
		Phone             string `json:"phone"`
		VerificationToken string `json:"verification_token"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	res, err := s.authService.FindUsername(c.UserContext(), req.Phone, req.VerificationToken)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// ResetPassword handles POST /api/auth/password/reset
// @Summary Reset password
// @Description Sets a new password for the member owning a verified phone
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{phone=string,verification_token=string,new_password=string} true "Reset request"
// @Success 200 {object} object{message=string}
// @Failure 400 {object} models.ErrorResponse
// @Router /auth/password/reset [post]
func (s *Server) ResetPassword(c *fiber.Ctx) error {
	var req struct {
		Phone             string `json:"phone"`
		VerificationToken string `json:"verification_token"`
		NewPassword       string `json:"new_password"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	if err := s.authService.ResetPassword(c.UserContext(), req.Phone, req.VerificationToken, req.NewPassword, c.IP()); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "비밀번호가 변경되었습니다"})
}
