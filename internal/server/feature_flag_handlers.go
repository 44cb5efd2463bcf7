package server

import "github.com/gofiber/fiber/v2"

// GetFeatureFlags handles GET /api/admin/feature-flags
// @Summary Feature flag configuration
// @Description Raw rollout rules and how they evaluate for the calling admin
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{raw=map[string]string,evaluated=map[string]bool}
// @Router /admin/feature-flags [get]
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	userID, _ := c.Locals("userID").(uint)

	if s.featureFlags == nil {
		return c.JSON(fiber.Map{
			"raw":       map[string]string{},
			"evaluated": map[string]bool{},
		})
	}

	return c.JSON(fiber.Map{
		"raw":       s.featureFlags.Raw(),
		"evaluated": s.featureFlags.Snapshot(userID),
	})
}

// GetFeatures handles GET /api/features
// @Summary Enabled features
// @Description Which optional sections the caller may see. Anonymous callers are evaluated as user 0.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]bool
// @Router /features [get]
func (s *Server) GetFeatures(c *fiber.Ctx) error {
	userID, _ := s.optionalUserID(c)
	if s.featureFlags == nil {
		return c.JSON(map[string]bool{})
	}
	return c.JSON(s.featureFlags.Snapshot(userID))
}
