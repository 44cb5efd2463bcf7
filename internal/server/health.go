package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

const probeTimeout = 5 * time.Second

type probeResult string

const (
	probeHealthy     probeResult = "healthy"
	probeUnhealthy   probeResult = "unhealthy"
	probeUnavailable probeResult = "unavailable"
)

// HealthCheck answers /api with the readiness report.
func (s *Server) HealthCheck(c *fiber.Ctx) error {
	return s.ReadinessCheck(c)
}

// LivenessCheck only proves the process serves requests.
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "up", "time": time.Now()})
}

// ReadinessCheck pings PostgreSQL and Redis. Both are required: Redis holds
// verification codes, tickets and rate-limit counters.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), probeTimeout)
	defer cancel()

	checks := fiber.Map{
		"database": s.probeDB(ctx),
		"redis":    s.probeRedis(ctx),
	}
	status, overall := fiber.StatusOK, probeHealthy
	for _, r := range checks {
		if r != probeHealthy {
			status, overall = fiber.StatusServiceUnavailable, probeUnhealthy
		}
	}
	return c.Status(status).JSON(fiber.Map{
		"service": "KorTrade",
		"status":  overall,
		"checks":  checks,
		"time":    time.Now(),
	})
}

func (s *Server) probeDB(ctx context.Context) probeResult {
	sqlDB, err := s.db.DB()
	if err != nil || sqlDB.PingContext(ctx) != nil {
		return probeUnhealthy
	}
	return probeHealthy
}

func (s *Server) probeRedis(ctx context.Context) probeResult {
	if s.redis == nil {
		return probeUnavailable
	}
	if s.redis.Ping(ctx).Err() != nil {
		return probeUnhealthy
	}
	return probeHealthy
}
