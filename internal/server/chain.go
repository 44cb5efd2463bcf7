package server

import (
	"time"

	"kortrade/internal/middleware"
	"kortrade/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

const (
	// globalRequestLimit is the per-IP budget per minute across all routes.
	globalRequestLimit = 300

	devOrigins  = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	corsHeaders = "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version"
	corsMaxAge  = 24 * time.Hour
)

// SetupMiddleware installs the global chain. Order matters: request ids
// exist before logging and tracing, and CORS runs ahead of the limiter so
// a 429 still carries CORS headers.
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.ContextMiddleware())

	if s.config.TracingEnabled {
		app.Use(middleware.Tracing())
	}
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Uploaded images are embedded by the SPA from another origin.
	app.Use(helmet.New(helmet.Config{CrossOriginResourcePolicy: "cross-origin"}))
	app.Use(middleware.StructuredLogger())

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = devOrigins
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     corsHeaders,
		AllowCredentials: true,
		MaxAge:           int(corsMaxAge.Seconds()),
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        globalRequestLimit,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || s.config.Env == "test"
		},
		KeyGenerator: func(c *fiber.Ctx) string { return c.IP() },
		LimitReached: func(c *fiber.Ctx) error {
			return models.RespondWithError(c, fiber.StatusTooManyRequests,
				models.NewRateLimitedError("요청이 너무 많습니다. 잠시 후 다시 시도해주세요."))
		},
	}))
}
