package server

import (
	"time"

	_ "kortrade/docs" // swagger spec
	"kortrade/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/swagger"
)

// Per-route budgets. Verification, signup and login refuse traffic when
// Redis is down; the rest let it through.
var (
	limitSMSSend    = middleware.Limit{Name: "sms_send", Max: 10, Window: 10 * time.Minute, FailClosed: true}
	limitSMSConfirm = middleware.Limit{Name: "sms_confirm", Max: 20, Window: 10 * time.Minute, FailClosed: true}
	limitSignup     = middleware.Limit{Name: "signup", Max: 3, Window: 10 * time.Minute, FailClosed: true}
	limitLogin      = middleware.Limit{Name: "login", Max: 10, Window: 5 * time.Minute, FailClosed: true}
	limitShare      = middleware.Limit{Name: "share", Max: 20, Window: time.Minute}
	limitUpload     = middleware.Limit{Name: "image_upload", Max: 20, Window: 10 * time.Minute}
	limitPost       = middleware.Limit{Name: "create_post", Max: 5, Window: 5 * time.Minute}
	limitComment    = middleware.Limit{Name: "create_comment", Max: 10, Window: time.Minute}
	limitOrder      = middleware.Limit{Name: "trading_order", Max: 30, Window: time.Minute}
)

func (s *Server) throttle(l middleware.Limit) fiber.Handler {
	return middleware.Throttle(s.redis, l)
}

// SetupRoutes registers probes, docs and the /api tree.
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}
	if s.config.S3Bucket == "" && s.config.UploadDir != "" {
		app.Static("/media", s.config.UploadDir, fiber.Static{MaxAge: 86400})
	}

	api := app.Group("/api")
	api.Get("/", s.HealthCheck)
	api.Get("/swagger/*", swagger.HandlerDefault)
	api.Get("/metrics/dashboard", s.AuthRequired(), s.AdminRequired(),
		monitor.New(monitor.Config{Title: "KorTrade metrics"}))

	s.authRoutes(api.Group("/auth"))
	s.publicRoutes(api)

	api.Post("/ws/ticket", s.AuthRequired(), s.IssueWSTicket)
	api.Get("/ws/market", s.optionalWSAuth(), s.MarketWebsocketHandler())
	api.Get("/ws", s.AuthRequired(), s.WebsocketHandler())

	member := api.Group("", s.AuthRequired())
	s.memberRoutes(member)
	s.tradingRoutes(member.Group("/trading", s.FeatureRequired(FlagTradingRoom)))
	s.adminRoutes(member.Group("/admin", s.AdminRequired()))
}

func (s *Server) authRoutes(auth fiber.Router) {
	auth.Post("/verification/send", s.throttle(limitSMSSend), s.SendVerificationCode)
	auth.Post("/verification/confirm", s.throttle(limitSMSConfirm), s.ConfirmVerificationCode)
	auth.Post("/signup", s.throttle(limitSignup), s.Signup)
	auth.Post("/login", s.throttle(limitLogin), s.Login)
	auth.Get("/check", s.CheckAvailability)
	auth.Post("/find-username", s.FindUsername)
	auth.Post("/password/reset", s.ResetPassword)
	auth.Post("/refresh", s.AuthRequired(), s.Refresh)
	auth.Post("/logout", s.AuthRequired(), s.Logout)
}

// publicRoutes are readable without an account.
func (s *Server) publicRoutes(api fiber.Router) {
	posts := api.Group("/posts")
	posts.Get("/", s.GetPosts)
	posts.Get("/:id/comments", s.GetComments)
	posts.Post("/:id/share", s.throttle(limitShare), s.SharePost)
	posts.Get("/:id", s.GetPost)

	api.Get("/features", s.GetFeatures)
	api.Get("/points/ranking", s.GetRanking)
	api.Get("/users/:id", s.GetUserProfile)

	mkt := api.Group("/market")
	mkt.Get("/symbols", s.GetSymbols)
	mkt.Get("/:symbol/orderbook", s.GetOrderBook)
	mkt.Get("/:symbol/trades", s.GetTrades)
	mkt.Get("/:symbol/ticker", s.GetTicker)
	mkt.Get("/:symbol/klines", s.GetKlines)
	mkt.Get("/:symbol/funding", s.GetFundingRates)
	mkt.Get("/:symbol/mark", s.GetMarkPrice)
}

func (s *Server) memberRoutes(member fiber.Router) {
	me := member.Group("/me")
	me.Get("/", s.GetMyProfile)
	me.Put("/", s.UpdateMyProfile)
	me.Put("/password", s.ChangePassword)
	me.Get("/images", s.GetMyImages)

	member.Post("/images", s.throttle(limitUpload), s.UploadImage)

	// /:id/<sub> before /:id.
	posts := member.Group("/posts")
	posts.Post("/", s.throttle(limitPost), s.CreatePost)
	posts.Post("/:id/like", s.LikePost)
	posts.Delete("/:id/like", s.UnlikePost)
	posts.Post("/:id/comments", s.throttle(limitComment), s.CreateComment)
	posts.Put("/:id", s.UpdatePost)
	posts.Delete("/:id", s.DeletePost)

	comments := member.Group("/comments")
	comments.Put("/:id", s.UpdateComment)
	comments.Delete("/:id", s.DeleteComment)
	comments.Post("/:id/like", s.LikeComment)
	comments.Delete("/:id/like", s.UnlikeComment)

	pts := member.Group("/points")
	pts.Get("/me", s.GetMyPoints)
	pts.Get("/history", s.GetPointHistory)
	pts.Post("/attendance", s.Attend)
}

func (s *Server) tradingRoutes(room fiber.Router) {
	room.Post("/orders", s.throttle(limitOrder), s.PlaceOrder)
	room.Get("/positions", s.GetPositions)
	room.Post("/positions/:id/close", s.ClosePosition)
	room.Put("/positions/:id/tpsl", s.SetTPSL)
	room.Get("/history", s.GetTradeHistory)
	room.Get("/funding", s.GetFundingHistory)
	room.Get("/summary", s.GetTradingSummary)
}

func (s *Server) adminRoutes(admin fiber.Router) {
	admin.Get("/dashboard", s.GetDashboard)
	admin.Get("/feature-flags", s.GetFeatureFlags)
	admin.Get("/economy", s.GetEconomy)
	admin.Get("/economy/holders", s.GetHolders)
	admin.Get("/activity-logs", s.GetActivityLogs)
	admin.Delete("/comments/:id", s.AdminDeleteComment)

	posts := admin.Group("/posts")
	posts.Get("/", s.AdminListPosts)
	posts.Post("/:id/hide", s.AdminHidePost)
	posts.Post("/:id/restore", s.AdminRestorePost)
	posts.Post("/:id/notice", s.AdminSetNotice)
	posts.Delete("/:id", s.AdminDeletePost)

	users := admin.Group("/users")
	users.Get("/", s.AdminListUsers)
	users.Post("/:id/ban", s.AdminBanUser)
	users.Post("/:id/unban", s.AdminUnbanUser)
	users.Post("/:id/promote", s.AdminPromoteUser)
	users.Post("/:id/demote", s.AdminDemoteUser)
	users.Post("/:id/coins", s.AdminAdjustCoins)

	notes := admin.Group("/notes")
	notes.Get("/", s.GetAdminNotes)
	notes.Post("/", s.CreateAdminNote)
	notes.Put("/:id", s.UpdateAdminNote)
	notes.Delete("/:id", s.DeleteAdminNote)
}
