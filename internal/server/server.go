// Package server is the Fiber HTTP and websocket API: dependency wiring,
// middleware, routes and handlers.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"kortrade/internal/bootstrap"
	"kortrade/internal/config"
	"kortrade/internal/featureflags"
	"kortrade/internal/market"
	"kortrade/internal/middleware"
	"kortrade/internal/models"
	"kortrade/internal/notifications"
	"kortrade/internal/points"
	"kortrade/internal/queue"
	"kortrade/internal/repository"
	"kortrade/internal/scheduler"
	"kortrade/internal/service"
	"kortrade/internal/sms"
	"kortrade/internal/storage"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// FlagTradingRoom gates every /api/trading route.
const FlagTradingRoom = "trading_room"

// wireableHub is a websocket hub fed from Redis pub/sub.
type wireableHub interface {
	Name() string
	StartWiring(ctx context.Context, n *notifications.Notifier) error
	Shutdown(ctx context.Context) error
}

// MarketData is what the HTTP layer and the trading room read from the
// exchange feed. *market.Feed implements it.
type MarketData interface {
	service.PriceSource
	Symbols() []string
	OrderBook(ctx context.Context, symbol string) (market.BookSnapshot, error)
	Trades(symbol string, limit int) ([]market.Trade, error)
	Ticker(ctx context.Context, symbol string) (market.Ticker, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Kline, error)
	FundingRates(ctx context.Context, symbol string, limit int) ([]market.FundingRate, error)
}

// Server owns every dependency the handlers use and the background
// workers started with the listener.
type Server struct {
	config         *config.Config
	marketConfig   *config.MarketConfig
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	logger         *slog.Logger

	userRepo    repository.UserRepository
	postRepo    repository.PostRepository
	commentRepo repository.CommentRepository

	notifier  *notifications.Notifier
	hub       *notifications.Hub
	marketHub *notifications.MarketHub
	hubs      []wireableHub

	feed    *market.Feed // nil when market data is injected
	market  MarketData
	queue   *queue.Client
	funding *scheduler.Scheduler

	featureFlags   *featureflags.Manager
	points         *points.Service
	activity       *service.ActivityRecorder
	authService    *service.AuthService
	postService    *service.PostService
	commentService *service.CommentService
	userService    *service.UserService
	imageService   *service.ImageService
	tradingService *service.TradingService
	adminService   *service.AdminService
}

// Option overrides a dependency NewServerWithDeps would otherwise build
// from configuration.
type Option func(*options)

type options struct {
	marketConfig *config.MarketConfig
	market       MarketData
	sender       sms.Sender
	store        storage.Store
	queue        *queue.Client
}

// WithMarketConfig supplies the market section instead of reading it from
// the environment.
func WithMarketConfig(mcfg *config.MarketConfig) Option {
	return func(o *options) { o.marketConfig = mcfg }
}

// WithMarketData replaces the Binance feed.
func WithMarketData(m MarketData) Option {
	return func(o *options) { o.market = m }
}

// WithSMSSender replaces the configured SMS sender.
func WithSMSSender(sender sms.Sender) Option {
	return func(o *options) { o.sender = sender }
}

// WithStore replaces the configured image store.
func WithStore(store storage.Store) Option {
	return func(o *options) { o.store = store }
}

// WithQueue routes activity logs through RabbitMQ.
func WithQueue(q *queue.Client) Option {
	return func(o *options) { o.queue = q }
}

// NewServer connects the runtime dependencies from cfg. RabbitMQ is
// optional; without it activity logs are written inline.
func NewServer(cfg *config.Config) (*Server, error) {
	db, redisClient, err := bootstrap.InitRuntime(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	var opts []Option
	if cfg.RabbitMQURL != "" {
		q, err := queue.Dial(cfg.RabbitMQURL, queue.ActivityLogQueue)
		if err != nil {
			// Activity logs fall back to direct writes.
			middleware.Component("server").Warn("rabbitmq unavailable, writing activity logs directly", slog.Any("error", err))
		} else {
			opts = append(opts, WithQueue(q))
		}
	}

	return NewServerWithDeps(cfg, db, redisClient, opts...)
}

// NewServerWithDeps builds the service graph on an open database and an
// optional Redis client.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	mcfg := o.marketConfig
	if mcfg == nil {
		loaded, err := config.LoadMarketConfig()
		if err != nil {
			return nil, fmt.Errorf("market config: %w", err)
		}
		mcfg = loaded
	}

	server := &Server{
		config:         cfg,
		marketConfig:   mcfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("kortrade-api"),
		logger:         middleware.Component("server"),
		userRepo:       repository.NewUserRepository(db, redisClient),
		postRepo:       repository.NewPostRepository(db, redisClient),
		commentRepo:    repository.NewCommentRepository(db),
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
		queue:          o.queue,
	}

	if redisClient != nil {
		server.notifier = notifications.NewNotifier(redisClient)
	}
	server.hub = notifications.NewHub(redisClient)

	server.market = o.market
	if server.market == nil {
		clientCfg := market.ClientConfigDefaults()
		clientCfg.BaseURL = mcfg.Binance.RESTURL
		clientCfg.RateLimitPerMin = mcfg.Market.RateLimitPerMin
		server.feed = market.NewFeed(mcfg, market.NewClient(clientCfg),
			market.NewPriceCache(redisClient), marketFanout{s: server})
		server.market = server.feed
	}
	server.marketHub = notifications.NewMarketHub(server.market.Listed)
	server.marketHub.SetSnapshotFunc(server.marketSnapshot)
	server.hubs = []wireableHub{server.hub, server.marketHub}

	server.activity = service.NewActivityRecorder(repository.NewActivityLogRepository(db))
	if server.queue != nil {
		server.activity.UseQueue(server.queue)
	}

	server.points = points.NewService(db, redisClient)
	server.points.OnReward(server.onReward)

	sender := o.sender
	if sender == nil {
		var err error
		if sender, err = sms.NewSender(cfg); err != nil {
			return nil, fmt.Errorf("sms sender: %w", err)
		}
	}
	store := o.store
	if store == nil {
		var err error
		if store, err = storage.New(context.Background(), cfg); err != nil {
			return nil, fmt.Errorf("image store: %w", err)
		}
	}

	server.authService = service.NewAuthService(db, redisClient, server.userRepo, server.points, sender,
		server.activity, service.AuthConfig{JWTSecret: cfg.JWTSecret, SignupBonus: cfg.SignupBonusCoins})
	server.postService = service.NewPostService(server.postRepo, redisClient, server.points,
		server.activity, server.isAdminByUserID, cfg.PublicBaseURL)
	server.commentService = service.NewCommentService(server.commentRepo, server.postRepo, server.points,
		server.activity, server.isAdminByUserID)
	server.userService = service.NewUserService(server.userRepo)
	server.imageService = service.NewImageService(repository.NewImageRepository(db), store, cfg)
	server.tradingService = service.NewTradingService(db, server.points, server.market, nil,
		service.TradingConfigFrom(mcfg), server.activity)
	server.tradingService.OnForcedClose(server.onForcedClose)
	server.adminService = service.NewAdminService(service.AdminDeps{
		DB:       db,
		Redis:    redisClient,
		Users:    server.userRepo,
		Posts:    server.postRepo,
		Comments: server.commentRepo,
		Notes:    repository.NewAdminNoteRepository(db),
		Logs:     repository.NewActivityLogRepository(db),
		Points:   server.points,
		Activity: server.activity,
		Presence: server.hub,
	})

	return server, nil
}

const maxBodyBytes = 12 << 20

// Start builds the Fiber app, starts the background workers and blocks in
// Listen until Shutdown.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	app := fiber.New(fiber.Config{
		AppName:   "KorTrade API",
		BodyLimit: maxBodyBytes,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			s.logger.Error("unhandled error", slog.String("path", c.Path()), slog.Any("error", err))
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.app = app

	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.startBackground(ctx)

	s.logger.Info("server starting", slog.String("port", s.config.Port))
	return app.Listen(":" + s.config.Port)
}

// startBackground wires the hubs to Redis and starts the market feed, the
// position watcher, the funding scheduler and the activity log consumer.
func (s *Server) startBackground(ctx context.Context) {
	if s.notifier != nil {
		for _, h := range s.hubs {
			go func() {
				if err := h.StartWiring(ctx, s.notifier); err != nil {
					s.logger.Error("hub wiring failed", slog.String("hub", h.Name()), slog.Any("error", err))
				}
			}()
		}
	}

	if s.feed != nil {
		go func() {
			if err := s.feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("market feed stopped", slog.Any("error", err))
			}
		}()
	}

	go s.tradingService.RunWatcher(ctx, s.marketConfig.Trading.LiquidationInterval)

	s.funding = scheduler.NewScheduler(s.marketConfig.Trading.FundingInterval,
		s.tradingService.FundingTask(s.marketConfig.Trading.FundingInterval))
	go func() {
		if err := s.funding.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("funding scheduler stopped", slog.Any("error", err))
		}
	}()

	if s.queue != nil {
		if err := s.queue.Consume(ctx, queue.ActivityLogQueue, s.activity.Persist); err != nil {
			s.logger.Error("activity log consumer failed to start", slog.Any("error", err))
		}
	}
}

// Shutdown stops background work, drains HTTP, closes the hubs' sockets
// and then the stores. Errors are logged; it always returns nil.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}
	if s.funding != nil {
		s.funding.Stop()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			s.logger.Error("http shutdown", slog.Any("error", err))
		}
	}

	for _, h := range s.hubs {
		if err := h.Shutdown(ctx); err != nil {
			s.logger.Error("hub shutdown", slog.String("hub", h.Name()), slog.Any("error", err))
		}
	}

	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			s.logger.Error("rabbitmq close", slog.Any("error", err))
		}
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			s.logger.Error("postgres close", slog.Any("error", cerr))
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			s.logger.Error("redis close", slog.Any("error", rerr))
		}
	}

	s.logger.Info("server stopped")
	return nil
}
