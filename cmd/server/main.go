// Command server runs the KorTrade HTTP and websocket API.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kortrade/internal/config"
	"kortrade/internal/middleware"
	"kortrade/internal/observability"
	"kortrade/internal/server"

	"github.com/joho/godotenv"
)

// @title KorTrade API
// @version 1.0
// @description Trading-education community: SMS signup, free and profit boards, KOR-Coin rewards, admin back-office and a simulated futures trading room.

// @contact.name KorTrade 운영팀
// @contact.email support@kortrade.local

// @host localhost:8375
// @BasePath /api
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description "Bearer <access token>"

const shutdownGrace = 10 * time.Second

var version = "dev"

func main() {
	if err := run(); err != nil {
		log.Fatalf("kortrade: %v", err)
	}
}

func run() error {
	// Deployments inject env directly; .env is for local runs.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	middleware.InitLogger(cfg.Env, os.Getenv("LOG_LEVEL"))

	stopTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "kortrade-api",
		ServiceVersion: version,
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSamplerRatio,
	})
	if err != nil {
		return err
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	select {
	case err = <-serveErr:
	case <-ctx.Done():
		log.Println("signal received, draining")
	}

	drain, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return errors.Join(err, srv.Shutdown(drain), stopTracing(drain))
}
