package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/verify-hub/verify-hub/internal/api/http"
	"github.com/verify-hub/verify-hub/internal/application/alert"
	"github.com/verify-hub/verify-hub/internal/application/auth"
	"github.com/verify-hub/verify-hub/internal/application/engine"
	"github.com/verify-hub/verify-hub/internal/application/relay"
	"github.com/verify-hub/verify-hub/internal/config"
	"github.com/verify-hub/verify-hub/internal/domain/order"
	"github.com/verify-hub/verify-hub/internal/infrastructure/keystore"
	"github.com/verify-hub/verify-hub/internal/infrastructure/memory"
	"github.com/verify-hub/verify-hub/internal/infrastructure/postgres"
	"github.com/verify-hub/verify-hub/internal/infrastructure/sse"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()

	var repo order.Repository
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db error: %v", err)
		}
		defer pool.Close()
		if err := postgres.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
			log.Fatalf("migration error: %v", err)
		}
		repo = postgres.NewOrderRepository(pool)
	} else {
		logger.Warn().Msg("no DATABASE_URL set, sessions will not survive restarts")
		repo = memory.NewOrderStore()
	}

	// infrastructure
	sseHub := sse.NewHub()
	keys, err := keystore.New(cfg.JWTSigningKeys, cfg.JWTDefaultKeyID, []byte(cfg.JWTSecret))
	if err != nil {
		log.Fatalf("keystore error: %v", err)
	}

	// services
	alertSvc := alert.NewService(cfg.AlertRules, logger)
	authSvc := auth.NewService(keys, cfg.OperatorTokenTTL, cfg.OperatorUsername, cfg.OperatorPasswordHash, logger)
	engineSvc := engine.NewService(repo, sseHub, alertSvc, logger)
	relaySvc := relay.NewService(repo, sseHub, cfg.RelayThrottle, logger)

	// API server
	apiServer := httpapi.NewServer(engineSvc, relaySvc, authSvc, sseHub, cfg.CORSOrigins)

	httpServer := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     apiServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// idle session sweeper
	if cfg.SessionIdleTimeout > 0 {
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				n, err := engineSvc.ExpireIdle(context.Background(), cfg.SessionIdleTimeout)
				if err != nil {
					logger.Warn().Err(err).Msg("idle sweep failed")
					continue
				}
				if n > 0 {
					logger.Info().Int("archived", n).Msg("idle sessions archived")
				}
			}
		}()
	}

	// start server
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
	sseHub.Stop()
}
