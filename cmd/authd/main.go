package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/brightpath-edu/brightpath-auth/internal/app"
	"github.com/brightpath-edu/brightpath-auth/internal/audit"
	audithttp "github.com/brightpath-edu/brightpath-auth/internal/audit/http"
	"github.com/brightpath-edu/brightpath-auth/internal/auth"
	"github.com/brightpath-edu/brightpath-auth/internal/observability"
	"github.com/brightpath-edu/brightpath-auth/internal/platform/cache"
	"github.com/brightpath-edu/brightpath-auth/internal/platform/db"
	"github.com/brightpath-edu/brightpath-auth/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if err := db.Migrate(cfg.PGDSN); err != nil {
		logger.Error("run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, audit stats caching disabled", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	jobClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	auditRepo := audit.NewRepository(dbpool)
	auditCache := audit.NewCache(redisClient, cfg.AuditCacheTTL)
	auditService := audit.NewService(auditRepo, auditCache, logger)

	tokens := auth.NewTokenIssuer(cfg.JWTAccessSecret, cfg.JWTRefreshSecret).
		WithTTLs(cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(
		authRepo,
		tokens,
		audit.NewRecorder(auditService),
		jobs.NewQueueNotifier(jobClient),
		logger,
		auth.ServiceConfig{
			BcryptCost:  cfg.BcryptCost,
			MaxAttempts: cfg.MaxLoginAttempts,
			LockWindow:  cfg.LockoutWindow,
			ResetTTL:    cfg.ResetTokenTTL,
			DevMode:     !cfg.IsProduction(),
		},
	)

	metrics := observability.NewMetrics()
	authMiddleware := auth.Middleware{Tokens: tokens}
	authHandler := auth.NewHandler(logger, authService, authMiddleware).WithMetrics(metrics)
	auditHandler := audithttp.NewHandler(logger, auditService)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		AuthHandler:    authHandler,
		AuthMiddleware: authMiddleware,
		AuditHandler:   auditHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
