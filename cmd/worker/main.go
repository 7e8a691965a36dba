package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/brightpath-edu/brightpath-auth/internal/app"
	"github.com/brightpath-edu/brightpath-auth/internal/audit"
	"github.com/brightpath-edu/brightpath-auth/internal/auth"
	"github.com/brightpath-edu/brightpath-auth/internal/platform/db"
	"github.com/brightpath-edu/brightpath-auth/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	auditRepo := audit.NewRepository(dbpool)
	auditService := audit.NewService(auditRepo, nil, logger)
	authRepo := auth.NewRepository(dbpool)
	mailer := jobs.NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom)
	metrics := jobs.NewMetrics(nil)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{
				Type:    jobs.TaskTypeSendResetEmail,
				Handler: metrics.Instrument("send_reset_email", jobs.NewSendResetEmailHandler(mailer, cfg.ResetURL, logger)),
			},
			{
				Type:    jobs.TaskTypeRetentionSweep,
				Handler: metrics.Instrument("retention_sweep", jobs.NewRetentionSweepHandler(auditService, authRepo, cfg.AuditRetention, logger)),
			},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 3 * * *", Task: jobs.NewRetentionSweepTask()},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
