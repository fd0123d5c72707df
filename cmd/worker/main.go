package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/queuecx/dashboard/internal/analytics"
	"github.com/queuecx/dashboard/internal/config"
	"github.com/queuecx/dashboard/internal/email"
	"github.com/queuecx/dashboard/internal/interest"
	"github.com/queuecx/dashboard/internal/jobs"
	"github.com/queuecx/dashboard/internal/remote/pg"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "worker").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	logger = logger.Level(cfg.Level())
	if !cfg.HasRedis() {
		logger.Fatal().Msg("REDIS_ADDR is required for the worker")
	}
	if !cfg.IsConfigured() {
		logger.Fatal().Msg("BACKEND_URL is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := pg.New(ctx, cfg.Backend.URL, cfg.Backend.PoolSize, pg.WithLogger(logger))
	if err != nil {
		logger.Fatal().Err(err).Msg("unable to connect to database")
	}
	defer db.Close()

	sender := email.NewSMTPSender(cfg.SMTP.Addr, cfg.SMTP.From).WithPlainAuth(cfg.SMTP.Username, cfg.SMTP.Password)

	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.Redis.Addr}, asynq.Config{
		Concurrency:    8,
		StrictPriority: false,
		Queues:         jobs.Queues,
	})
	mux := asynq.NewServeMux()
	mux.Handle(jobs.TaskTrackEvent, analytics.Handler(db, logger.With().Str("task", jobs.TaskTrackEvent).Logger()))
	mux.Handle(jobs.TaskSendInterest, interest.Handler(sender, logger.With().Str("task", jobs.TaskSendInterest).Logger()))

	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	logger.Info().Msg("worker running")
	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker stopped")
}
