// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/queuecx/dashboard/internal/analytics"
	"github.com/queuecx/dashboard/internal/auth"
	"github.com/queuecx/dashboard/internal/backend"
	"github.com/queuecx/dashboard/internal/config"
	"github.com/queuecx/dashboard/internal/email"
	"github.com/queuecx/dashboard/internal/geo"
	"github.com/queuecx/dashboard/internal/http/routes"
	"github.com/queuecx/dashboard/internal/interest"
	"github.com/queuecx/dashboard/internal/remote"
	"github.com/queuecx/dashboard/internal/remote/pg"
	"github.com/queuecx/dashboard/internal/storage"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	logger = logger.Level(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var queue *asynq.Client
	if cfg.HasRedis() {
		queue = asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr})
		defer func() {
			if err := queue.Close(); err != nil {
				logger.Error().Err(err).Msg("close asynq client")
			}
		}()
	}

	bcfg := backend.DefaultConfig()
	bcfg.MaxRetries = cfg.Backend.MaxRetries
	bcfg.RetryDelay = cfg.Backend.RetryDelay
	bcfg.EnableCaching = cfg.Backend.EnableCaching
	bcfg.EnableAnalytics = cfg.Backend.EnableAnalytics
	geoClient := geo.New()
	opts := []backend.Option{
		backend.WithConfig(bcfg),
		backend.WithLogger(logger.With().Str("component", "backend").Logger()),
		backend.WithIPLookup(geoClient),
		backend.WithLocator(geoClient),
	}

	srvOpts := routes.ServerOptions{Log: logger, MaxUpload: bcfg.MaxUploadSize}

	var conn backend.Connection = backend.Unconfigured{}
	if cfg.IsConfigured() {
		db, err := pg.New(ctx, cfg.Backend.URL, cfg.Backend.PoolSize, pg.WithLogger(logger.With().Str("component", "pg").Logger()))
		if err != nil {
			logger.Fatal().Err(err).Msg("db error")
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate")
		}

		files, err := storage.NewFileStore(cfg.StoreDir, backend.FilesBucket, backend.AvatarsBucket)
		if err != nil {
			logger.Fatal().Err(err).Msg("storage")
		}

		authSvc := auth.NewService(db, []byte(cfg.Backend.AnonKey),
			auth.WithLogger(logger.With().Str("component", "auth").Logger()),
			auth.WithTTL(cfg.Backend.TokenTTL, 30*24*time.Hour))

		var providers []*auth.Provider
		if p := cfg.OAuth.Google; p.Enabled() {
			providers = append(providers, auth.Google(p.ClientID, p.ClientSecret, cfg.BaseURL))
		}
		if p := cfg.OAuth.GitHub; p.Enabled() {
			providers = append(providers, auth.GitHub(p.ClientID, p.ClientSecret, cfg.BaseURL))
		}
		if p := cfg.OAuth.Discord; p.Enabled() {
			providers = append(providers, auth.Discord(p.ClientID, p.ClientSecret, cfg.BaseURL))
		}

		conn = backend.Configured{Remote: remote.Backend{Auth: authSvc, Database: db, Blobs: files, Realtime: db}}
		if queue != nil {
			opts = append(opts, backend.WithTracker(analytics.Queue{Client: queue}))
		} else {
			opts = append(opts, backend.WithTracker(analytics.Direct{DB: db}))
		}
		srvOpts.Auth = authSvc
		srvOpts.OAuth = authSvc.OAuth(providers...)
		srvOpts.Files = files
	} else {
		logger.Warn().Msg("BACKEND_URL or BACKEND_ANON_KEY not set, running in demo mode")
	}

	facade := backend.New(conn, opts...)
	defer facade.Close()
	srvOpts.Backend = facade

	sender := email.NewSMTPSender(cfg.SMTP.Addr, cfg.SMTP.From).WithPlainAuth(cfg.SMTP.Username, cfg.SMTP.Password)
	srvOpts.Interest = &interest.Service{Sender: sender, Log: logger.With().Str("component", "interest").Logger()}
	if queue != nil {
		srvOpts.Interest.Queue = queue
	}

	// Sessions
	sess := scs.New()
	sess.Lifetime = cfg.SessionTTL
	sess.Cookie.HttpOnly = true
	sess.Cookie.SameSite = http.SameSiteLaxMode
	sess.Cookie.Secure = false
	srvOpts.Sess = sess

	s := routes.New(srvOpts)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}()

	logger.Info().Str("port", cfg.Port).Str("mode", facade.Mode()).Msg("starting api")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("serve")
	}
}
