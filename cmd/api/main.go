package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/pixora-labs/pixora/internal/api"
	"github.com/pixora-labs/pixora/internal/audit"
	"github.com/pixora-labs/pixora/internal/auth"
	"github.com/pixora-labs/pixora/internal/config"
	"github.com/pixora-labs/pixora/internal/database"
	"github.com/pixora-labs/pixora/internal/history"
	"github.com/pixora-labs/pixora/internal/jobs"
	"github.com/pixora-labs/pixora/internal/media"
	"github.com/pixora-labs/pixora/internal/media/mock"
	mw "github.com/pixora-labs/pixora/internal/middleware"
	inats "github.com/pixora-labs/pixora/internal/nats"
	"github.com/pixora-labs/pixora/internal/quota"
	iredis "github.com/pixora-labs/pixora/internal/redis"
	"github.com/pixora-labs/pixora/internal/schedule"
	"github.com/pixora-labs/pixora/internal/server"
	"github.com/pixora-labs/pixora/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := database.RunMigrations(cfg.DB.DSN(), cfg.Server.MigrationsPath); err != nil {
		return err
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// NATS is optional; without it lifecycle events are not published.
	var natsClient *inats.Client
	if cfg.NATS.URL != "" {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			return err
		}
		defer natsClient.Close()
	}

	// Quota
	tiers := quota.NewTierTable(cfg.Quota.Tiers)
	var store quota.Store
	switch cfg.Quota.Backend {
	case "redis":
		store = quota.NewRedisStore(redisClient, tiers)
	default:
		store = quota.NewRepository(pool, tiers)
	}
	quotaSvc, err := quota.NewService(store, tiers, cfg.Quota)
	if err != nil {
		return err
	}
	resetter := quota.NewResetter(quotaSvc, schedule.New())
	quotaHandler := quota.NewHandler(quotaSvc)

	// Media provider
	var gateway media.Gateway
	var breakerState func() gobreaker.State
	if cfg.Provider.APIToken == "" {
		slog.Warn("media: no provider token configured, using mock gateway")
		gateway = &mock.Gateway{}
	} else {
		replicate := media.NewReplicateClient(cfg.Provider)
		gateway = replicate
		breakerState = replicate.BreakerState
	}

	// Storage
	objects, err := storage.New(cfg.Storage)
	if err != nil {
		return err
	}
	uploads := storage.NewUploads(objects, cfg.Storage.BaseURL)
	var uploadsDir string
	if local, ok := objects.(*storage.LocalStorage); ok {
		uploadsDir = filepath.Join(local.Root(), "uploads")
	}

	// History
	historyLog := history.NewCachedLog(history.NewRepository(pool), redisClient)
	favorites := history.NewFavoriteRepository(pool)
	historyHandler := history.NewHandler(historyLog, favorites)

	// Jobs
	registry := jobs.NewRegistry(cfg.Jobs.Retention)
	go registry.Run(ctx, cfg.Jobs.SweepInterval)
	controller := jobs.NewController(quotaSvc, gateway, historyLog, uploads, registry, cfg.Jobs.ProgressTick)
	jobHandler := jobs.NewHandler(controller, quotaSvc, uploads)

	// Audit
	auditRepo := audit.NewRepository(pool)
	auditHandler := audit.NewHandler(auditRepo)

	if natsClient != nil {
		publisher := inats.NewPublisher(natsClient.JetStream())
		quotaSvc.SetPublisher(publisher)
		controller.SetPublisher(publisher)

		consumer := audit.NewConsumer(auditRepo, inats.NewConsumerManager(natsClient.JetStream()))
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("audit: consumer stopped", "error", err)
			}
		}()
	}

	// Auth
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiry)

	limiter := mw.NewRateLimiter(redisClient, "media", cfg.RateLimit.MaxRequests, cfg.RateLimit.WindowSec,
		func(r *http.Request) string {
			if id, ok := auth.CurrentUser(r.Context()); ok {
				return "user:" + id.ID
			}
			return ""
		})

	// Router
	checks := map[string]api.HealthCheck{
		"database": func(ctx context.Context) error { return database.HealthCheck(ctx, pool) },
		"redis":    func(ctx context.Context) error { return iredis.HealthCheck(ctx, redisClient) },
		"provider": func(context.Context) error {
			if breakerState != nil && breakerState() == gobreaker.StateOpen {
				return errProviderUnavailable
			}
			return nil
		},
	}
	if natsClient != nil {
		checks["nats"] = func(context.Context) error {
			if !natsClient.Healthy() {
				return errNATSDisconnected
			}
			return nil
		}
	} else {
		checks["nats"] = nil
	}

	router := api.NewRouter(api.RouterConfig{
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		Checks:             checks,
	}, api.HandlerSet{
		Generate: jobHandler.Generate,
		Upscale:  jobHandler.Upscale,
		Upload:   jobHandler.Upload,

		CreateJob: jobHandler.Create,
		GetJob:    jobHandler.Get,
		CancelJob: jobHandler.Cancel,
		Estimate:  jobHandler.Estimate,

		GetQuota: quotaHandler.GetQuota,

		ListHistory:    historyHandler.List,
		ListFavorites:  historyHandler.ListFavorites,
		AddFavorite:    historyHandler.AddFavorite,
		RemoveFavorite: historyHandler.RemoveFavorite,

		ListAudit: auditHandler.List,

		AuthMiddleware:   auth.Middleware(jwtManager),
		MediaRateLimiter: limiter.Middleware,

		UploadsDir: uploadsDir,
	})

	// Synchronous media requests hold the connection for the whole provider
	// call, so the write timeout follows the provider's.
	srv := server.New(cfg.Server, router, cfg.Provider.Timeout+writeTimeoutMargin)
	srv.OnShutdown(func(ctx context.Context) {
		if err := registry.Shutdown(ctx); err != nil {
			slog.Warn("jobs: shutdown incomplete", "error", err)
		}
	})
	srv.OnShutdown(func(context.Context) { resetter.Stop() })

	return srv.Run(ctx)
}

const writeTimeoutMargin = 15 * time.Second

var (
	errProviderUnavailable = errors.New("provider circuit open")
	errNATSDisconnected    = errors.New("nats disconnected")
)

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
