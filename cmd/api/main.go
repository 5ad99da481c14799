package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/presencewatch/internal/config"
	"github.com/hamed0406/presencewatch/internal/httpapi"
	apimw "github.com/hamed0406/presencewatch/internal/httpapi/middleware"
	"github.com/hamed0406/presencewatch/internal/logging"
	"github.com/hamed0406/presencewatch/internal/metrics"
	"github.com/hamed0406/presencewatch/internal/notify"
	"github.com/hamed0406/presencewatch/internal/presence"
	"github.com/hamed0406/presencewatch/internal/repo"
	"github.com/hamed0406/presencewatch/internal/repo/file"
	"github.com/hamed0406/presencewatch/internal/repo/memory"
	"github.com/hamed0406/presencewatch/internal/repo/natskv"
	"github.com/hamed0406/presencewatch/internal/repo/postgres"
	"github.com/hamed0406/presencewatch/internal/scheduler"
	"github.com/hamed0406/presencewatch/internal/stats"
	"github.com/hamed0406/presencewatch/internal/tracker"
)

func main() {
	cfg, err := config.Load(os.Getenv("PRESENCEWATCH_CONFIG"))
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.NewLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("settings_store_error", zap.String("backend", cfg.SettingsBackend), zap.Error(err))
	}
	defer closeStore()

	if cfg.PresenceURL == "" {
		logger.Fatal("presence_url_missing")
	}
	source := presence.NewCoalesce(&presence.Retry{
		Inner:    presence.NewHTTPSource(cfg.PresenceURL, cfg.PresenceToken, cfg.LookupTimeout),
		Attempts: cfg.RetryAttempts,
		Backoff:  cfg.RetryBackoff,
	})

	var (
		directory notify.Directory
		owners    notify.Multi
	)
	if s := notify.NewSlack(cfg.SlackWebhook); s != nil {
		owners = append(owners, s)
	}
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramToken, logger)
		if err != nil {
			logger.Fatal("telegram_error", zap.Error(err))
		}
		directory = tg
		if cfg.OwnerChatID != 0 {
			owners = append(owners, tg.Owner(cfg.OwnerChatID))
		}
	} else {
		logger.Warn("telegram_disabled_logging_notifications_only")
		directory = notify.NewLogDirectory(logger)
	}
	owner := notify.NewOwner(logger, owners)

	collector, err := metrics.NewCollector()
	if err != nil {
		logger.Fatal("metrics_error", zap.Error(err))
	}

	registry := tracker.NewRegistry(tracker.Options{
		Source:    source,
		Directory: directory,
		Store:     store,
		Owner:     owner,
		Scheduler: scheduler.NewTicker(),
		Log:       logger,
		Metrics:   collector,
		Period:    cfg.PollInterval,
	})
	rep, err := registry.Reconcile(ctx)
	if err != nil {
		logger.Error("reconcile_error", zap.Error(err))
	} else {
		logger.Info("reconcile_report",
			zap.Int("issuers", rep.Issuers),
			zap.Int("targets", rep.Targets),
			zap.Int("removed_issuers", rep.RemovedIssuers),
			zap.Int("removed_targets", rep.RemovedTargets),
		)
	}

	poster := stats.NewPoster(logger, registry, cfg.StatsURLs, cfg.StatsToken, cfg.StatsInterval, 10*time.Second)
	go poster.Run(ctx)

	api := httpapi.NewServer(logger, registry, source, collector)
	keys := apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(keys, cfg.AllowedOrigins, cfg.PublicRPM, cfg.PublicBurst, cfg.AdminRPM, cfg.AdminBurst),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api_listen", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_listen_error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown_started")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	registry.StopAll()
	err = multierr.Append(err, registry.Sync(shutdownCtx))
	if err != nil {
		logger.Error("shutdown_error", zap.Error(err))
		return
	}
	logger.Info("shutdown_complete")
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (repo.SettingsStore, func(), error) {
	switch cfg.SettingsBackend {
	case "postgres":
		s, err := postgres.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, s.Close, nil
	case "nats":
		s, err := natskv.New(cfg.NATSURL, cfg.NATSBucketPrefix, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "memory":
		logger.Warn("settings_in_memory_not_durable")
		return memory.New(), func() {}, nil
	default:
		return file.New(cfg.SettingsFile), func() {}, nil
	}
}
