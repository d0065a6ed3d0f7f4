// Package main runs the service registration server: the plugin host that
// exposes third-party service integrations to player accounts.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	app "github.com/step-security-bot/neucore/internal/app"
	"github.com/step-security-bot/neucore/internal/app/httpapi"
	"github.com/step-security-bot/neucore/internal/app/services/accounts"
	"github.com/step-security-bot/neucore/internal/app/storage/postgres"
	"github.com/step-security-bot/neucore/internal/config"
	"github.com/step-security-bot/neucore/internal/metrics"
	"github.com/step-security-bot/neucore/internal/middleware"
	"github.com/step-security-bot/neucore/internal/platform/migrations"
	"github.com/step-security-bot/neucore/internal/plugin"
	"github.com/step-security-bot/neucore/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("main").WithError(err).Error("load configuration")
		os.Exit(1)
	}

	log := logger.New("main", logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	stores := app.Stores{}
	if cfg.Database.DSN != "" {
		db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			log.WithError(err).Error("connect to database")
			os.Exit(1)
		}
		defer db.Close()

		if cfg.Database.RunMigrations {
			if err := migrations.Run(db); err != nil {
				log.WithError(err).Error("run migrations")
				os.Exit(1)
			}
		}

		store := postgres.New(db)
		stores = app.Stores{Services: store, Logins: store, Players: store}
		log.Info("using postgres storage")
	} else {
		log.Warn("no database configured; using in-memory storage")
	}

	registry := plugin.NewRegistry()

	application, err := app.New(stores, app.Options{
		Registry: registry,
		Session:  middleware.CharacterID,
		Policy: accounts.DeactivationPolicy{
			Enabled: cfg.Deactivation.Enabled,
			Delay:   cfg.Deactivation.Delay,
		},
		PluginDir:       cfg.Plugins.InstallDir,
		UpdaterSchedule: cfg.Deactivation.UpdaterSchedule,
	}, log)
	if err != nil {
		log.WithError(err).Error("build application")
		os.Exit(1)
	}
	application.Registration.WithCallTimeout(cfg.Plugins.CallTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start application")
		os.Exit(1)
	}

	handler := httpapi.NewHandler(application, log)

	auth := middleware.NewAuthMiddleware([]byte(cfg.Auth.Secret), log, []string{"/healthz", "/metrics"})
	ratelimit := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, log)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", middleware.TraceMiddleware(
		ratelimit.Handler(
			auth.Handler(
				metrics.InstrumentHandler(handler)))))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("server listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("server failed")
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application stop")
	}

	log.Info("stopped")
}
