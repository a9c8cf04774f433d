package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ventro/backend/internal/api"
	"github.com/ventro/backend/internal/config"
	"github.com/ventro/backend/internal/metrics"
	"github.com/ventro/backend/internal/middleware"
	"github.com/ventro/backend/internal/progress"
	"github.com/ventro/backend/internal/service"
)

func main() {
	_ = godotenv.Load()

	configPath := os.Getenv("VENTRO_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx := context.Background()
	app, err := service.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("building application: %v", err)
	}
	defer app.Close()

	go func() {
		if err := metrics.Serve(cfg.Server.MetricsPort); err != nil {
			slog.Error("metrics listener stopped", "error", err)
		}
	}()

	limiter := middleware.NewRateLimiter(app.Redis, cfg.RateLimit.BurstFactor, cfg.RateLimit.WhitelistCIDRs)

	server := api.NewServer(api.Deps{
		Config:     cfg,
		Users:      app.Users,
		Documents:  app.Documents,
		Sessions:   app.Sessions,
		SAMR:       app.SAMRRepo,
		Audit:      app.AuditRepo,
		Hooks:      app.HookRepo,
		Files:      app.Files,
		Hasher:     app.Hasher,
		Tokens:     app.Tokens,
		Denylist:   app.Denylist,
		Recorder:   app.Recorder,
		Registry:   app.Registry,
		Dispatcher: app.Dispatcher,
		Limiter:    limiter,
		Router:     app.Router,
		Thresholds: app.Thresholds,
		Jobs:       app.Jobs,
		Matcher:    app.Matcher,
		Progress:   progress.NewHandler(app.Subscriber),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("server stopped: %v", err)
	case sig := <-stop:
		slog.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}
