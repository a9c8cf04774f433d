package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ventro/backend/internal/config"
	"github.com/ventro/backend/internal/metrics"
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

	registerHandlers(app)
	app.Jobs.Start()
	slog.Info("worker started", "concurrency", cfg.Jobs.Concurrency)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	slog.Info("shutting down", "signal", sig.String())
	app.Jobs.Stop()
}
