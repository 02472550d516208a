package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"P2PEscrow/internal/app"
	"P2PEscrow/internal/config"
	"P2PEscrow/internal/logging"
	"P2PEscrow/internal/worker"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger, logCloser := logging.Setup(logging.Options{
		Service:    cfg.Log.Service + "-worker",
		Env:        cfg.Log.Env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	w := &worker.Worker{
		Escrow:   a.Services.Escrow,
		Interval: cfg.SweepInterval(),
		Logger:   logger,
	}
	logger.Info("worker started", "db", a.DB.Driver, "interval", cfg.SweepInterval().String())
	w.Run(ctx)
}
