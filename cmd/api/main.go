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

	"golang.org/x/sync/errgroup"

	"P2PEscrow/internal/app"
	"P2PEscrow/internal/config"
	internalhttp "P2PEscrow/internal/http"
	"P2PEscrow/internal/logging"
	"P2PEscrow/internal/worker"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger, logCloser := logging.Setup(logging.Options{
		Service:    cfg.Log.Service,
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

	expired, armed, err := a.Services.Escrow.Recover(ctx)
	if err != nil {
		logger.Error("escrow recovery failed", "error", err)
		os.Exit(1)
	}
	logger.Info("escrow timers restored", "expired", expired, "armed", armed)

	h := internalhttp.NewHandler(a.Services, a.Catalogue, a.Pricing, logger)
	srv := internalhttp.NewServer(h, internalhttp.ServerOptions{
		Broker:  a.Broker,
		Metrics: a.Metrics,
		Limiter: internalhttp.NewRateLimiter(cfg.Server.RequestsPerMinute, cfg.Server.Burst),
		Logger:  logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", "addr", cfg.Server.Addr, "db", a.DB.Driver, "custody", cfg.Custody.Mode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if cfg.Worker.InProcess {
		w := &worker.Worker{Escrow: a.Services.Escrow, Interval: cfg.SweepInterval(), Logger: logger.With("component", "sweeper")}
		g.Go(func() error {
			w.Run(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("api stopped", "error", err)
		return
	}
	logger.Info("api stopped")
}
