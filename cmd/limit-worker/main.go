package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"limit/internal/config"
	"limit/internal/core"
	"limit/internal/engine"
	"limit/internal/events"
	"limit/internal/ledger"
	"limit/internal/log"
	"limit/internal/policy"
	"limit/internal/records"
	"limit/internal/storage"
	"limit/internal/store"
	"limit/internal/store/memory"
	"limit/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	applog := log.New(log.Config{Level: slog.LevelInfo, Component: log.ComponentWorker})
	log.SetDefault(applog)
	logger := applog.Logger

	logger.Info("Starting limit-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	var st store.Store
	switch cfg.DataBackend {
	case "sqlite":
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
			os.Exit(1)
		}
		st = repo
	default:
		st = memory.New(core.DefaultTiers())
	}
	defer st.Close()

	client, err := events.NewClient(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	led := ledger.NewService(st, cfg.OwnerID)
	rec := records.NewService(st)
	pol := policy.NewService(st, cfg.OwnerID)
	eng := engine.NewService(st, pol, led, rec, client, cfg.EngineID, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := led.Grant(ctx, cfg.OwnerID, cfg.EngineID); err != nil {
		logger.Error("Failed to grant engine caller", "error", err)
		os.Exit(1)
	}

	w := worker.NewEvaluationWorker(eng, st, cfg.EvalTimeout)

	// Recover evaluations missed while the worker was down before taking
	// new jobs from the queue.
	logger.Info("Performing startup check...")
	if err := w.StartupCheck(ctx); err != nil {
		logger.Error("Startup check failed", "error", err)
		// Don't exit - continue with normal operation
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return client.ConsumeEvaluationJobs(gctx, w.HandleJob)
	})

	g.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}
