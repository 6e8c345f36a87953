package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"limit/internal/config"
	"limit/internal/core"
	"limit/internal/events"
	"limit/internal/log"
	"limit/internal/scheduler"
	"limit/internal/storage"
	"limit/internal/store"
	"limit/internal/store/memory"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	applog := log.New(log.Config{Level: slog.LevelInfo, Component: log.ComponentScheduler})
	log.SetDefault(applog)
	logger := applog.Logger

	logger.Info("Starting limit-scheduler")

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

	sched := scheduler.New(st, client, logger)
	if err := sched.Register(cfg.EvalCron); err != nil {
		logger.Error("Failed to register evaluation sweep", "error", err, "cron", cfg.EvalCron)
		os.Exit(1)
	}

	// RUN_ON_START triggers an immediate sweep, useful after downtime.
	if os.Getenv("RUN_ON_START") == "true" {
		sched.Sweep(context.Background())
	}

	sched.Start()
	logger.Info("Scheduler running", "cron", cfg.EvalCron)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())

	sched.Stop()
}
