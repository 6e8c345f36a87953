package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"limit/internal/config"
	"limit/internal/core"
	"limit/internal/engine"
	"limit/internal/events"
	apphttp "limit/internal/http"
	"limit/internal/ledger"
	"limit/internal/log"
	"limit/internal/policy"
	"limit/internal/records"
	"limit/internal/storage"
	"limit/internal/store"
	"limit/internal/store/memory"
	"limit/internal/vault"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	applog := log.New(log.Config{Level: slog.LevelInfo, Component: log.ComponentApp})
	log.SetDefault(applog)
	logger := applog.Logger

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
		logger.Info("Initialized sqlite backend", "path", cfg.SQLiteDBPath)
	default:
		st = memory.New(core.DefaultTiers())
		logger.Info("Initialized memory backend")
	}
	defer st.Close()

	ctx := context.Background()

	// Optional policy override from file; the store keeps the seeded
	// defaults otherwise.
	if cfg.TierPolicyFile != "" {
		tiers, err := policy.LoadFile(cfg.TierPolicyFile)
		if err != nil {
			logger.Error("Failed to load tier policy file", "error", err, "path", cfg.TierPolicyFile)
			os.Exit(1)
		}
		for _, tier := range tiers {
			if err := st.PutTier(ctx, tier); err != nil {
				logger.Error("Failed to seed tier", "error", err, "rank", tier.Rank)
				os.Exit(1)
			}
		}
		logger.Info("Tier policy loaded", "path", cfg.TierPolicyFile, "ranks", len(tiers))
	}

	// Event publishing is optional: without a broker the services still
	// work, they just stay silent.
	var publisher *events.Client
	if cfg.AMQPURL != "" {
		client, err := events.NewClient(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Warn("AMQP unavailable, events disabled", "error", err)
		} else {
			publisher = client
			defer publisher.Close()
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange)
		}
	}

	led := ledger.NewService(st, cfg.OwnerID)
	rec := records.NewService(st)
	pol := policy.NewService(st, cfg.OwnerID)

	var enginePub engine.Publisher
	var vaultPub vault.Publisher
	if publisher != nil {
		enginePub = publisher
		vaultPub = publisher
	}
	eng := engine.NewService(st, pol, led, rec, enginePub, cfg.EngineID, logger)
	vlt := vault.NewService(st, led, vaultPub, cfg.VaultCallerID, logger)

	// The engine and vault accounting act through the capability set, not
	// as the owner.
	if err := led.Grant(ctx, cfg.OwnerID, cfg.EngineID); err != nil {
		logger.Error("Failed to grant engine caller", "error", err)
		os.Exit(1)
	}
	if err := led.Grant(ctx, cfg.OwnerID, cfg.VaultCallerID); err != nil {
		logger.Error("Failed to grant vault caller", "error", err)
		os.Exit(1)
	}

	srv := apphttp.NewServer(":"+cfg.Port, rec, led, pol, eng, vlt)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting limit server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-runCtx.Done()
	logger.Info("Server stopped gracefully")
}
