package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shelfkeeper/internal/metrics"
	"shelfkeeper/internal/util"
	"shelfkeeper/pkg/events"
	"shelfkeeper/pkg/store"
	"shelfkeeper/services/catalog/internal/config"
	"shelfkeeper/services/catalog/internal/server"
)

func main() {
	cfg, err := config.Load(os.Getenv("CATALOG_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)
	fatal := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st store.Store
	switch cfg.Backend {
	case config.BackendPostgres:
		st, err = store.NewGormStore(cfg.DatabaseURL)
	default:
		st = store.NewMemoryStore()
	}
	if err != nil {
		fatal("failed to open store", "backend", cfg.Backend, "err", err)
	}
	defer st.Close()

	if cfg.SeedDir != "" {
		n, err := store.Seed(ctx, st, cfg.SeedDir)
		if err != nil {
			fatal("failed to seed store", "dir", cfg.SeedDir, "err", err)
		}
		logger.Info("store seeded", "dir", cfg.SeedDir, "records", n)
	}

	var publishers events.Fanout
	if cfg.AMQPURL != "" {
		p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			fatal("failed to connect to broker", "err", err)
		}
		publishers = append(publishers, p)
	}
	if cfg.ChangeStream != "" {
		p, err := events.NewStream(events.StreamConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.ChangeStream,
		})
		if err != nil {
			fatal("failed to init change stream", "err", err)
		}
		publishers = append(publishers, p)
	}
	defer publishers.Close()

	httpServer, err := server.New(server.Config{
		Store:           st,
		Publisher:       publishers,
		DefaultPageSize: cfg.DefaultPageSize,
		AllowedOrigins:  cfg.AllowedOrigins,
		Metrics:         metrics.New("catalog"),
	})
	if err != nil {
		fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown failed", "err", err)
		}
	}()

	slog.Info("catalog listening", "addr", addr, "backend", cfg.Backend, "publishers", len(publishers))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
