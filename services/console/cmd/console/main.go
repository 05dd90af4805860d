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
	"shelfkeeper/internal/ratelimit"
	"shelfkeeper/internal/util"
	"shelfkeeper/pkg/datasource"
	"shelfkeeper/pkg/events"
	"shelfkeeper/pkg/session"
	"shelfkeeper/services/console/internal/app"
	"shelfkeeper/services/console/internal/config"
	"shelfkeeper/services/console/internal/security"
	"shelfkeeper/services/console/internal/server"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONSOLE_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	fetchTimeout, err := config.ParseFetchTimeout(cfg.FetchTimeout)
	if err != nil {
		log.Fatalf("failed to parse fetch timeout: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)
	fatal := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode, err := datasource.ParseMode(cfg.DataMode)
	if err != nil {
		fatal("invalid data mode", "err", err)
	}
	gateway, err := datasource.Open(datasource.Config{
		Mode: mode,
		Dir:  cfg.LocalDir,
		Bucket: datasource.BucketConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.LocalBucket,
			Prefix:    cfg.BucketPrefix,
			Region:    cfg.MinioRegion,
			UseSSL:    cfg.MinioUseSSL,
		},
		MockURL: cfg.MockURL,
		APIURL:  cfg.APIURL,
		Timeout: fetchTimeout,
		Logger:  logger,
	})
	if err != nil {
		fatal("failed to open data source", "err", err)
	}

	persister, closePersister, err := openPersister(cfg)
	if err != nil {
		fatal("failed to open session persister", "backend", cfg.SessionBackend, "err", err)
	}
	defer closePersister()

	sessions, err := session.New(session.Config{
		Credentials: session.NewDirectorySource(gateway),
		Persister:   persister,
		Logger:      logger,
	})
	if err != nil {
		fatal("failed to init session store", "err", err)
	}

	appCore, err := app.New(ctx, app.Config{
		Gateway:      gateway,
		Sessions:     sessions,
		LandingRoute: cfg.LandingRoute,
		Logger:       logger,
	})
	if err != nil {
		fatal("failed to init app", "err", err)
	}

	var loginLimiter *ratelimit.FixedWindowLimiter
	if cfg.LoginRateLimitPerMinute > 0 {
		loginLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "shelfkeeper:ratelimit:login", cfg.LoginRateLimitPerMinute, time.Minute)
		if err != nil {
			fatal("failed to init login rate limiter", "err", err)
		}
		defer loginLimiter.Close()
	}

	var alerter *security.AuditAlerter
	if cfg.RedisAddr != "" {
		alerter, err = security.NewAuditAlerter(cfg.RedisAddr, cfg.RedisPassword, "")
		if err != nil {
			fatal("failed to init security alerter", "err", err)
		}
		defer alerter.Close()
	}

	if cfg.ChangeStream != "" {
		stream, err := events.NewStream(events.StreamConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.ChangeStream,
		})
		if err != nil {
			fatal("failed to init change stream", "err", err)
		}
		defer stream.Close()
		go stream.Follow(ctx, logger, appCore.HandleChange)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		fatal("invalid trusted proxy list", "err", err)
	}
	httpServer, err := server.New(server.Config{
		App:            appCore,
		LoginLimiter:   loginLimiter,
		Alerter:        alerter,
		TrustedProxies: trusted,
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        metrics.New("console"),
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

	slog.Info("console listening", "addr", addr, "mode", string(mode), "session_backend", cfg.SessionBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}

func openPersister(cfg config.FileConfig) (session.Persister, func(), error) {
	key := cfg.SessionKey
	if key == "" {
		key = session.DefaultKey
	}
	switch cfg.SessionBackend {
	case config.SessionMemory:
		return session.NewMemoryPersister(), func() {}, nil
	case config.SessionSQLite:
		p, err := session.NewSQLitePersister(cfg.SessionDB, key)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	case config.SessionRedis:
		p, err := session.NewRedisPersister(cfg.RedisAddr, cfg.RedisPassword, key)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	default:
		p, err := session.NewFilePersister(cfg.SessionFile)
		if err != nil {
			return nil, nil, err
		}
		return p, func() {}, nil
	}
}
