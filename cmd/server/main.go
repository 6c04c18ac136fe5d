package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kasirinaja/settlement/internal/cache"
	"kasirinaja/settlement/internal/config"
	"kasirinaja/settlement/internal/events"
	"kasirinaja/settlement/internal/gateway"
	"kasirinaja/settlement/internal/httpapi"
	"kasirinaja/settlement/internal/logging"
	"kasirinaja/settlement/internal/service"
	"kasirinaja/settlement/internal/store"
	"kasirinaja/settlement/internal/store/memory"
	pgstore "kasirinaja/settlement/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logging.Init(os.Stdout, cfg.LogLevel)

	if err := validateSecurityConfig(cfg); err != nil {
		fatal("invalid security configuration", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if cfg.DatabaseMigrate {
			if err := pg.Migrate(ctx); err != nil {
				fatal("postgres migration failed", err)
			}
		}
		repo = pg
		closers = append(closers, pg.Close)
		slog.Info("repository: postgres", "migrate", cfg.DatabaseMigrate)
	} else {
		repo = memory.NewSeeded()
		slog.Info("repository: in-memory")
	}

	statusCache := cache.StatusCache(cache.NoopStatusCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisStatusCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			slog.Warn("redis unavailable, using noop status cache", "error", err)
		} else {
			statusCache = redisCache
			closers = append(closers, redisCache.Close)
			slog.Info("cache: redis", "ttl", cfg.StatusCacheTTL().String())
		}
	} else {
		slog.Info("cache: noop")
	}

	publisher := events.Publisher(events.NoopPublisher{})
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			slog.Warn("kafka unavailable, settlement events disabled", "error", err)
		} else {
			publisher = kafka
			closers = append(closers, kafka.Close)
			slog.Info("events: kafka", "topic", cfg.KafkaTopic)
		}
	} else {
		slog.Info("events: noop")
	}

	var payments gateway.Gateway
	if cfg.Gateway.Live() {
		payments = gateway.NewClient(gateway.ClientConfig{
			BaseURL:     cfg.Gateway.BaseURL,
			ClientID:    cfg.Gateway.ClientID,
			APIKey:      cfg.Gateway.APIKey,
			ChecksumKey: cfg.Gateway.ChecksumKey,
			ReturnURL:   cfg.Gateway.ReturnURL,
			CancelURL:   cfg.Gateway.CancelURL,
			Timeout:     cfg.Gateway.Timeout(),
		})
		slog.Info("gateway: live", "base_url", cfg.Gateway.BaseURL)
	} else {
		payments = gateway.NewSandbox(cfg.AuthSecret)
		slog.Warn("gateway: sandbox; set GATEWAY_CLIENT_ID, GATEWAY_API_KEY and GATEWAY_CHECKSUM_KEY for live payments")
	}

	svc := service.New(service.Options{
		Repo:           repo,
		Gateway:        payments,
		StatusCache:    statusCache,
		StatusCacheTTL: cfg.StatusCacheTTL(),
		Events:         publisher,
	})
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	if err := seedAccounts(ctx, auth, cfg); err != nil {
		fatal("seed accounts failed", err)
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Gateway.Timeout() + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("settlement service listening", "addr", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("server error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			slog.Error("close error", "error", err)
		}
	}

	slog.Info("server stopped")
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func seedAccounts(ctx context.Context, auth *httpapi.AuthManager, cfg config.Config) error {
	if cfg.SeedAdminPassword != "" {
		if err := auth.EnsureUser(ctx, "admin", cfg.SeedAdminPassword, "admin"); err != nil {
			return fmt.Errorf("admin: %w", err)
		}
	}
	if cfg.SeedCashierPassword != "" {
		if err := auth.EnsureUser(ctx, "cashier", cfg.SeedCashierPassword, "cashier"); err != nil {
			return fmt.Errorf("cashier: %w", err)
		}
	}
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}

	g := cfg.Gateway
	configured := 0
	for _, v := range []string{g.ClientID, g.APIKey, g.ChecksumKey} {
		if v != "" {
			configured++
		}
	}
	if configured > 0 && configured < 3 {
		return fmt.Errorf("GATEWAY_CLIENT_ID, GATEWAY_API_KEY and GATEWAY_CHECKSUM_KEY must be set together")
	}
	if g.Live() && len(g.ChecksumKey) < 32 {
		return fmt.Errorf("GATEWAY_CHECKSUM_KEY must be at least 32 characters")
	}
	return nil
}
