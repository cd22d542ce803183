// Package main is the entry point for the QuotaPilot gateway server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/quotapilot/quotapilot/internal/api"
	"github.com/quotapilot/quotapilot/internal/budget"
	"github.com/quotapilot/quotapilot/internal/config"
	"github.com/quotapilot/quotapilot/internal/metrics"
	"github.com/quotapilot/quotapilot/internal/observability"
	"github.com/quotapilot/quotapilot/internal/provider"
	"github.com/quotapilot/quotapilot/internal/provider/cerebras"
	"github.com/quotapilot/quotapilot/internal/provider/mistral"
	"github.com/quotapilot/quotapilot/internal/provider/openai"
	"github.com/quotapilot/quotapilot/internal/router"
	"github.com/quotapilot/quotapilot/internal/store"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	if env := os.Getenv("QUOTAPILOT_CONFIG"); env != "" {
		*configPath = env
	}

	// Bootstrap logger until the configured one is built
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfgManager, err := config.NewManager(*configPath, logger)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	cfg := cfgManager.Get()

	// Rebuild the logger with the configured level, format, and redaction
	logger = observability.NewLogger(observability.LoggerConfig{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Output:   os.Stdout,
		Redactor: observability.NewRedactor(),
	})
	slog.SetDefault(logger)

	logger.Info("starting QuotaPilot gateway", "version", version, "config", *configPath)

	// Usage store
	usageStore, err := buildStore(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize usage store", "backend", cfg.Storage.Backend, "error", err)
		os.Exit(1)
	}

	// Budget manager over the configured limits
	budgetManager := budget.NewManager(usageStore, cfg.Limits, logger)

	// Start config watcher; a reload swaps the limit table in place.
	// Provider changes require a restart.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfgManager.OnChange(func(newCfg *config.Config) {
		budgetManager.ReplaceTable(newCfg.Limits)
		if !sameProviders(cfg.Providers, newCfg.Providers) {
			logger.Warn("provider configuration changed, restart required to apply")
		}
	})

	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	// Initialize provider registry
	registry := provider.NewRegistry()
	registry.RegisterFactory(mistral.ProviderType, mistral.New)
	registry.RegisterFactory(cerebras.ProviderType, cerebras.New)
	registry.RegisterFactory(openai.ProviderType, openai.New)

	for _, provCfg := range cfg.Providers {
		adapterCfg := provCfg.AdapterConfig()
		adapterCfg.Logger = logger

		adapter, err := registry.Build(adapterCfg)
		if err != nil {
			logger.Error("failed to create provider", "name", provCfg.Name, "error", err)
			continue
		}
		logger.Info("provider registered", "name", adapter.Name(), "type", provCfg.Type)
	}

	if registry.Len() == 0 {
		logger.Error("no providers could be constructed")
		os.Exit(1)
	}

	// Quota-aware router
	rt := router.New(registry,
		router.WithBudget(budgetManager),
		router.WithLogger(logger),
	)

	// API handler
	handler := api.NewHandler(registry, rt, budgetManager, logger)
	handler.SetMaxBodyBytes(cfg.Server.MaxBodyBytes)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	// Liveness and readiness aliases
	mux.HandleFunc("GET /health/live", handler.HealthCheck)
	mux.HandleFunc("GET /health/ready", handler.HealthCheck)

	// Metrics endpoint
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	// Apply middleware
	var httpHandler http.Handler = mux
	httpHandler = metrics.Middleware(httpHandler)
	if cfg.RateLimit.Enabled {
		limiter := api.NewRateLimiter(api.RateLimiterConfig{
			RPS:    cfg.RateLimit.RPS,
			Burst:  cfg.RateLimit.Burst,
			Logger: logger,
		})
		httpHandler = limiter.Middleware(httpHandler)
	}
	httpHandler = observability.RequestIDMiddleware(httpHandler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	_ = cfgManager.Close()
	if err := usageStore.Close(); err != nil {
		logger.Error("usage store close error", "error", err)
	}
	logger.Info("server stopped")
}

// buildStore constructs the usage store selected by the config.
func buildStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return store.NewMemoryStore(), nil

	case "postgres":
		dsnEnv := cfg.Storage.Postgres.DSNEnv
		if dsnEnv == "" {
			dsnEnv = "DATABASE_URL"
		}
		dsn := os.Getenv(dsnEnv)
		if dsn == "" {
			return nil, fmt.Errorf("postgres backend selected but %s is not set", dsnEnv)
		}
		return store.NewPostgresStore(store.DefaultPostgresConfig(dsn))

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer pingCancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		opts := []store.RedisOption{}
		if cfg.Storage.Redis.KeyPrefix != "" {
			opts = append(opts, store.WithKeyPrefix(cfg.Storage.Redis.KeyPrefix))
		}
		logger.Info("redis usage store connected", "addr", cfg.Storage.Redis.Addr)
		return store.NewRedisStore(client, opts...), nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}

// sameProviders reports whether two provider lists describe the same set of
// upstream adapters for reload purposes.
func sameProviders(a, b []config.ProviderConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Type != b[i].Type || a[i].BaseURL != b[i].BaseURL {
			return false
		}
	}
	return true
}
