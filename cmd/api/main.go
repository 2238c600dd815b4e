package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/triage-engine/cmd/mainconfig"
	"github.com/wolfman30/triage-engine/internal/api/router"
	"github.com/wolfman30/triage-engine/internal/app/bootstrap"
	appconfig "github.com/wolfman30/triage-engine/internal/config"
	"github.com/wolfman30/triage-engine/internal/crisis"
	httpmiddleware "github.com/wolfman30/triage-engine/internal/http/middleware"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting triage-engine API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := mainconfig.LoadOptionalAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	registry := newRegistry()
	rt, err := bootstrap.Build(ctx, bootstrap.Options{
		Config:     cfg,
		AWS:        awsCfg,
		Registerer: registry,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	limiter := newTurnLimiter(cfg)
	handler := buildHandler(rt, registry, limiter)
	background := startBackground(ctx, rt, limiter)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	background.wait(shutdownCtx, logger)

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func newTurnLimiter(cfg *appconfig.Config) *httpmiddleware.RateLimiter {
	if cfg.TurnRateLimit <= 0 {
		return nil
	}
	return httpmiddleware.NewRateLimiter(cfg.TurnRateLimit, cfg.TurnRateBurst)
}

func buildHandler(rt *bootstrap.Runtime, registry *prometheus.Registry, limiter *httpmiddleware.RateLimiter) http.Handler {
	cfg := rt.Config
	if cfg.AdminJWTSecret == "" {
		rt.Logger.Warn("ADMIN_JWT_SECRET not set; admin crisis endpoints disabled")
	}
	return router.New(&router.Config{
		Logger:              rt.Logger,
		ConversationHandler: rt.ConversationHandler(),
		CrisisHandler:       crisis.NewHandler(rt.Manager, rt.Logger),
		AlertStream:         rt.Hub,
		AdminAuthSecret:     cfg.AdminJWTSecret,
		MetricsHandler:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimiter:         limiter,
		HealthChecks: map[string]router.HealthCheck{
			"postgres": rt.Ping,
		},
	})
}
