package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/WebScout/internal/adapter/agent"
	"github.com/Strob0t/WebScout/internal/adapter/chrome"
	wshttp "github.com/Strob0t/WebScout/internal/adapter/http"
	wsotel "github.com/Strob0t/WebScout/internal/adapter/otel"
	"github.com/Strob0t/WebScout/internal/adapter/postgres"
	"github.com/Strob0t/WebScout/internal/adapter/ristretto"
	"github.com/Strob0t/WebScout/internal/adapter/ws"
	"github.com/Strob0t/WebScout/internal/artifacts"
	"github.com/Strob0t/WebScout/internal/browser"
	"github.com/Strob0t/WebScout/internal/config"
	"github.com/Strob0t/WebScout/internal/domainfilter"
	"github.com/Strob0t/WebScout/internal/logger"
	"github.com/Strob0t/WebScout/internal/middleware"
	"github.com/Strob0t/WebScout/internal/port/archive"
	"github.com/Strob0t/WebScout/internal/ratelimit"
	"github.com/Strob0t/WebScout/internal/resilience"
	"github.com/Strob0t/WebScout/internal/service"
)

const streamPollInterval = 500 * time.Millisecond

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"max_concurrent_tasks", cfg.Scheduler.MaxConcurrent,
		"archive_enabled", cfg.Archive.Enabled,
	)

	ctx := context.Background()

	// --- Telemetry ---
	otelShutdown, err := wsotel.Init(ctx, cfg.OTEL, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(sctx)
	}()

	var metrics *wsotel.Metrics
	if cfg.OTEL.Enabled {
		metrics, err = wsotel.NewMetrics()
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	// --- Infrastructure ---
	eng := chrome.NewEngine(chrome.Config{
		Host:     cfg.Browser.Host,
		Port:     cfg.Browser.Port,
		Headless: cfg.Browser.Headless,
	})
	mgr := browser.NewManager(eng)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := mgr.ShutdownAll(sctx); err != nil {
			slog.Warn("browser shutdown", "error", err)
		}
	}()

	limiter := ratelimit.New(ratelimit.Config{
		Enabled:  cfg.Politeness.Enabled,
		Requests: cfg.Politeness.Requests,
		Window:   cfg.Politeness.Window,
		DelayMin: cfg.Politeness.DelayMin,
		DelayMax: cfg.Politeness.DelayMax,
	})

	filter, err := domainfilter.New(cfg.Filter)
	if err != nil {
		return fmt.Errorf("domain filter: %w", err)
	}

	statsCache, err := ristretto.New(cfg.Cache.MaxSizeMB * 1024 * 1024)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer func() {
		slog.Info("stats cache closed", "hit_ratio", statsCache.HitRatio())
		statsCache.Close()
	}()

	store, err := artifacts.NewStore(cfg.Artifacts.Dir, statsCache, cfg.Cache.TTL)
	if err != nil {
		return fmt.Errorf("artifacts: %w", err)
	}

	// Optional PostgreSQL archive for terminal tasks.
	var arch archive.Archiver
	if cfg.Archive.Enabled {
		pool, err := postgres.NewPool(ctx, cfg.Archive)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, cfg.Archive.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		arch = postgres.NewStore(pool)
		slog.Info("task archive connected")
	}

	// --- Agent client ---
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	agentClient := agent.NewClient(cfg.Agent, breaker)

	// --- Services ---
	hub := ws.NewHub()
	research := service.NewResearch(cfg.Scheduler, agentClient, mgr, limiter, store, hub, arch)
	tools := service.NewTools(cfg.Browser, mgr, limiter, filter, store)
	if metrics != nil {
		research.SetMetrics(metrics)
		tools.SetMetrics(metrics)
	}

	// --- HTTP ---
	stream := ws.NewStreamHandler(research, streamPollInterval)
	handlers := wshttp.NewHandlers(research, tools, store, stream, arch, agentClient)

	apiLimiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	// The agent's tool calls and live streams must never be throttled by
	// the client-facing limit.
	apiLimiter.Exempt("/tools/v1", "/ws")
	stopCleanup := apiLimiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(wshttp.Logger)
	r.Use(wshttp.SecurityHeaders)
	r.Use(wshttp.CORS(cfg.Server.CORSOrigin))
	r.Use(apiLimiter.Handler)
	if cfg.OTEL.Enabled {
		r.Use(wsotel.HTTPMiddleware(cfg.Logging.Service))
	}

	wshttp.MountRoutes(r, handlers, hub)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
