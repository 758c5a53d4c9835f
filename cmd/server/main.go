// Video agent coordination server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/agent"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/api"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/config"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/grpchealth"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/identity"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/metrics"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/middleware"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/player"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/quiz"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/session"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/store"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/video"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	bank := quiz.DefaultBank()
	if cfg.QuizBankPath != "" {
		bank, err = quiz.LoadBank(cfg.QuizBankPath)
		if err != nil {
			slog.Error("Failed to load quiz bank", "error", err, "path", cfg.QuizBankPath)
			os.Exit(1)
		}
	}
	slog.Info("Quiz bank ready", "questions", bank.Len())

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewPrometheusRecorder(promRegistry)

	// Initialize services.
	conns := player.NewConnections()
	sessions := session.NewRegistry(session.Options{
		Config:    sessionConfig(cfg),
		Store:     repo,
		Questions: bank,
		Metrics:   recorder,
		Logger:    logger,
		OnClose:   conns.CloseSession,
	})
	defer sessions.Close()

	limiter := api.NewRateLimiter(cfg.Limits.RateLimitRequests, cfg.Limits.RateLimitWindow)
	defer limiter.Stop()

	// Initialize handlers.
	apiHandler := api.NewHandler(api.Options{
		Sessions:    sessions,
		History:     repo,
		Limiter:     limiter,
		MaxBodySize: cfg.Limits.MaxRequestBodySize,
		SSE:         cfg.SSE,
		Metrics:     promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
	})
	healthHandler := api.NewHealthHandler(repo, sessions)
	wsHandler := player.NewHandler(sessions, conns, cfg.FrontendURL, cfg.IsDevelopment())
	wsHandler.SetLastSeen(repo)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	// Public routes.
	healthHandler.RegisterHealth(r)
	apiHandler.RegisterRoutes(r)

	// WebSocket endpoint for the browser player.
	r.Get("/ws/player", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Create server.
	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartSnapshotJanitor(ctx, repo, cfg.SnapshotRetention, store.DefaultJanitorInterval)
	slog.Info("Snapshot janitor started", "retention", cfg.SnapshotRetention)

	if cfg.GRPCHealthAddr != "" {
		healthSrv := grpchealth.New(repo, grpchealth.DefaultCheckInterval, logger)
		go func() {
			if err := healthSrv.Serve(ctx, cfg.GRPCHealthAddr); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Closing sessions first ends SSE streams and player sockets so Shutdown
	// does not wait on them.
	sessions.Close()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		TTL: cfg.SessionTTL,
		Agent: agent.Config{
			CountdownSeconds:  cfg.Playback.CountdownSeconds,
			ResumeGuardWindow: cfg.Playback.ResumeGuardWindow,
			RetryDelay:        cfg.Playback.CommandRetryDelay,
		},
		Video: video.Config{
			VerifyAttempts: cfg.Playback.PauseVerifyAttempts,
			VerifyInterval: cfg.Playback.PauseVerifyInterval,
			PlayRetryDelay: cfg.Playback.PlayRetryDelay,
		},
		Restore: cfg.RestoreTimeline,
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL == "" || cfg.IsDevelopment() {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
