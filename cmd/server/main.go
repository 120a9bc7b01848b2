// Cold call qualification server.
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

	"github.com/ashureev/coldcall/internal/agent"
	"github.com/ashureev/coldcall/internal/api"
	"github.com/ashureev/coldcall/internal/coldcall"
	"github.com/ashureev/coldcall/internal/config"
	"github.com/ashureev/coldcall/internal/identity"
	"github.com/ashureev/coldcall/internal/llm"
	"github.com/ashureev/coldcall/internal/middleware"
	"github.com/ashureev/coldcall/internal/store"
	"github.com/ashureev/coldcall/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "provider", cfg.LLM.Provider)

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

	// Calls held in memory by a previous process can never be resumed.
	abandoned, err := repo.AbandonInProgressCalls(context.Background(), time.Now())
	if err != nil {
		slog.Error("Failed to close out stale calls", "error", err)
		os.Exit(1)
	}
	slog.Info("Stale call cleanup complete", "abandoned", abandoned)

	backend, err := llm.New(context.Background(), llm.Config{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Addr:     cfg.LLM.Addr,
		Timeout:  cfg.LLM.Timeout,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize text generator", "provider", cfg.LLM.Provider, "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			slog.Warn("Failed to close text generator", "error", closeErr)
		}
	}()
	slog.Info("Text generator ready", "generator", backend.Name())

	generator, err := coldcall.NewResponseGenerator(backend,
		coldcall.WithSampling(cfg.LLM.Temperature, cfg.LLM.MaxTokens),
		coldcall.WithLogger(logger),
	)
	if err != nil {
		slog.Error("Failed to initialize response generator", "error", err)
		os.Exit(1)
	}

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Warn("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize services.
	callService, err := agent.NewService(generator, repo, conversationLogger, agent.Config{
		MaxTurns:      cfg.Call.MaxTurns,
		GeneratorName: backend.Name(),
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize call service", "error", err)
		os.Exit(1)
	}
	conns := agent.NewConnectionManager(logger)
	callService.SetEvictCallback(conns.Close)

	// Initialize handlers.
	callHandler := agent.NewHandler(callService, repo, agent.HandlerConfig{
		RateLimitRequests: cfg.RateLimit.RequestsPerWindow,
		RateLimitWindow:   cfg.RateLimit.WindowDuration,
		MaxRequestBody:    cfg.MaxRequestBody,
	}, logger)
	defer callHandler.Close()

	wsLimiter := agent.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer wsLimiter.Stop()
	wsHandler := agent.NewWebSocketHandler(callService, conns, wsLimiter, cfg.AllowedOrigins(), cfg.IsDevelopment(), logger)

	healthHandler := api.NewHealthHandler(repo, callService, backend, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	// Public routes.
	r.Method(http.MethodGet, "/api/health", healthHandler)
	callHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/call", wsHandler.ServeHTTP)

	// Serve embedded dialer page (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket calls stay open
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := agent.NewSweeper(callService, repo, agent.SweeperConfig{
		Interval:  cfg.Call.SweepInterval,
		IdleTTL:   cfg.Call.IdleTTL,
		Retention: cfg.Call.RecordRetention,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// Wait for shutdown signal, or for the server to fail.
		<-gctx.Done()
		stop()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		callService.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}
