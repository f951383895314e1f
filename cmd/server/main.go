// chatpay - chat monetization engine server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/chatpay/internal/api"
	"github.com/ashureev/chatpay/internal/config"
	"github.com/ashureev/chatpay/internal/engine"
	"github.com/ashureev/chatpay/internal/identity"
	"github.com/ashureev/chatpay/internal/middleware"
	"github.com/ashureev/chatpay/internal/notify"
	"github.com/ashureev/chatpay/internal/reaper"
	"github.com/ashureev/chatpay/internal/roles"
	"github.com/ashureev/chatpay/internal/shared"
	"github.com/ashureev/chatpay/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

const grpcHealthInterval = 15 * time.Second

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

	policy := roles.Policy{
		PremiumWordsPerToken:      cfg.Billing.PremiumWordsPerToken,
		StandardWordsPerToken:     cfg.Billing.StandardWordsPerToken,
		FreePoolCap:               cfg.Billing.FreePoolCap,
		MinFreePoolAccountAgeDays: cfg.Billing.MinAccountAgeDays,
	}
	if err := policy.Validate(); err != nil {
		slog.Error("Invalid role policy", "error", err)
		os.Exit(1)
	}

	// Initialize services.
	hub := notify.NewHub(logger)
	eng := engine.New(repo, roles.NewResolver(policy), engine.Config{
		DepositAmount:              cfg.Billing.DepositAmount,
		PlatformFeePercent:         cfg.Billing.PlatformFeePercent,
		FreeMessagesPerParticipant: cfg.Billing.FreeMessagesPerParticipant,
		InactivityTimeout:          cfg.Reaper.InactivityTimeout,
		Retry: shared.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
		},
	}, engine.WithNotifier(hub), engine.WithLogger(logger))

	// Initialize handlers.
	baseHandler := api.NewHandler(eng, cfg.IsDevelopment())
	chatHandler := api.NewChatHandler(baseHandler, cfg.WalletCreditToken)
	healthHandler := api.NewHealthHandler(repo)
	wsHandler := notify.NewWebSocketHandler(hub, cfg.AllowedOrigins, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Identified routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware())
		chatHandler.RegisterRoutes(r)
		r.Get("/ws/events", wsHandler.ServeHTTP)
	})

	// Create server.
	// WebSocket streams are long lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start inactivity reaper.
	reaperDone := reaper.StartWorker(ctx, eng, cfg.Reaper.Interval)

	// Start optional gRPC health server.
	var healthDone chan struct{}
	if cfg.GRPCHealthPort != "" {
		listener, err := net.Listen("tcp", ":"+cfg.GRPCHealthPort)
		if err != nil {
			slog.Error("Failed to listen for gRPC health", "error", err, "port", cfg.GRPCHealthPort)
			os.Exit(1)
		}
		healthDone = make(chan struct{})
		go func() {
			defer close(healthDone)
			if err := api.NewGRPCHealth(repo, grpcHealthInterval).Serve(ctx, listener); err != nil {
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

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	<-reaperDone
	if healthDone != nil {
		<-healthDone
	}

	slog.Info("Server stopped successfully")
}
