// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/agentdeck/ops-console/internal/agent"
	"github.com/agentdeck/ops-console/internal/bus"
	"github.com/agentdeck/ops-console/internal/config"
	"github.com/agentdeck/ops-console/internal/handler"
	"github.com/agentdeck/ops-console/internal/hub"
	"github.com/agentdeck/ops-console/internal/middleware"
	"github.com/agentdeck/ops-console/internal/service"
	"github.com/agentdeck/ops-console/internal/store"
	"github.com/agentdeck/ops-console/pkg/logger"
	"github.com/agentdeck/ops-console/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "ops-console", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing")
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Open the event store
	st, err := store.Open(store.Config{
		PostgresDSN: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
	})
	if err != nil {
		log.Error("failed to open event store", zap.Error(err))
		os.Exit(1)
	}
	defer st.Close()

	// Event bus mirror (noop unless NATS is configured)
	var publisher bus.Publisher = bus.Noop{}
	if cfg.NATSURL != "" {
		natsPub, err := bus.NewNATSPublisher(cfg.NATSURL, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		publisher = natsPub
	}
	defer publisher.Close()

	// Core: registry/broadcaster, writer, stub responder
	feedHub := hub.New()
	writer := service.NewWriter(st, feedHub, publisher, log)
	responder := agent.NewResponder(writer, log, cfg.AgentReplyMinDelay, cfg.AgentReplyMaxDelay)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(st)
	eventHandler := handler.NewEventHandler(writer, st, log)
	commandHandler := handler.NewCommandHandler(writer, responder, log)
	agentHandler := handler.NewAgentHandler()
	wsHandler := handler.NewWSHandler(st, feedHub, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Subscriber protocol
	r.Get("/ws", wsHandler.Serve)

	// API routes
	r.Route("/api", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(middleware.Auth(cfg.JWTSecret))
		}
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/events", func(r chi.Router) {
			r.Post("/", eventHandler.Create)
			r.Get("/", eventHandler.List)
			r.Get("/cursor", eventHandler.Cursor)
		})

		r.Post("/commands", commandHandler.Create)
		r.Get("/agents", agentHandler.List)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown")
	}

	log.Info("server stopped")
}
