package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/bus"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/config"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/health"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/httpapi"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/hub"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/identity"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/logging"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/middleware"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/ratelimit"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/registry"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/store"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/tracing"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logging", "error", err)
		os.Exit(1)
	}
	defer func() { _ = logging.GetLogger().Sync() }()

	// --- Tracing (Optional) ---
	// Export spans over OTLP/gRPC when a collector address is configured.
	var tp *sdktrace.TracerProvider
	if cfg.OTELCollectorAddr != "" {
		tp, err = tracing.Init(context.Background(), cfg.OTELCollectorAddr)
		if err != nil {
			slog.Warn("⚠️ Tracing disabled, collector connection failed", "error", err)
			tp = nil
		} else {
			slog.Info("✅ Tracing initialized", "collector", cfg.OTELCollectorAddr)
		}
	}

	// --- Postgres ---
	connectCtx, connectCancel := context.WithTimeout(context.Background(), 10*time.Second)
	st, err := store.Connect(connectCtx, cfg.DatabaseURL)
	connectCancel()
	if err != nil {
		slog.Error("Failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Connected to Postgres")

	// --- Redis Bus Initialization (Optional) ---
	// Initialize Redis for distributed pub/sub if enabled
	var busService *bus.Service
	if cfg.RedisAddr != "" {
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			slog.Error("Failed to connect to Redis, running in single-instance mode", "error", err)
			busService = nil // Fallback to single-instance mode
		} else {
			slog.Info("✅ Redis pub/sub initialized for distributed messaging", "addr", cfg.RedisAddr, "instance", busService.InstanceID())
		}
	} else {
		slog.Info("Running in single-instance mode (Redis disabled)")
	}

	// Refresh the blocked-key cache when any instance blocks a user.
	subCtx, subCancel := context.WithCancel(context.Background())
	defer subCancel()
	var busWg sync.WaitGroup
	if busService != nil {
		busService.SubscribeBlocks(subCtx, &busWg, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := st.RefreshBlocked(ctx); err != nil {
				slog.Warn("Failed to refresh blocked keys", "error", err)
			}
		})
	}

	// --- Rate Limiting ---
	// Redis-backed when the bus is up, in-memory otherwise.
	limiter, err := ratelimit.NewRateLimiter(cfg, busService.Client())
	if err != nil {
		slog.Error("Failed to initialize rate limiter", "error", err)
		os.Exit(1)
	}

	// --- Create Hub with Dependencies ---
	reg := registry.New()
	h := hub.New(reg, st, busService, limiter, cfg)

	// --- Set up Server ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if tp != nil {
		router.Use(otelgin.Middleware(tracing.ServiceName))
	}

	// Cors
	corsConfig := cors.DefaultConfig()
	allowedOrigins := cfg.Origins()
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}
	corsConfig.AllowOrigins = allowedOrigins
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders,
		identity.HeaderPublicKey, identity.HeaderSignature, middleware.HeaderXCorrelationID)
	corsConfig.ExposeHeaders = []string{
		middleware.HeaderXCorrelationID,
		"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset",
	}
	router.Use(cors.New(corsConfig))

	// Routing
	router.GET("/ws", h.ServeWs)

	apiGroup := router.Group("", limiter.Middleware())
	api := httpapi.NewHandler(st, h, busService, cfg.AdminPublicKey)
	api.Register(apiGroup)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(st, busService)
	router.GET("/healthz", healthHandler.Liveness)
	router.GET("/readyz", healthHandler.Readiness)

	// Start the server.
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("API server starting", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Close all active rooms and WebSocket connections gracefully
	if err := h.Shutdown(ctx); err != nil {
		slog.Error("Error during Hub shutdown:", "error", err)
	}

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	// Stop bus subscriptions, then close Redis if it was initialized
	subCancel()
	busWg.Wait()
	if busService != nil {
		if err := busService.Close(); err != nil {
			slog.Error("Failed to close Redis connection:", "error", err)
		} else {
			slog.Info("Redis connection closed")
		}
	}

	st.Close()

	if tp != nil {
		if err := tp.Shutdown(ctx); err != nil {
			slog.Warn("Failed to flush traces", "error", err)
		}
	}

	slog.Info("Server exiting")
}
