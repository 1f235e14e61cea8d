package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/telemeet/sfu/internal/v1/auth"
	"github.com/telemeet/sfu/internal/v1/config"
	"github.com/telemeet/sfu/internal/v1/health"
	"github.com/telemeet/sfu/internal/v1/lifecycle"
	"github.com/telemeet/sfu/internal/v1/logging"
	"github.com/telemeet/sfu/internal/v1/media"
	"github.com/telemeet/sfu/internal/v1/middleware"
	"github.com/telemeet/sfu/internal/v1/ratelimit"
	"github.com/telemeet/sfu/internal/v1/registry"
	"github.com/telemeet/sfu/internal/v1/room"
	"github.com/telemeet/sfu/internal/v1/session"
	"github.com/telemeet/sfu/internal/v1/signaling"
	"github.com/telemeet/sfu/internal/v1/tracing"
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

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	// --- Tracing (Optional) ---
	if cfg.OtelEnabled {
		tp, err := tracing.InitTracer(context.Background(), "sfu-signaling", cfg.OtelCollectorAddr)
		if err != nil {
			slog.Error("Failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(ctx)
		}()
		slog.Info("✅ Tracing initialized", "collector", cfg.OtelCollectorAddr)
	}

	// --- Media Engine ---
	engine, err := media.NewMediasoupRouter(media.Config{
		AnnouncedIP: cfg.AnnouncedIP,
		RTCMinPort:  cfg.RTCMinPort,
		RTCMaxPort:  cfg.RTCMaxPort,
	})
	if err != nil {
		slog.Error("Failed to start media engine", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Media engine started", "announced_ip", cfg.AnnouncedIP)

	// --- Control Plane ---
	reg := registry.New(engine)
	rooms := room.New()
	supervisor := lifecycle.NewSupervisor(engine, reg, rooms, cfg.TransportTimeout)
	handler := signaling.NewHandler(engine, reg, rooms, supervisor)

	supervisorCtx, stopSupervisor := context.WithCancel(context.Background())
	go supervisor.Run(supervisorCtx)

	rateLimiter, err := ratelimit.NewRateLimiter(cfg.RateLimitWsIP)
	if err != nil {
		slog.Error("Failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	allowedOrigins := auth.GetAllowedOrigins(cfg.AllowedOrigins, []string{"http://localhost:3000"})
	hub := session.NewHub(handler, rateLimiter, allowedOrigins)

	// --- Set up Server ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	// Cors
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	router.Use(cors.New(corsConfig))

	// Error handling, correlation, tracing
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if cfg.OtelEnabled {
		router.Use(otelgin.Middleware("sfu-signaling"))
	}

	// Routing
	router.GET("/ws", hub.ServeWs)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(engine)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	// Start the server.
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("Signaling server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close all signaling connections; each runs its cleanup cascade.
	if err := hub.Shutdown(ctx); err != nil {
		slog.Error("Error during Hub shutdown:", "error", err)
	}

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	stopSupervisor()
	if err := engine.Close(); err != nil {
		slog.Error("Failed to close media engine:", "error", err)
	}

	slog.Info("Server exiting")
}
