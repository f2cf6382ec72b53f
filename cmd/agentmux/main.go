// Package main is the entry point for agentmux.
// This single binary runs the launch queue, runner supervision, message
// streaming and persistence together with shared infrastructure.
// The server exposes WebSocket and HTTP endpoints.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	// Common packages
	"github.com/agentmux/agentmux/internal/common/config"
	"github.com/agentmux/agentmux/internal/common/httpmw"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/common/tracing"

	// Event bus
	"github.com/agentmux/agentmux/internal/events"

	// WebSocket gateway
	gateways "github.com/agentmux/agentmux/internal/gateway/websocket"

	// Agent packages
	agentcontroller "github.com/agentmux/agentmux/internal/agent/controller"
	agenthandlers "github.com/agentmux/agentmux/internal/agent/handlers"
	"github.com/agentmux/agentmux/internal/agent/registry"
	"github.com/agentmux/agentmux/internal/agent/runner"
	agentservice "github.com/agentmux/agentmux/internal/agent/service"
	storesqlite "github.com/agentmux/agentmux/internal/agent/store/sqlite"
	"github.com/agentmux/agentmux/internal/agent/streaming"

	// Orchestrator
	"github.com/agentmux/agentmux/internal/orchestrator"

	// Infrastructure
	"github.com/agentmux/agentmux/internal/persistence"
	"github.com/agentmux/agentmux/internal/proclock"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting agentmux...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Acquire the single-instance lock before anything touches the database
	var lock *proclock.Lock
	if cfg.Lock.Disabled {
		log.Warn("Process lock disabled, concurrent instances may corrupt the database")
	} else {
		lock, err = proclock.Acquire(cfg.Lock.Path, cfg.Server.Port, log)
		if err != nil {
			log.Fatal("Failed to acquire process lock",
				zap.Error(err),
				zap.String("path", cfg.Lock.Path))
		}
	}

	// 5. Initialize event bus (in-memory by default, or NATS if configured)
	providedBus, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	eventBus := providedBus.Bus
	if providedBus.NATS != nil {
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		log.Info("Using in-memory event bus")
	}

	// ============================================
	// STORAGE
	// ============================================
	pool, dbCleanup, err := persistence.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize database",
			zap.Error(err),
			zap.String("db_driver", cfg.Database.Driver))
	}

	repo, err := storesqlite.New(pool)
	if err != nil {
		log.Fatal("Failed to initialize agent store", zap.Error(err))
	}

	agentSvc := agentservice.NewService(repo, log)
	log.Info("Agent Service initialized")

	// ============================================
	// STREAMING
	// ============================================
	streams := streaming.NewService(agentSvc, eventBus, log)
	log.Info("Streaming Service initialized")

	// ============================================
	// RUNNERS
	// ============================================
	agentRegistry, _, err := registry.Provide(log)
	if err != nil {
		log.Fatal("Failed to load runner catalog", zap.Error(err))
	}
	log.Info("Runner catalog loaded", zap.Int("runner_types", len(agentRegistry.List())))

	factory := runner.NewFactory(agentRegistry, runner.FactoryConfig{
		WorkDir:    cfg.Runner.WorkDir,
		StopGrace:  cfg.Runner.StopGrace(),
		SDKBaseURL: cfg.Runner.SDKBaseURL,
		SidecarURL: cfg.Runner.SidecarURL,
	}, streams, log)

	// ============================================
	// ORCHESTRATOR
	// ============================================
	log.Info("Initializing Orchestrator...")

	serviceCfg := orchestrator.DefaultServiceConfig()
	serviceCfg.QueueSize = cfg.Launch.QueueSize
	serviceCfg.StopGrace = cfg.Runner.StopGrace()
	orchestratorSvc := orchestrator.NewService(serviceCfg, repo, streams, factory, eventBus, log)

	if err := orchestratorSvc.Start(ctx); err != nil {
		log.Fatal("Failed to start orchestrator", zap.Error(err))
	}
	log.Info("Orchestrator initialized")

	// ============================================
	// WEBSOCKET GATEWAY (RPC + realtime notifications)
	// ============================================
	log.Info("Initializing WebSocket Gateway...")

	gateway := gateways.NewGateway(orchestratorSvc, log)

	// Create agent controller and handlers (Pattern A)
	agentCtrl := agentcontroller.NewController(orchestratorSvc, agentSvc, agentRegistry)

	// Start the WebSocket hub and bridge lifecycle events to connected clients
	go gateway.Hub.Run(ctx)
	gateways.RegisterAgentNotifications(ctx, eventBus, gateway.Hub, log)

	// ============================================
	// HTTP SERVER (WebSocket + HTTP endpoints)
	// ============================================
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(httpmw.RequestLogger(log, "agentmux"))
	router.Use(httpmw.OtelTracing("agentmux"))

	// WebSocket endpoint - primary realtime transport
	gateway.SetupRoutes(router)

	// Agent handlers (HTTP + WebSocket)
	agenthandlers.RegisterRoutes(router, gateway.Dispatcher, agentCtrl, log)
	log.Info("Registered Agent handlers (HTTP + WebSocket)")

	// Health check (simple HTTP for load balancers/monitoring)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "agentmux",
			"mode":    "websocket+http",
		})
	})

	// Create HTTP server
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// Start server
	go func() {
		log.Info("WebSocket server listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Print routes summary
	log.Info("API configured",
		zap.String("websocket", "/ws"),
		zap.String("health", "/health"),
		zap.String("http", "/api/v1"),
	)

	// ============================================
	// GRACEFUL SHUTDOWN
	// ============================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down agentmux...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := orchestratorSvc.Stop(); err != nil {
		log.Error("Orchestrator stop error", zap.Error(err))
	}

	if err := busCleanup(); err != nil {
		log.Error("Event bus close error", zap.Error(err))
	}

	if err := dbCleanup(); err != nil {
		log.Error("Database close error", zap.Error(err))
	}

	if lock != nil {
		if err := lock.Release(); err != nil {
			log.Error("Process lock release error", zap.Error(err))
		}
	}

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracing shutdown error", zap.Error(err))
	}

	log.Info("agentmux stopped")
}

// corsMiddleware returns a CORS middleware for HTTP and WebSocket connections
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version, Sec-WebSocket-Protocol")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
