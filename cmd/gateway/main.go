package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/faceswitch/faceswitch/internal/analytics"
	"github.com/faceswitch/faceswitch/internal/bot"
	"github.com/faceswitch/faceswitch/internal/cache"
	"github.com/faceswitch/faceswitch/internal/config"
	"github.com/faceswitch/faceswitch/internal/database"
	"github.com/faceswitch/faceswitch/internal/ledger"
	"github.com/faceswitch/faceswitch/internal/logging"
	"github.com/faceswitch/faceswitch/internal/middleware"
	"github.com/faceswitch/faceswitch/internal/queue"
	"github.com/faceswitch/faceswitch/internal/session"
	"github.com/faceswitch/faceswitch/internal/tracing"
	"github.com/faceswitch/faceswitch/internal/transport"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewDefaultLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Initialize JWT secret from config
	middleware.SetJWTSecret(cfg.Auth.JWTSecret)

	if cfg.Tracing.Enabled {
		_, closer, err := tracing.InitTracer("faceswitch-gateway", cfg.Tracing.JaegerEndpoint)
		if err != nil {
			logger.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer closer.Close()
	}

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := database.NewRepository(db)

	// Initialize cache
	redisCache, err := cache.New(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisCache.Close()

	// Initialize queue
	q, err := queue.New(cfg.Queue)
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	sender := transport.NewSender(cfg.Transport.BaseURL, cfg.Transport.Token, cfg.Transport.Timeout)

	quotaLedger := ledger.New(repo, ledger.Config{
		FreeQuota:        cfg.Bot.FreeQuota,
		RequestIncrement: cfg.Bot.PremiumRequests,
		TargetIncrement:  cfg.Bot.PremiumTargets,
		Validity:         time.Duration(cfg.Bot.PremiumDays) * 24 * time.Hour,
	})

	sessions := session.New(redisCache, repo, cfg.Bot.SubmitDelay, cfg.Bot.ProcessGate)

	handlers := bot.New(repo, quotaLedger, sessions, q, sender, cfg.Bot, logger)

	gateway := &Gateway{
		handlers: handlers,
		sender:   sender,
		users:    repo,
		stats:    analytics.NewService(repo),
		log:      logger,
	}

	router := setupRouter(gateway, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Starting gateway on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Gateway stopped")
}

func setupRouter(gateway *Gateway, logger *logging.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))

	limiter := middleware.NewRateLimiter(50, 100)
	router.Use(middleware.RateLimit(limiter))

	router.GET("/health", gateway.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhook", gateway.handleWebhook)

	admin := router.Group("/api/v1/admin")
	admin.Use(middleware.JWTAuth())
	{
		admin.GET("/users", gateway.listUsers)
		admin.GET("/stats", gateway.usageStats)
	}

	return router
}
