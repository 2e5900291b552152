package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/faceswitch/faceswitch/internal/cache"
	"github.com/faceswitch/faceswitch/internal/config"
	"github.com/faceswitch/faceswitch/internal/database"
	"github.com/faceswitch/faceswitch/internal/faceworker"
	"github.com/faceswitch/faceswitch/internal/imagestore"
	"github.com/faceswitch/faceswitch/internal/ledger"
	"github.com/faceswitch/faceswitch/internal/logging"
	"github.com/faceswitch/faceswitch/internal/orchestrator"
	"github.com/faceswitch/faceswitch/internal/queue"
	"github.com/faceswitch/faceswitch/internal/scheduler"
	"github.com/faceswitch/faceswitch/internal/session"
	"github.com/faceswitch/faceswitch/internal/tracing"
	"github.com/faceswitch/faceswitch/internal/transport"
	"github.com/faceswitch/faceswitch/pkg/models"
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

	if cfg.Tracing.Enabled {
		_, closer, err := tracing.InitTracer("faceswitch-worker", cfg.Tracing.JaegerEndpoint)
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

	// Initialize image storage
	images, err := imagestore.New(cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to initialize image storage: %v", err)
	}

	sender := transport.NewSender(cfg.Transport.BaseURL, cfg.Transport.Token, cfg.Transport.Timeout)
	worker := faceworker.NewClient(cfg.Worker.Endpoint, cfg.Worker.Timeout)

	quotaLedger := ledger.New(repo, ledger.Config{
		FreeQuota:        cfg.Bot.FreeQuota,
		RequestIncrement: cfg.Bot.PremiumRequests,
		TargetIncrement:  cfg.Bot.PremiumTargets,
		Validity:         time.Duration(cfg.Bot.PremiumDays) * 24 * time.Hour,
	})

	sessions := session.New(redisCache, repo, cfg.Bot.SubmitDelay, cfg.Bot.ProcessGate)

	orch := orchestrator.New(repo, quotaLedger, sessions, worker, sender, images,
		redisCache, logger, cfg.Bot.FreeQuota)

	// Background sweeps run alongside the consumer
	sched := scheduler.New(repo, quotaLedger, images, logger,
		cfg.Scheduler.ReconcileInterval, cfg.Scheduler.CleanupInterval, cfg.Scheduler.Retention)
	sched.Start()
	defer sched.Stop()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down worker gracefully...")
		cancel()
	}()

	// Photo event handler
	eventHandler := func(event *models.PhotoEvent) error {
		eventLog := logger.WithUserID(event.User.ID).WithEventID(event.EventID)
		eventLog.Debug("Processing photo event")

		if err := orch.ProcessPhoto(ctx, event); err != nil {
			eventLog.ErrorWithErr("Failed to process photo event", err)
			return err
		}

		return nil
	}

	// Start consuming photo events
	logger.Info("Worker started, waiting for photo events...")
	if err := q.ConsumePhotoEvents(ctx, eventHandler); err != nil {
		logger.Fatalf("Failed to consume photo events: %v", err)
	}

	// Wait for shutdown
	<-ctx.Done()
	logger.Info("Worker stopped")
}
