package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/KennXion/follow-swarm/internal/cache"
	"github.com/KennXion/follow-swarm/internal/db"
	"github.com/KennXion/follow-swarm/internal/engine"
	"github.com/KennXion/follow-swarm/internal/spotify"
	"github.com/KennXion/follow-swarm/pkg/config"
	"github.com/KennXion/follow-swarm/pkg/logging"
	"github.com/KennXion/follow-swarm/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting Follow Swarm Worker")

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	// Initialize database
	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	// Initialize Redis cache
	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, falling back to database counting", zap.Error(err))
	}

	// Build the engine
	repo := db.NewRepository(database.DB)
	users := db.NewUserRepository(repo)
	artists := db.NewArtistRepository(repo)
	records := db.NewFollowRecordRepository(repo)
	jobs := db.NewQueueJobRepository(repo)
	stats := db.NewDailyStatRepository(repo)
	credentials := db.NewCredentialRepository(repo)

	limiter := engine.NewRateLimiter(records, redisCache, cfg.Limits)
	queue := engine.NewQueue(jobs, records, limiter, redisCache)
	analytics := engine.NewAnalytics(stats, records)

	tokens := spotify.NewAuthenticator(&cfg.Spotify, credentials, redisCache)
	client := spotify.NewClient(&cfg.Spotify)

	events := engine.NewEventChannel()
	pool := engine.NewPool(queue, limiter, records, users, artists, tokens, client, events, cfg.Queue)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Promote due jobs on a fixed schedule
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Queue.PromoteSpec, func() {
		if _, err := queue.PromoteDue(ctx); err != nil {
			logger.Error("Failed to promote due jobs", zap.Error(err))
		}
	}); err != nil {
		logger.Fatal("Failed to schedule queue promotion", zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Aggregate stats from completion events
	go analytics.Run(ctx, events)

	// Run the worker pool until interrupted
	done := make(chan error, 1)
	go func() {
		done <- pool.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()
	<-done

	logger.Info("Worker exited")
}
