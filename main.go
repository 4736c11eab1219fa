package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"donorflow/config"
	"donorflow/middleware"
	"donorflow/routes"
	"donorflow/services/progress"
	"donorflow/services/reconciler"
	"donorflow/services/roster"
	"donorflow/utils"
	"donorflow/worker"
)

func main() {
	// Load configuration
	if err := config.LoadConfig(); err != nil {
		utils.ConfigureLogging("info", "").Fatalf("Failed to load configuration: %v", err)
	}
	cfg := config.AppConfig
	logger := utils.ConfigureLogging(cfg.LogLevel, cfg.Environment)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
		}); err != nil {
			logger.WithError(err).Warn("Sentry initialization failed")
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Progress store: Redis when several instances share imports, memory otherwise
	var store progress.Store
	var limiterStorage fiber.Storage
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer client.Close()

		store = progress.NewRedisStore(client, cfg.ProgressRetention)
		limiterStorage = middleware.NewRedisStorage(client)
		logger.WithField("address", cfg.Redis.Address).Info("Using Redis progress store")
	} else {
		store = progress.NewMemoryStore(cfg.ProgressRetention)
		logger.Info("Using in-memory progress store")
	}

	runner := worker.NewImportRunner(config.DB, store, reconciler.New(config.DB, logger), logger, worker.ImportRunnerConfig{
		BatchSize:      cfg.ImportBatchSize,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	rosterService := roster.NewService(config.DB, logger)

	maintenance := worker.NewMaintenance(store, rosterService, logger)
	if err := maintenance.Start(cfg.ProgressSweepSchedule, cfg.AutoExcludeSchedule); err != nil {
		logger.Fatalf("Failed to start maintenance jobs: %v", err)
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: int(cfg.MaxUploadBytes) + 1<<20,
	})
	app.Use(recover.New())

	// Add CORS middleware
	corsConfig := middleware.DefaultCORSConfig()
	if origins := middleware.ParseOrigins(cfg.AllowedOrigins); len(origins) > 0 {
		corsConfig.AllowedOrigins = origins
	}
	app.Use(middleware.CORS(corsConfig))

	// Setup routes
	routes.SetupRoutes(app, routes.Dependencies{
		DB:               config.DB,
		Logger:           logger,
		Store:            store,
		Runner:           runner,
		Roster:           rosterService,
		ImportRateLimit:  cfg.ImportRateLimit,
		RateLimitStorage: limiterStorage,
	})

	// Graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := runner.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("Imports did not stop in time")
		}
		maintenance.Stop()
		if err := app.ShutdownWithContext(ctx); err != nil {
			logger.WithError(err).Warn("Server shutdown failed")
		}
	}()

	// Start server
	logger.Printf("Server starting on port %s", cfg.ServerPort)
	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
