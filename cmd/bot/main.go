package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"twingate/internal/backend"
	"twingate/internal/config"
	"twingate/internal/handler"
	"twingate/internal/health"
	"twingate/internal/i18n"
	"twingate/internal/jobs"
	"twingate/internal/middleware"
	"twingate/internal/ratelimit"
	"twingate/internal/repository/postgres"
	"twingate/internal/service"
	"twingate/internal/session"

	"github.com/golang-migrate/migrate/v4"
	postgresdb "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

const shutdownTimeout = 10 * time.Second

// cleanableLimiter is a rate limiter the scheduler can clean up
type cleanableLimiter interface {
	ratelimit.Limiter
	jobs.LimiterCleaner
}

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Twin Gate Bot")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Configuration loaded successfully")

	// Connect to database with retries
	db, err := connectDatabase(cfg.DSN(), logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Database connection established")

	// Run migrations
	if err := runMigrations(db, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	logger.Info("Database migrations completed")

	checks := map[string]health.CheckFunc{
		"database": db.PingContext,
	}

	// Session store and rate limiter live in Redis when it is configured
	var (
		store   session.Store
		limiter cleanableLimiter
	)
	limitCfg := ratelimit.Config{Window: cfg.RateLimit.Window, MaxRequests: cfg.RateLimit.MaxRequests}
	if cfg.UseRedis() {
		rdb, err := connectRedis(cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()

		store = session.NewRedisStore(rdb, cfg.Session.IdleTimeout)
		limiter = ratelimit.NewRedisLimiter(rdb, limitCfg)
		checks["redis"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
		logger.Info("Using redis session store", zap.String("addr", cfg.Redis.Addr))
	} else {
		store = session.NewMemoryStore(cfg.Session.IdleTimeout)
		limiter = ratelimit.NewMemoryLimiter(limitCfg)
		logger.Info("Using in-memory session store")
	}

	translator, err := i18n.New()
	if err != nil {
		logger.Fatal("Failed to load translations", zap.Error(err))
	}

	api, err := backend.NewClient(backend.Config{
		BaseURL:       cfg.API.BaseURL,
		Token:         cfg.API.Token,
		Timeout:       cfg.API.Timeout,
		RatePerSecond: cfg.API.RatePerSecond,
	})
	if err != nil {
		logger.Fatal("Failed to create backend client", zap.Error(err))
	}

	// Initialize repositories
	groupRepo := postgres.NewGroupRepo(db)

	// Initialize services
	progressService := service.NewProgressService(store, api, logger, cfg.Session.VerificationTTL)
	sbtService := service.NewSBTService(store, api, logger)
	groupService := service.NewGroupService(groupRepo, store, logger)

	// Initialize Telegram bot
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.BotToken,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c tele.Context) {
			logger.Error("Unhandled bot error", zap.Error(err))
		},
	})
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	logger.Info("Telegram bot initialized")

	// Initialize handler
	h := handler.NewHandler(bot, handler.Deps{
		Store:       store,
		Translator:  translator,
		Progress:    progressService,
		SBT:         sbtService,
		Groups:      groupService,
		BotUsername: cfg.BotUsername,
		SupportURL:  cfg.SupportURL,
		Timeout:     cfg.API.Timeout + 15*time.Second,
		Logger:      logger,
	})

	bot.Use(
		middleware.Recover(logger, h.Fallback),
		middleware.RateLimit(middleware.RateLimitOptions{
			Limiter:   limiter,
			Logger:    logger,
			OnLimited: h.RateLimited,
		}),
	)
	h.RegisterHandlers()

	logger.Info("Handlers registered")

	// Start background jobs
	scheduler := jobs.NewScheduler(store, limiter, jobs.Config{
		SweepInterval:   cfg.Session.SweepInterval,
		CleanupInterval: cfg.RateLimit.Window,
	}, logger)
	if err := scheduler.Start(); err != nil {
		logger.Fatal("Failed to start background jobs", zap.Error(err))
	}

	// Health endpoints
	healthHandler := health.NewHandler(store, checks, logger)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           healthHandler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Health server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health server stopped", zap.Error(err))
		}
	}()

	// Start bot in background
	go func() {
		logger.Info("Bot started successfully")
		bot.Start()
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	logger.Info("Shutdown signal received, stopping bot...")

	// Graceful shutdown
	healthHandler.SetShuttingDown()
	bot.Stop()
	scheduler.Stop(shutdownTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Health server shutdown error", zap.Error(err))
	}

	logger.Info("Bot stopped gracefully")
}

// connectDatabase connects to PostgreSQL with retries
func connectDatabase(dsn string, logger *zap.Logger) (*sql.DB, error) {
	var db *sql.DB
	var err error

	maxRetries := 30
	retryDelay := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			logger.Warn("Failed to open database connection",
				zap.Int("attempt", i+1),
				zap.Error(err),
			)
			time.Sleep(retryDelay)
			continue
		}

		// Test connection
		if err = db.Ping(); err != nil {
			logger.Warn("Failed to ping database",
				zap.Int("attempt", i+1),
				zap.Error(err),
			)
			db.Close()
			time.Sleep(retryDelay)
			continue
		}

		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)

		return db, nil
	}

	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
}

// connectRedis opens the Redis client and checks it answers
func connectRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolTimeout:     30 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

// runMigrations runs database migrations
func runMigrations(db *sql.DB, logger *zap.Logger) error {
	driver, err := postgresdb.WithInstance(db, &postgresdb.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("No new migrations to apply")
	case err != nil:
		return fmt.Errorf("failed to run migrations: %w", err)
	default:
		logger.Info("Migrations applied successfully")
	}

	return nil
}
