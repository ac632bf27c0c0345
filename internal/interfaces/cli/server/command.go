// Package server implements the HTTP server command: the Stripe webhook
// receiver and the operational endpoints.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/finrelay/finrelay/internal/infrastructure/accumulator"
	"github.com/finrelay/finrelay/internal/infrastructure/config"
	"github.com/finrelay/finrelay/internal/infrastructure/database"
	"github.com/finrelay/finrelay/internal/infrastructure/queue"
	"github.com/finrelay/finrelay/internal/infrastructure/ratelimit"
	"github.com/finrelay/finrelay/internal/infrastructure/repository"
	"github.com/finrelay/finrelay/internal/infrastructure/stripe"
	httpRouter "github.com/finrelay/finrelay/internal/interfaces/http"
	"github.com/finrelay/finrelay/internal/interfaces/http/handlers"
	"github.com/finrelay/finrelay/internal/shared/logger"
	"github.com/finrelay/finrelay/internal/shared/version"
)

var env string

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the webhook HTTP server",
		Long:  `Start the HTTP server that receives Stripe webhook events and enqueues them for batch processing.`,
		RunE:  run,
	}

	cmd.Flags().StringVarP(&env, "env", "e", "development", "Environment (development, test, production)")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	if envVar := os.Getenv("ENV"); envVar != "" {
		env = envVar
	}

	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Server.Mode = mapEnvToGinMode(env)

	if err := logger.Init(&cfg.Logger); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting webhook server",
		"environment", env,
		"version", version.Version)

	gin.SetMode(cfg.Server.Mode)
	gin.DefaultWriter = io.Discard

	if err := database.Init(&cfg.Database); err != nil {
		logger.Fatal("failed to initialize database", "error", err)
	}
	defer database.Close()

	if err := database.Migrate(&repository.BulkJobModel{}); err != nil {
		logger.Fatal("failed to run migrations", "error", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	log := logger.NewLogger()

	verifier := stripe.NewVerifier(&cfg.Stripe)
	producer := queue.NewRedisQueue(redisClient, &cfg.Queue, log)

	windowStore := accumulator.NewRedisWindowStore(redisClient, log)
	acc := accumulator.NewAccumulator(windowStore, &cfg.Batch, log)

	limiter := ratelimit.NewSlidingWindowLimiter(
		ratelimit.NewRedisCallStore(redisClient),
		cfg.RateLimit.ResourceID,
		ratelimit.TiersFromConfig(&cfg.RateLimit),
		log,
	)

	jobRepo := repository.NewBulkJobRepository(database.Get(), log)

	router := httpRouter.NewRouter(
		handlers.NewWebhookHandler(verifier, producer, log),
		handlers.NewHealthHandler(redisClient, acc, limiter, log),
		handlers.NewJobsHandler(jobRepo, log),
		log,
	)
	router.SetupRoutes()

	srv := &http.Server{
		Addr:         cfg.Server.GetAddr(),
		Handler:      router.GetEngine(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening",
			"address", cfg.Server.GetAddr(),
			"mode", cfg.Server.Mode)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		return err
	}

	logger.Info("server exited gracefully")
	return nil
}

func mapEnvToGinMode(environment string) string {
	switch environment {
	case "production", "prod", "release":
		return "release"
	case "test", "testing":
		return "test"
	default:
		return "debug"
	}
}
