// Package worker implements the batch processing worker command. It
// consumes queued webhook events, accumulates them into batches, and
// submits ready batches to Salesforce.
package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/finrelay/finrelay/internal/application/bulk"
	"github.com/finrelay/finrelay/internal/infrastructure/accumulator"
	"github.com/finrelay/finrelay/internal/infrastructure/config"
	"github.com/finrelay/finrelay/internal/infrastructure/database"
	"github.com/finrelay/finrelay/internal/infrastructure/queue"
	"github.com/finrelay/finrelay/internal/infrastructure/ratelimit"
	"github.com/finrelay/finrelay/internal/infrastructure/repository"
	"github.com/finrelay/finrelay/internal/infrastructure/salesforce"
	"github.com/finrelay/finrelay/internal/shared/logger"
	"github.com/finrelay/finrelay/internal/shared/retry"
	"github.com/finrelay/finrelay/internal/shared/version"
)

var env string

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Start the batch sync worker",
		Long:  `Start the worker that drains the webhook queue, accumulates events into batches, and bulk-syncs them to Salesforce.`,
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

	if err := logger.Init(&cfg.Logger); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	log := logger.NewLogger()
	log.Infow("starting batch sync worker",
		"environment", env,
		"version", version.Version)

	if err := database.Init(&cfg.Database); err != nil {
		log.Fatalw("failed to initialize database", "error", err)
	}
	defer database.Close()

	if err := database.Migrate(&repository.BulkJobModel{}); err != nil {
		log.Fatalw("failed to run migrations", "error", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalw("failed to connect to redis", "error", err)
	}

	limiter := ratelimit.NewSlidingWindowLimiter(
		ratelimit.NewRedisCallStore(redisClient),
		cfg.RateLimit.ResourceID,
		ratelimit.TiersFromConfig(&cfg.RateLimit),
		log,
	)

	tokens, err := salesforce.NewJWTTokenProvider(&cfg.Salesforce, log)
	if err != nil {
		log.Fatalw("failed to initialize salesforce auth", "error", err)
	}

	policy := retry.NewPolicy(
		cfg.Retry.MaxAttempts,
		cfg.Retry.BackoffBase,
		time.Duration(cfg.Retry.BackoffMax)*time.Second,
		salesforce.DefaultRetryable,
		log,
	)

	bulkClient := salesforce.NewBulkClient(&cfg.Salesforce, &cfg.Bulk, tokens, limiter, policy, log)

	windowStore := accumulator.NewRedisWindowStore(redisClient, log)
	acc := accumulator.NewAccumulator(windowStore, &cfg.Batch, log)

	jobRepo := repository.NewBulkJobRepository(database.Get(), log)
	processor := bulk.NewProcessor(acc, bulkClient, jobRepo, log)

	q := queue.NewRedisQueue(redisClient, &cfg.Queue, log)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Infow("shutting down worker...")
		cancel()
	}()

	consume(ctx, q, processor, cfg.Queue.MaxMessages, log)

	log.Infow("worker exited gracefully")
	return nil
}

// consume runs the receive-process-requeue loop until ctx is cancelled.
func consume(ctx context.Context, q *queue.RedisQueue, processor *bulk.Processor, maxMessages int, log logger.Interface) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := q.ReceiveBatch(ctx, maxMessages)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorw("failed to receive messages", "error", err)
			time.Sleep(time.Second)
			continue
		}

		result := processor.ProcessMessages(ctx, messages)
		if len(result.RedeliverMessageIDs) == 0 {
			continue
		}

		redeliver := make([]queue.Message, 0, len(result.RedeliverMessageIDs))
		ids := make(map[string]struct{}, len(result.RedeliverMessageIDs))
		for _, id := range result.RedeliverMessageIDs {
			ids[id] = struct{}{}
		}
		for _, msg := range messages {
			if _, ok := ids[msg.ID]; ok {
				redeliver = append(redeliver, msg)
			}
		}

		if err := q.Requeue(ctx, redeliver); err != nil {
			log.Errorw("failed to requeue messages",
				"count", len(redeliver),
				"error", err,
			)
		}
	}
}
