package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/finrelay/finrelay/internal/shared/config"
	apperrors "github.com/finrelay/finrelay/internal/shared/errors"
	"github.com/finrelay/finrelay/internal/shared/id"
	"github.com/finrelay/finrelay/internal/shared/logger"
)

const (
	queueKey      = "webhook:queue"
	deadLetterKey = "webhook:queue:dead"

	defaultWaitTime = 5 * time.Second
)

// RedisQueue is a Redis list backed queue. Producers LPUSH, consumers pop
// from the tail so delivery order follows arrival order.
type RedisQueue struct {
	client      *redis.Client
	logger      logger.Interface
	waitTime    time.Duration
	maxReceives int
}

var (
	_ Producer = (*RedisQueue)(nil)
	_ Consumer = (*RedisQueue)(nil)
)

func NewRedisQueue(client *redis.Client, cfg *config.QueueConfig, log logger.Interface) *RedisQueue {
	q := &RedisQueue{
		client:      client,
		logger:      log,
		waitTime:    defaultWaitTime,
		maxReceives: DefaultMaxReceives,
	}
	if cfg != nil && cfg.WaitTimeSeconds > 0 {
		q.waitTime = time.Duration(cfg.WaitTimeSeconds) * time.Second
	}
	if cfg != nil && cfg.MaxReceives > 0 {
		q.maxReceives = cfg.MaxReceives
	}
	return q
}

func (q *RedisQueue) Enqueue(ctx context.Context, body []byte) (string, error) {
	msgID, err := id.NewMessageID()
	if err != nil {
		return "", fmt.Errorf("failed to generate message id: %w", err)
	}

	msg := Message{ID: msgID, Body: body}
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := q.client.LPush(ctx, queueKey, payload).Err(); err != nil {
		return "", apperrors.NewQueueError("failed to enqueue message", err.Error())
	}
	return msgID, nil
}

func (q *RedisQueue) ReceiveBatch(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 {
		max = 10
	}

	// Block for the first message, then drain up to max without waiting.
	res, err := q.client.BRPop(ctx, q.waitTime, queueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, apperrors.NewQueueError("failed to receive messages", err.Error())
	}

	messages := make([]Message, 0, max)
	msg, err := decodeMessage(res[1])
	if err != nil {
		q.logger.Warnw("dropping undecodable queue entry", "error", err)
	} else {
		messages = append(messages, msg)
	}

	for len(messages) < max {
		raw, err := q.client.RPop(ctx, queueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			return messages, apperrors.NewQueueError("failed to receive messages", err.Error())
		}
		msg, err := decodeMessage(raw)
		if err != nil {
			q.logger.Warnw("dropping undecodable queue entry", "error", err)
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

func (q *RedisQueue) Requeue(ctx context.Context, messages []Message) error {
	for _, msg := range messages {
		msg.ReceiveCount++
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message %s: %w", msg.ID, err)
		}

		if msg.ReceiveCount >= q.maxReceives {
			q.logger.Errorw("parking message on dead letter list",
				"message_id", msg.ID,
				"receive_count", msg.ReceiveCount,
			)
			if err := q.client.RPush(ctx, deadLetterKey, payload).Err(); err != nil {
				return apperrors.NewQueueError("failed to park message", err.Error())
			}
			continue
		}

		// RPUSH puts redeliveries at the consumer end of the list so they
		// are retried before newer arrivals.
		if err := q.client.RPush(ctx, queueKey, payload).Err(); err != nil {
			return apperrors.NewQueueError("failed to requeue message", err.Error())
		}
	}
	return nil
}

func decodeMessage(raw string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	return msg, nil
}
