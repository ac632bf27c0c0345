package accumulator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/finrelay/finrelay/internal/shared/logger"
)

// appendScript creates the window metadata if absent and appends the event
// in a single atomic step, so concurrent producers never race a
// read-then-write window bootstrap.
//
// KEYS[1] = meta hash, KEYS[2] = events list
// ARGV[1] = event JSON, ARGV[2] = now in unix ms, ARGV[3] = ttl seconds
//
// Returns {window_start_ms, record_count}.
var appendScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('HSET', KEYS[1], 'window_id', ARGV[2], 'window_start', ARGV[2])
end
local start = redis.call('HGET', KEYS[1], 'window_start')
local count = redis.call('RPUSH', KEYS[2], ARGV[1])
redis.call('EXPIRE', KEYS[1], ARGV[3])
redis.call('EXPIRE', KEYS[2], ARGV[3])
return {start, count}
`)

// RedisWindowStore keeps one window per batch type in Redis, metadata in a
// hash and events in a list.
type RedisWindowStore struct {
	client *redis.Client
	logger logger.Interface
}

var _ WindowStore = (*RedisWindowStore)(nil)

func NewRedisWindowStore(client *redis.Client, logger logger.Interface) *RedisWindowStore {
	return &RedisWindowStore{
		client: client,
		logger: logger,
	}
}

func (s *RedisWindowStore) metaKey(batchType BatchType) string {
	return fmt.Sprintf("batch:%s:meta", batchType)
}

func (s *RedisWindowStore) eventsKey(batchType BatchType) string {
	return fmt.Sprintf("batch:%s:events", batchType)
}

func (s *RedisWindowStore) Append(ctx context.Context, batchType BatchType, event json.RawMessage, at time.Time, ttl time.Duration) (AppendResult, error) {
	keys := []string{s.metaKey(batchType), s.eventsKey(batchType)}
	args := []interface{}{string(event), at.UnixMilli(), int64(ttl.Seconds())}

	raw, err := appendScript.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return AppendResult{}, fmt.Errorf("failed to append event to window: %w", err)
	}
	if len(raw) != 2 {
		return AppendResult{}, fmt.Errorf("unexpected append script reply length: %d", len(raw))
	}

	startMs, err := toInt64(raw[0])
	if err != nil {
		return AppendResult{}, fmt.Errorf("failed to parse window start: %w", err)
	}
	count, err := toInt64(raw[1])
	if err != nil {
		return AppendResult{}, fmt.Errorf("failed to parse record count: %w", err)
	}

	return AppendResult{
		WindowID:    startMs,
		WindowStart: time.UnixMilli(startMs),
		RecordCount: int(count),
	}, nil
}

func (s *RedisWindowStore) Get(ctx context.Context, batchType BatchType) (*Window, error) {
	meta, err := s.client.HGetAll(ctx, s.metaKey(batchType)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get window metadata: %w", err)
	}
	if len(meta) == 0 {
		return nil, nil
	}

	startMs, err := strconv.ParseInt(meta["window_start"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse window start %q: %w", meta["window_start"], err)
	}

	items, err := s.client.LRange(ctx, s.eventsKey(batchType), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get window events: %w", err)
	}

	events := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		events = append(events, json.RawMessage(item))
	}

	return &Window{
		BatchType:   batchType,
		WindowID:    startMs,
		Events:      events,
		WindowStart: time.UnixMilli(startMs),
		RecordCount: len(events),
	}, nil
}

func (s *RedisWindowStore) Delete(ctx context.Context, batchType BatchType) error {
	if err := s.client.Del(ctx, s.metaKey(batchType), s.eventsKey(batchType)).Err(); err != nil {
		return fmt.Errorf("failed to delete window: %w", err)
	}
	return nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected redis reply type %T", v)
	}
}
