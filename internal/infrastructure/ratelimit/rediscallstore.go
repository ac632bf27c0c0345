package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const callKeyPrefix = "ratelimit:"

// RedisCallStore stores call records in one sorted set per resource and
// tier, scored by millisecond timestamp. Expired members are trimmed on
// every write and the whole key carries a TTL as a safety net.
type RedisCallStore struct {
	client *redis.Client
	seq    atomic.Uint64
}

// NewRedisCallStore creates a Redis-backed call store.
func NewRedisCallStore(client *redis.Client) *RedisCallStore {
	return &RedisCallStore{client: client}
}

var _ CallStore = (*RedisCallStore)(nil)

func (s *RedisCallStore) buildKey(resourceID, tier string) string {
	return fmt.Sprintf("%s%s:%s", callKeyPrefix, resourceID, tier)
}

func (s *RedisCallStore) CountSince(ctx context.Context, resourceID, tier string, since time.Time) (int, error) {
	key := s.buildKey(resourceID, tier)
	min := strconv.FormatInt(since.UnixMilli(), 10)

	count, err := s.client.ZCount(ctx, key, min, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count call records: %w", err)
	}
	return int(count), nil
}

func (s *RedisCallStore) OldestSince(ctx context.Context, resourceID, tier string, since time.Time) (time.Time, bool, error) {
	key := s.buildKey(resourceID, tier)

	members, err := s.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   strconv.FormatInt(since.UnixMilli(), 10),
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query oldest call record: %w", err)
	}
	if len(members) == 0 {
		return time.Time{}, false, nil
	}

	return time.UnixMilli(int64(members[0].Score)), true, nil
}

func (s *RedisCallStore) Record(ctx context.Context, resourceID, tier string, at time.Time, ttl time.Duration) error {
	key := s.buildKey(resourceID, tier)
	ms := at.UnixMilli()

	// The sequence suffix keeps members unique when several calls land in
	// the same millisecond.
	member := fmt.Sprintf("%d-%d", ms, s.seq.Add(1))
	expiredBefore := strconv.FormatInt(at.Add(-ttl).UnixMilli(), 10)

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(ms), Member: member})
	pipe.ZRemRangeByScore(ctx, key, "0", expiredBefore)
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record call: %w", err)
	}
	return nil
}
