package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// opTimeout bounds every store round trip so a slow Redis cannot stall the
// request path; callers treat the resulting error as fail-open.
const opTimeout = 500 * time.Millisecond

// RedisStore implements Store on a Redis connection.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to the store at the given URL
// (redis://[user:pass@]host:port/db).
func NewRedisStore(rawURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{rdb: redis.NewClient(opts)}, nil
}

// Increment runs INCR and EXPIRE NX in one pipelined round trip. EXPIRE NX
// only sets a TTL when the key has none, so the window expiry is anchored
// to the first increment and never slides.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var incr *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment %q: %w", key, err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
