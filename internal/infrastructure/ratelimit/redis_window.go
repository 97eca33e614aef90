package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient creates a Redis client with connection pooling and
// verifies connectivity before handing it out.
func NewRedisClient(address, password string, db, poolSize int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         address,
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisWindowLimiter is a sliding-window counter over a Redis sorted
// set: one member per request, scored by arrival time, trimmed to the
// window on every check. Shared across instances, which a local token
// bucket cannot offer. Fails open when Redis is unreachable.
type RedisWindowLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	logger *zap.SugaredLogger
}

func NewRedisWindowLimiter(client *redis.Client, limit int, window time.Duration, logger *zap.SugaredLogger) *RedisWindowLimiter {
	return &RedisWindowLimiter{
		client: client,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

func (l *RedisWindowLimiter) Allow(ctx context.Context, addr string) (bool, error) {
	key := "facecast:beacon:window:" + addr
	now := time.Now()
	cutoff := now.Add(-l.window)

	// Trim, record and count in one transaction: the attempt is added
	// before counting, so two concurrent checks from the same address
	// cannot both read a count just under the limit. Rejected attempts
	// keep holding their window slot.
	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", cutoff.UnixNano()))
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.NewString(),
	})
	count := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, l.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		// An unreachable Redis must not take the beacon endpoint down
		// with it.
		l.logger.Warnw("window check failed, allowing request", "addr", addr, "error", err)
		return true, nil
	}

	return count.Val() <= int64(l.limit), nil
}
