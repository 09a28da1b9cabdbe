package webhook

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// attemptTTL bounds how long a job's attempt count survives; it only
// needs to outlive the retry window (3 attempts x 30s reservation),
// with headroom for a crash-and-restart.
const attemptTTL = 10 * time.Minute

// AttemptStore tracks how many times a send_webhook job has been
// attempted, keyed by job id, so redelivery after a crash resumes the
// count instead of resetting it. Modeled on
// internal/orchestrator/dedupe.go's DedupeStore interface shape.
type AttemptStore interface {
	Increment(ctx context.Context, jobID string) (attempt int, err error)
	Reset(ctx context.Context, jobID string) error
}

// RedisAttemptStore is a Redis-backed AttemptStore.
type RedisAttemptStore struct {
	client *redis.Client
}

func NewRedisAttemptStore(addr string) (*RedisAttemptStore, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisAttemptStore{client: c}, nil
}

func (s *RedisAttemptStore) Increment(ctx context.Context, jobID string) (int, error) {
	key := "webhook:attempts:" + jobID
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := s.client.Expire(ctx, key, attemptTTL).Err(); err != nil {
			return 0, err
		}
	}
	return int(n), nil
}

func (s *RedisAttemptStore) Reset(ctx context.Context, jobID string) error {
	return s.client.Del(ctx, "webhook:attempts:"+jobID).Err()
}
