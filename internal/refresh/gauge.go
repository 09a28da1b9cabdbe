package refresh

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	healthGaugeKey = "refresh:fa:registered_online"
	healthGaugeTTL = 5 * time.Minute
)

// UpstreamHealthChecker asks the upstream directly for a live reading.
// FurAffinity's online-users page exposes a "users online"
// breakdown by category; the registered count is what the spec's
// throttle threshold is measured against.
type UpstreamHealthChecker interface {
	RegisteredOnline(ctx context.Context) (int, error)
}

// HealthGauge caches the upstream registered-user count in Redis with
// a 5-minute TTL, so every refresh-worker replica shares one poll
// instead of each hitting the upstream health endpoint independently.
// Modeled on internal/skills/redis_cache.go's get-or-fetch pattern:
// read cached value, fall back to a live call on miss/expiry, write
// back with a TTL.
type HealthGauge struct {
	client  *redis.Client
	checker UpstreamHealthChecker
}

func NewHealthGauge(client *redis.Client, checker UpstreamHealthChecker) *HealthGauge {
	return &HealthGauge{client: client, checker: checker}
}

// RegisteredOnline returns the cached count, refreshing it from the
// upstream on a cache miss or expiry.
func (g *HealthGauge) RegisteredOnline(ctx context.Context) (int, error) {
	if g.client != nil {
		val, err := g.client.Get(ctx, healthGaugeKey).Result()
		if err == nil {
			if n, convErr := strconv.Atoi(val); convErr == nil {
				return n, nil
			}
		}
	}

	n, err := g.checker.RegisteredOnline(ctx)
	if err != nil {
		return 0, err
	}

	if g.client != nil {
		_ = g.client.Set(ctx, healthGaugeKey, strconv.Itoa(n), healthGaugeTTL).Err()
	}
	return n, nil
}
