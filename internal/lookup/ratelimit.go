package lookup

import (
	"context"
	"time"

	"fuzzysearch/internal/apierr"
	"fuzzysearch/internal/model"
)

// RateLimiter is the subset of the metadata store used for quota
// enforcement, kept separate from Store so callers that only need
// rate limiting (e.g. /limits) don't have to satisfy the lookup
// interfaces too.
type RateLimiter interface {
	IncrementRateLimit(ctx context.Context, keyID int64, bucket model.RateLimitBucket, limit, incr int) (allowed bool, count int, retryAfter int, err error)
}

// Charge increments bucket by incr against key's configured limit for
// that bucket, per spec §4.6's quota enforcement, and returns the
// quota remaining after the increment so callers can report it via
// x-rate-limit-remaining-<bucket>. A negative limit (Limit returns -1
// for unrecognized buckets) always succeeds and reports -1 remaining,
// which callers treat as "omit the header".
func Charge(ctx context.Context, rl RateLimiter, key model.ApiKey, bucket model.RateLimitBucket, incr int) (remaining int, err error) {
	limit := key.Limit(bucket)
	if limit < 0 {
		return -1, nil
	}
	allowed, count, retryAfter, err := rl.IncrementRateLimit(ctx, key.ID, bucket, limit, incr)
	if err != nil {
		return 0, err
	}
	remaining = limit - count
	if remaining < 0 {
		remaining = 0
	}
	if !allowed {
		return remaining, apierr.RateLimited(string(bucket), retryAfter)
	}
	return remaining, nil
}

// RetryAfterSeconds computes the spec's "60 - (unix_seconds mod 60)"
// formula directly, used by callers that need the value without
// going through a failed Charge (e.g. reporting it proactively).
func RetryAfterSeconds(now time.Time) int {
	return 60 - int(now.Unix()%60)
}
