package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/HanTheDev/tenant-edge-gateway/internal/models"
)

// Counter is the atomic counter the limiter needs from the shared store.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

type Result struct {
	Allowed     bool
	Limit       int64
	Remaining   int64
	RetryAfter  time.Duration
	CurrentHits int64
}

// Limiter is a fixed-window counter per tenant. Windows are aligned to
// the Unix epoch, so every gateway instance sharing a store agrees on
// window boundaries.
type Limiter struct {
	counter Counter
	now     func() time.Time
}

func NewLimiter(c Counter) *Limiter {
	return &Limiter{counter: c, now: time.Now}
}

// WithClock replaces the time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

func Key(tenantID string, window int64) string {
	return fmt.Sprintf("rl:%s:%d", tenantID, window)
}

// Allow charges one request against the tenant's current window.
func (l *Limiter) Allow(ctx context.Context, tenantID string, rl models.RateLimit) (Result, error) {
	rl = rl.Effective()
	now := l.now().Unix()
	window := now / rl.WindowSeconds
	key := Key(tenantID, window)

	hits, err := l.counter.Incr(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: incr %s: %w", key, err)
	}
	if hits == 1 {
		if err := l.counter.Expire(ctx, key, time.Duration(rl.WindowSeconds)*time.Second); err != nil {
			return Result{}, fmt.Errorf("ratelimit: expire %s: %w", key, err)
		}
	}

	res := Result{
		Allowed:     hits <= rl.MaxRequests,
		Limit:       rl.MaxRequests,
		Remaining:   max(rl.MaxRequests-hits, 0),
		CurrentHits: hits,
	}
	if !res.Allowed {
		res.RetryAfter = time.Duration((window+1)*rl.WindowSeconds-now) * time.Second
	}
	return res, nil
}
