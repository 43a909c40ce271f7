package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HanTheDev/tenant-edge-gateway/internal/models"
	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/metrics"
	"github.com/HanTheDev/tenant-edge-gateway/internal/pipeline"
	"github.com/HanTheDev/tenant-edge-gateway/internal/store"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type brokenCounter struct {
	incrErr, expireErr error
}

func (b brokenCounter) Incr(context.Context, string) (int64, error) { return 1, b.incrErr }

func (b brokenCounter) Expire(context.Context, string, time.Duration) error { return b.expireErr }

func TestAllow_FixedWindow(t *testing.T) {
	kv := store.NewMemory()
	clock := &fakeClock{t: time.Unix(6000, 0)}
	l := NewLimiter(kv).WithClock(clock.Now)
	rl := models.RateLimit{WindowSeconds: 60, MaxRequests: 100}
	ctx := context.Background()

	for i := 1; i <= 100; i++ {
		res, err := l.Allow(ctx, "acme", rl)
		require.NoError(t, err)
		require.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, int64(100-i), res.Remaining)
	}

	res, err := l.Allow(ctx, "acme", rl)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)
	assert.Equal(t, 60*time.Second, res.RetryAfter)

	clock.Advance(60 * time.Second)
	res, err = l.Allow(ctx, "acme", rl)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.CurrentHits)
}

func TestAllow_SetsWindowTTLOnFirstHit(t *testing.T) {
	kv := store.NewMemory()
	clock := &fakeClock{t: time.Unix(6000, 0)}
	l := NewLimiter(kv).WithClock(clock.Now)

	_, err := l.Allow(context.Background(), "acme", models.RateLimit{WindowSeconds: 30, MaxRequests: 5})
	require.NoError(t, err)

	ttl, ok := kv.TTL(Key("acme", 200))
	require.True(t, ok)
	assert.InDelta(t, 30*time.Second, ttl, float64(time.Second))
}

func TestAllow_BoundaryBurst(t *testing.T) {
	kv := store.NewMemory()
	clock := &fakeClock{t: time.Unix(6059, 0)}
	l := NewLimiter(kv).WithClock(clock.Now)
	rl := models.RateLimit{WindowSeconds: 60, MaxRequests: 10}
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 10; i++ {
		res, err := l.Allow(ctx, "acme", rl)
		require.NoError(t, err)
		if res.Allowed {
			allowed++
		}
	}
	clock.Advance(time.Second)
	for i := 0; i < 10; i++ {
		res, err := l.Allow(ctx, "acme", rl)
		require.NoError(t, err)
		if res.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 20, allowed)
}

func TestAllow_TenantsAreIndependent(t *testing.T) {
	kv := store.NewMemory()
	l := NewLimiter(kv)
	rl := models.RateLimit{WindowSeconds: 60, MaxRequests: 1}
	ctx := context.Background()

	res, err := l.Allow(ctx, "a", rl)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	res, err = l.Allow(ctx, "b", rl)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestAllow_DefaultsForUnsetLimits(t *testing.T) {
	l := NewLimiter(store.NewMemory())
	res, err := l.Allow(context.Background(), "acme", models.RateLimit{})
	require.NoError(t, err)
	assert.Equal(t, int64(models.DefaultMaxRequests), res.Limit)
}

func TestAllow_StoreErrors(t *testing.T) {
	rl := models.RateLimit{WindowSeconds: 60, MaxRequests: 1}

	_, err := NewLimiter(brokenCounter{incrErr: errors.New("down")}).Allow(context.Background(), "acme", rl)
	assert.Error(t, err)

	_, err = NewLimiter(brokenCounter{expireErr: errors.New("down")}).Allow(context.Background(), "acme", rl)
	assert.Error(t, err)
}

func newRC(tn *models.Tenant) (*pipeline.RequestContext, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	return &pipeline.RequestContext{
		Request: httptest.NewRequest(http.MethodGet, "/api/orders", nil),
		Writer:  rec,
		Tenant:  tn,
	}, rec
}

func TestStage(t *testing.T) {
	tn := &models.Tenant{ID: "acme", RateLimit: models.RateLimit{WindowSeconds: 60, MaxRequests: 2}}
	m := metrics.New()
	clock := &fakeClock{t: time.Unix(6000, 0)}
	st := NewStage(NewLimiter(store.NewMemory()).WithClock(clock.Now), m, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		rc, rec := newRC(tn)
		require.NoError(t, st.Run(ctx, rc))
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	clock.Advance(15 * time.Second)
	rc, rec := newRC(tn)
	pe := pipeline.Classify(st.Run(ctx, rc))
	assert.Equal(t, pipeline.KindRateLimited, pe.Kind)
	assert.Equal(t, http.StatusTooManyRequests, pe.Kind.Status())
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "45", rec.Header().Get("Retry-After"))

	s, err := m.Summary("acme")
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.Requests.RateLimited)
}

func TestStage_FailsOpenWithoutTenant(t *testing.T) {
	st := NewStage(NewLimiter(brokenCounter{incrErr: errors.New("down")}), nil, nil)
	rc, _ := newRC(nil)
	assert.NoError(t, st.Run(context.Background(), rc))
}

func TestStage_FailsClosedOnStoreError(t *testing.T) {
	st := NewStage(NewLimiter(brokenCounter{incrErr: errors.New("down")}), nil, nil)
	rc, _ := newRC(&models.Tenant{ID: "acme"})
	pe := pipeline.Classify(st.Run(context.Background(), rc))
	assert.Equal(t, pipeline.KindInternal, pe.Kind)
}
