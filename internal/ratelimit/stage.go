package ratelimit

import (
	"context"
	"math"
	"strconv"

	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/audit"
	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/logger"
	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/metrics"
	"github.com/HanTheDev/tenant-edge-gateway/internal/pipeline"
)

type Stage struct {
	limiter *Limiter
	metrics *metrics.Metrics
	audit   audit.Sink
}

func NewStage(l *Limiter, m *metrics.Metrics, a audit.Sink) *Stage {
	if a == nil {
		a = audit.Nop()
	}
	return &Stage{limiter: l, metrics: m, audit: a}
}

func (s *Stage) Name() string { return "ratelimit" }

// Run lets requests without a resolved tenant through. Any store failure
// for a known tenant rejects the request.
func (s *Stage) Run(ctx context.Context, rc *pipeline.RequestContext) error {
	t := rc.Tenant
	if t == nil {
		logger.From(ctx).Debug("rate limit skipped: no tenant")
		return nil
	}

	res, err := s.limiter.Allow(ctx, t.ID, t.RateLimit)
	if err != nil {
		return pipeline.Internal("ratelimit_store", err)
	}

	h := rc.Writer.Header()
	h.Set(pipeline.RateLimitLimitHeader, strconv.FormatInt(res.Limit, 10))
	h.Set(pipeline.RateLimitRemainingHeader, strconv.FormatInt(res.Remaining, 10))
	if res.Allowed {
		return nil
	}

	h.Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
	s.metrics.RateLimited(t.ID)
	e := audit.Event(rc.Request, "ratelimit", "deny")
	e.TenantID = t.ID
	e.Reason = "rate_limited"
	e.RequestID = rc.RequestID
	s.audit.Record(ctx, e)
	return pipeline.RateLimited("Rate limit exceeded")
}
