package auth

import (
	"context"
	"strings"
	"time"

	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/audit"
	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/metrics"
	"github.com/HanTheDev/tenant-edge-gateway/internal/pipeline"
)

// Stage verifies bearer tokens for tenants with an identity provider,
// unless the matched route opts out.
type Stage struct {
	jwks    *Cache
	leeway  time.Duration
	metrics *metrics.Metrics
	audit   audit.Sink
}

func NewStage(jwks *Cache, leeway time.Duration, m *metrics.Metrics, a audit.Sink) *Stage {
	if a == nil {
		a = audit.Nop()
	}
	return &Stage{jwks: jwks, leeway: leeway, metrics: m, audit: a}
}

func (s *Stage) Name() string { return "auth" }

func (s *Stage) Run(ctx context.Context, rc *pipeline.RequestContext) error {
	t := rc.Tenant
	if t == nil || t.IdP == nil {
		return nil
	}
	if rc.Route != nil && rc.Route.JWTDisabled() {
		return nil
	}

	token, ok := bearerToken(rc.Request.Header.Get("Authorization"))
	if !ok {
		return s.deny(ctx, rc, ReasonMissingBearer, "Missing bearer token", nil)
	}

	keys, err := s.jwks.Keys(ctx, t.ID, t.IdP.JWKSURI)
	if err != nil {
		return s.deny(ctx, rc, ReasonJWKSFetchFailed, "Unable to verify token", err)
	}

	claims, reason, err := Verify(token, keys, *t.IdP, s.leeway)
	if err != nil {
		return s.deny(ctx, rc, reason, "Invalid token", err)
	}
	rc.Identity = claims
	return nil
}

func bearerToken(h string) (string, bool) {
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (s *Stage) deny(ctx context.Context, rc *pipeline.RequestContext, reason, msg string, err error) error {
	s.metrics.AuthFailure(rc.TenantID(), reason)
	e := audit.Event(rc.Request, "auth", "deny")
	e.TenantID = rc.TenantID()
	e.Reason = reason
	e.RequestID = rc.RequestID
	if err != nil {
		e.Detail = err.Error()
	}
	s.audit.Record(ctx, e)
	return pipeline.Unauthenticated(reason, msg, err)
}
