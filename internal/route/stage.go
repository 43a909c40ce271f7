package route

import (
	"context"
	"errors"
	"fmt"

	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/audit"
	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/metrics"
	"github.com/HanTheDev/tenant-edge-gateway/internal/pipeline"
)

type Authorizer struct {
	prefix  string
	metrics *metrics.Metrics
	audit   audit.Sink
}

func NewAuthorizer(prefix string, m *metrics.Metrics, a audit.Sink) *Authorizer {
	if a == nil {
		a = audit.Nop()
	}
	return &Authorizer{prefix: prefix, metrics: m, audit: a}
}

func (a *Authorizer) Name() string { return "route" }

func (a *Authorizer) Run(ctx context.Context, rc *pipeline.RequestContext) error {
	t := rc.Tenant
	if t == nil {
		return pipeline.Internal("no_tenant", errors.New("route stage reached without a tenant"))
	}

	rc.Path = NormalizePath(rc.Request.URL.Path, a.prefix)

	if t.UpstreamBaseURL == "" {
		return a.deny(ctx, rc, "upstream_not_configured", "Upstream not configured for tenant")
	}

	r, ok := Match(t.AllowedRoutes, rc.Path)
	if !ok {
		return a.deny(ctx, rc, "route_not_allowed", "Route not allowed for tenant")
	}

	target, err := Target(t.UpstreamBaseURL, rc.Path)
	if err != nil {
		return pipeline.Internal("bad_upstream", fmt.Errorf("tenant %s upstream: %w", t.ID, err))
	}

	rc.Route = r
	rc.Upstream = target
	return nil
}

func (a *Authorizer) deny(ctx context.Context, rc *pipeline.RequestContext, reason, msg string) error {
	a.metrics.RouteDenied(rc.TenantID())
	e := audit.Event(rc.Request, "route", "deny")
	e.TenantID = rc.TenantID()
	e.Reason = reason
	e.RequestID = rc.RequestID
	a.audit.Record(ctx, e)
	return pipeline.Forbidden(reason, msg)
}
