package tenant

import (
	"context"
	"errors"

	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/audit"
	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/metrics"
	"github.com/HanTheDev/tenant-edge-gateway/internal/pipeline"
)

const APIKeyHeader = "X-API-Key"

type Stage struct {
	dir     *Directory
	metrics *metrics.Metrics
	audit   audit.Sink
}

func NewStage(dir *Directory, m *metrics.Metrics, a audit.Sink) *Stage {
	if a == nil {
		a = audit.Nop()
	}
	return &Stage{dir: dir, metrics: m, audit: a}
}

func (s *Stage) Name() string { return "tenant" }

func (s *Stage) Run(ctx context.Context, rc *pipeline.RequestContext) error {
	rc.APIKey = rc.Request.Header.Get(APIKeyHeader)
	if rc.APIKey == "" {
		return s.deny(ctx, rc, "missing_api_key", "Missing API key", nil)
	}

	t, err := s.dir.ResolveByAPIKey(ctx, rc.APIKey)
	switch {
	case err == nil:
		rc.Tenant = t
		return nil
	case errors.Is(err, ErrNotFound):
		return s.deny(ctx, rc, "invalid_api_key", "Invalid API key", err)
	case errors.Is(err, ErrMalformed):
		return pipeline.Internal("malformed_tenant", err)
	default:
		return pipeline.Internal("store_unavailable", err)
	}
}

func (s *Stage) deny(ctx context.Context, rc *pipeline.RequestContext, reason, msg string, err error) error {
	s.metrics.AuthFailure("", reason)
	e := audit.Event(rc.Request, "auth", "deny")
	e.Reason = reason
	e.RequestID = rc.RequestID
	s.audit.Record(ctx, e)
	return pipeline.Unauthenticated(reason, msg, err)
}
