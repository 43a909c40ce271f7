package pipeline

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/HanTheDev/tenant-edge-gateway/internal/models"
)

type State int

const (
	StateStart State = iota
	StateTenantResolved
	StateRouteResolved
	StateAuthenticated
	StateRateChecked
	StateForwarded
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateTenantResolved:
		return "tenant_resolved"
	case StateRouteResolved:
		return "route_resolved"
	case StateAuthenticated:
		return "authenticated"
	case StateRateChecked:
		return "rate_checked"
	case StateForwarded:
		return "forwarded"
	default:
		return "unknown"
	}
}

// RequestContext is the per-request state threaded through the stages. It
// is owned by the orchestrator and never shared between requests.
type RequestContext struct {
	RequestID string
	Request   *http.Request
	Writer    http.ResponseWriter
	Start     time.Time
	State     State

	APIKey   string
	Tenant   *models.Tenant
	Path     string
	Route    *models.Route
	Upstream *url.URL
	Identity map[string]any
}

func (rc *RequestContext) TenantID() string {
	if rc == nil || rc.Tenant == nil {
		return ""
	}
	return rc.Tenant.ID
}

// Response headers the gateway sets itself. They take precedence over an
// upstream header of the same name.
const (
	RateLimitLimitHeader     = "X-RateLimit-Limit"
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
)

type rcKey struct{}

// WithRequestContext stores rc on ctx so http-level hooks (the reverse
// proxy's rewrite and error handlers) can reach it.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, rcKey{}, rc)
}

func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(rcKey{}).(*RequestContext)
	return rc, ok
}
