// Package server assembles the gateway: the data-plane pipeline, tenant
// self-service views and the control plane behind one router.
package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/HanTheDev/tenant-edge-gateway/internal/admin"
	"github.com/HanTheDev/tenant-edge-gateway/internal/auth"
	"github.com/HanTheDev/tenant-edge-gateway/internal/cache"
	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/audit"
	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/metrics"
	"github.com/HanTheDev/tenant-edge-gateway/internal/pipeline"
	"github.com/HanTheDev/tenant-edge-gateway/internal/proxy"
	"github.com/HanTheDev/tenant-edge-gateway/internal/ratelimit"
	"github.com/HanTheDev/tenant-edge-gateway/internal/route"
	"github.com/HanTheDev/tenant-edge-gateway/internal/store"
	"github.com/HanTheDev/tenant-edge-gateway/internal/telemetry"
	"github.com/HanTheDev/tenant-edge-gateway/internal/tenant"
)

type Options struct {
	Store      store.Store
	Prefix     string
	AdminToken string

	JWKSTimeout     time.Duration
	JWTLeeway       time.Duration
	UpstreamTimeout time.Duration
	TenantCacheTTL  time.Duration

	// Optional collaborators. Nil values get working defaults.
	Metrics     *metrics.Metrics
	Audit       audit.Sink
	AuditEvents admin.AuditReader
	Transport   http.RoundTripper
	JWKSClient  *http.Client
	Clock       func() time.Time

	Tracing bool
}

// Gateway is a fully wired gateway. Handler is safe for concurrent use.
type Gateway struct {
	Handler http.Handler
	Metrics *metrics.Metrics
	JWKS    *auth.Cache
}

func New(opts Options) (*Gateway, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("server: store is required")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Audit == nil {
		opts.Audit = audit.Nop()
	}
	prefix := strings.TrimRight(opts.Prefix, "/")

	transport := opts.Transport
	if transport == nil {
		transport = proxy.NewTransport(opts.UpstreamTimeout)
	}
	jwksClient := opts.JWKSClient
	if opts.Tracing {
		transport = telemetry.Transport(transport)
		if jwksClient == nil {
			jwksClient = &http.Client{Transport: telemetry.Transport(http.DefaultTransport)}
		}
	}

	m := opts.Metrics
	tenantCache := cache.NewTenantCache(opts.TenantCacheTTL)
	dir := tenant.NewDirectory(opts.Store, tenantCache)
	jwks := auth.NewCache(jwksClient, opts.JWKSTimeout, m)

	limiter := ratelimit.NewLimiter(opts.Store)
	if opts.Clock != nil {
		limiter.WithClock(opts.Clock)
	}

	tenantStage := tenant.NewStage(dir, m, opts.Audit)
	orchestrator, err := pipeline.New(pipeline.Stages{
		Tenant:    tenantStage,
		Route:     route.NewAuthorizer(prefix, m, opts.Audit),
		Auth:      auth.NewStage(jwks, opts.JWTLeeway, m, opts.Audit),
		RateLimit: ratelimit.NewStage(limiter, m, opts.Audit),
		Forward:   proxy.NewForwarder(proxy.Options{Timeout: opts.UpstreamTimeout, Transport: transport}, m),
	}, m)
	if err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	router.Use(RequestID, AccessLog)

	router.HandleFunc("/health", healthHandler).Methods("GET")

	self := &selfService{stage: tenantStage, metrics: m}
	router.HandleFunc("/tenant/me", self.me).Methods("GET")
	router.HandleFunc("/tenant/metrics", self.tenantMetrics).Methods("GET")

	admin.NewAdminHandler(opts.Store, admin.Options{
		Token:   opts.AdminToken,
		Cache:   tenantCache,
		Metrics: m,
		Audit:   opts.Audit,
		Events:  opts.AuditEvents,
	}).RegisterRoutes(router)

	if prefix == "" {
		router.PathPrefix("/").Handler(orchestrator)
	} else {
		router.Path(prefix).Handler(orchestrator)
		router.PathPrefix(prefix + "/").Handler(orchestrator)
	}

	var h http.Handler = router
	if opts.Tracing {
		h = telemetry.Middleware("tenant-edge-gateway")(h)
	}

	return &Gateway{Handler: h, Metrics: m, JWKS: jwks}, nil
}

// Close releases the per-tenant JWKS handles.
func (g *Gateway) Close() error {
	return g.JWKS.Close()
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "1.0.0",
	})
}
