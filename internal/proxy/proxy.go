package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/logger"
	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/metrics"
	"github.com/HanTheDev/tenant-edge-gateway/internal/pipeline"
)

const DefaultTimeout = 10 * time.Second

// Headers that authenticate the caller to the gateway and must never
// reach a tenant upstream.
var strippedHeaders = []string{"X-Admin-Token", "X-API-Key"}

var gatewayOwnedHeaders = []string{pipeline.RateLimitLimitHeader, pipeline.RateLimitRemainingHeader}

type Options struct {
	Timeout   time.Duration
	Transport http.RoundTripper
}

// NewTransport returns the pooled transport shared by every upstream.
func NewTransport(timeout time.Duration) *http.Transport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// outcome carries what the reverse proxy callbacks observed back to Run.
type outcome struct {
	start time.Time
	err   error
}

type outcomeKey struct{}

// Forwarder is the final pipeline stage. One instance, and so one
// ReverseProxy and transport, serves every tenant.
type Forwarder struct {
	proxy   *httputil.ReverseProxy
	timeout time.Duration
	metrics *metrics.Metrics
}

func NewForwarder(opts Options, m *metrics.Metrics) *Forwarder {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Transport == nil {
		opts.Transport = NewTransport(opts.Timeout)
	}

	f := &Forwarder{timeout: opts.Timeout, metrics: m}
	f.proxy = &httputil.ReverseProxy{
		Rewrite:        rewrite,
		Transport:      opts.Transport,
		ModifyResponse: f.modifyResponse,
		ErrorHandler:   f.errorHandler,
		ErrorLog:       zap.NewStdLog(logger.L()),
	}
	return f
}

func (f *Forwarder) Name() string { return "forward" }

func (f *Forwarder) Run(ctx context.Context, rc *pipeline.RequestContext) error {
	if rc.Upstream == nil {
		return pipeline.Internal("no_upstream", errors.New("forward stage reached without an upstream"))
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	out := &outcome{start: time.Now()}
	ctx = context.WithValue(ctx, outcomeKey{}, out)

	f.proxy.ServeHTTP(rc.Writer, rc.Request.WithContext(ctx))

	if out.err == nil {
		return nil
	}
	if errors.Is(out.err, context.Canceled) && rc.Request.Context().Err() != nil {
		return pipeline.UpstreamUnreachable("client_canceled", out.err)
	}
	f.metrics.UpstreamError(rc.TenantID())
	return pipeline.UpstreamUnreachable(transportReason(out.err), out.err)
}

func rewrite(pr *httputil.ProxyRequest) {
	rc, ok := pipeline.FromContext(pr.In.Context())
	if !ok || rc.Upstream == nil {
		return
	}

	target := *rc.Upstream
	target.RawQuery = pr.In.URL.RawQuery
	pr.Out.URL = &target
	pr.Out.Host = ""

	pr.SetXForwarded()
	for _, h := range strippedHeaders {
		pr.Out.Header.Del(h)
	}
	if rc.RequestID != "" {
		pr.Out.Header.Set("X-Request-ID", rc.RequestID)
	}
}

func (f *Forwarder) modifyResponse(resp *http.Response) error {
	ctx := resp.Request.Context()
	rc, _ := pipeline.FromContext(ctx)
	if rc != nil && rc.Writer != nil {
		for _, h := range gatewayOwnedHeaders {
			if rc.Writer.Header().Get(h) != "" {
				resp.Header.Del(h)
			}
		}
	}
	if out, ok := ctx.Value(outcomeKey{}).(*outcome); ok {
		f.metrics.ObserveUpstream(rc.TenantID(), resp.Request.URL.Host, time.Since(out.start))
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		f.metrics.UpstreamError(rc.TenantID())
		logger.From(ctx).Warn("upstream returned server error",
			logger.TenantID(rc.TenantID()),
			logger.Upstream(resp.Request.URL.Host),
			logger.Status(resp.StatusCode),
		)
	}
	return nil
}

// errorHandler records the failure and leaves the response to the
// orchestrator.
func (f *Forwarder) errorHandler(_ http.ResponseWriter, r *http.Request, err error) {
	if out, ok := r.Context().Value(outcomeKey{}).(*outcome); ok {
		out.err = err
	}
}

func transportReason(err error) string {
	var (
		dnsErr *net.DNSError
		netErr net.Error
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &dnsErr):
		return "dns"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "connection_refused"
	case errors.Is(err, syscall.ECONNRESET):
		return "connection_reset"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	}
	return "transport"
}
