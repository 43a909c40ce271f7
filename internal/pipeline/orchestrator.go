package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/logger"
	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/metrics"
)

// StatusClientClosedRequest is recorded (never sent) when the caller goes
// away before a response is produced.
const StatusClientClosedRequest = 499

// Stage consumes a request context and either advances it or terminates
// the request with an error.
type Stage interface {
	Name() string
	Run(ctx context.Context, rc *RequestContext) error
}

// Stages lists the pipeline in its only valid order. Route resolution runs
// before authentication because the route decides whether a JWT is needed;
// authentication runs before rate limiting so only authorized traffic is
// charged.
type Stages struct {
	Tenant    Stage
	Route     Stage
	Auth      Stage
	RateLimit Stage
	Forward   Stage
}

type step struct {
	stage Stage
	next  State
}

type Orchestrator struct {
	steps   []step
	metrics *metrics.Metrics
}

func New(s Stages, m *metrics.Metrics) (*Orchestrator, error) {
	steps := []step{
		{s.Tenant, StateTenantResolved},
		{s.Route, StateRouteResolved},
		{s.Auth, StateAuthenticated},
		{s.RateLimit, StateRateChecked},
		{s.Forward, StateForwarded},
	}
	for _, st := range steps {
		if st.stage == nil {
			return nil, fmt.Errorf("pipeline: stage leading to %s is nil", st.next)
		}
	}
	return &Orchestrator{steps: steps, metrics: m}, nil
}

func (o *Orchestrator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	done := o.metrics.TrackInflight()
	defer done()

	rec := &statusRecorder{ResponseWriter: w}
	rc := &RequestContext{
		RequestID: logger.RequestIDFrom(r.Context()),
		Writer:    rec,
		Start:     time.Now(),
		State:     StateStart,
	}
	ctx := WithRequestContext(r.Context(), rc)
	rc.Request = r.WithContext(ctx)

	if err := o.Run(ctx, rc); err != nil {
		o.fail(ctx, rc, rec, err)
	}

	status := rec.status
	if status == 0 {
		status = http.StatusOK
	}
	o.metrics.ObserveRequest(rc.TenantID(), status, time.Since(rc.Start))
}

// Run drives rc through every stage once, stopping at the first failure.
func (o *Orchestrator) Run(ctx context.Context, rc *RequestContext) (err error) {
	current := ""
	defer func() {
		if p := recover(); p != nil {
			if p == http.ErrAbortHandler {
				panic(p)
			}
			err = Internal("panic", fmt.Errorf("stage %s panicked: %v", current, p))
		}
	}()

	for _, st := range o.steps {
		current = st.stage.Name()
		if err := st.stage.Run(ctx, rc); err != nil {
			return err
		}
		rc.State = st.next
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, rc *RequestContext, rec *statusRecorder, err error) {
	pe := Classify(err)
	log := logger.From(ctx).With(
		logger.TenantID(rc.TenantID()),
		zap.String("state", rc.State.String()),
		logger.Reason(pe.Reason),
	)

	if errors.Is(err, context.Canceled) && rc.Request.Context().Err() != nil {
		if rec.status == 0 {
			rec.status = StatusClientClosedRequest
		}
		log.Debug("client went away", zap.Error(err))
		return
	}

	switch pe.Kind {
	case KindInternal:
		o.metrics.InternalError(pe.Reason)
		log.Error("request failed", zap.Error(err))
	case KindUpstreamUnreachable:
		log.Warn("upstream unreachable", zap.Error(err))
	default:
		log.Info("request rejected", zap.String("kind", pe.Kind.String()))
	}

	if rec.wroteHeader {
		return
	}
	WriteError(rec, pe)
}

type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// WriteError renders e as the gateway's JSON error body.
func WriteError(w http.ResponseWriter, e *Error) {
	status := e.Kind.Status()
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    msg,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

// WriteHeader forwards informational responses such as 103 Early Hints
// without latching them; the final status is recorded once.
func (r *statusRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	if informational(code) {
		r.ResponseWriter.WriteHeader(code)
		return
	}
	r.status = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

// informational reports 1xx codes other than 101, which ends the exchange.
func informational(code int) bool {
	return code >= 100 && code < 200 && code != http.StatusSwitchingProtocols
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
