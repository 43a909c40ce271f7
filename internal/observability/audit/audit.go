package audit

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/HanTheDev/tenant-edge-gateway/internal/models"
)

// Sink receives audit records. Implementations must not block the request
// path and must swallow their own failures.
type Sink interface {
	Record(ctx context.Context, e models.AuditEvent)
}

// Writer is a durable audit destination driven by Async.
type Writer interface {
	WriteAudit(ctx context.Context, e models.AuditEvent) error
}

type nopSink struct{}

func (nopSink) Record(context.Context, models.AuditEvent) {}

func Nop() Sink { return nopSink{} }

// Event pre-fills the request-derived fields of an audit record.
func Event(r *http.Request, category, decision string) models.AuditEvent {
	e := models.AuditEvent{
		Time:     time.Now().UTC(),
		Plane:    "data",
		Category: category,
		Decision: decision,
	}
	if r != nil {
		e.Method = r.Method
		e.Path = r.URL.RequestURI()
		e.IP = clientIP(r)
	}
	return e
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type LogSink struct {
	log *zap.Logger
}

func NewLogSink(l *zap.Logger) *LogSink {
	return &LogSink{log: l.Named("audit")}
}

func (s *LogSink) Record(_ context.Context, e models.AuditEvent) {
	fields := []zap.Field{
		zap.String("plane", e.Plane),
		zap.String("category", e.Category),
		zap.String("decision", e.Decision),
		zap.String("tenant_id", e.TenantID),
		zap.String("reason", e.Reason),
		zap.String("method", e.Method),
		zap.String("path", e.Path),
		zap.String("ip", e.IP),
		zap.String("request_id", e.RequestID),
	}
	if e.Detail != "" {
		fields = append(fields, zap.String("detail", e.Detail))
	}
	if e.Decision == "allow" {
		s.log.Info("audit", fields...)
		return
	}
	s.log.Warn("audit", fields...)
}

type Multi []Sink

func (m Multi) Record(ctx context.Context, e models.AuditEvent) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, e)
		}
	}
}

// Async queues records for a Writer on a background goroutine. Records are
// dropped when the queue is full.
type Async struct {
	w       Writer
	log     *zap.Logger
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	ch      chan models.AuditEvent
	done    chan struct{}
	dropped atomic.Int64
}

func NewAsync(w Writer, buffer int, l *zap.Logger) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	a := &Async{
		w:       w,
		log:     l,
		timeout: 5 * time.Second,
		ch:      make(chan models.AuditEvent, buffer),
		done:    make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *Async) Record(_ context.Context, e models.AuditEvent) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.ch <- e:
	default:
		a.dropped.Add(1)
	}
}

func (a *Async) Dropped() int64 { return a.dropped.Load() }

func (a *Async) loop() {
	defer close(a.done)
	for e := range a.ch {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.w.WriteAudit(ctx, e); err != nil {
			a.log.Warn("audit write failed", zap.Error(err), zap.String("category", e.Category))
		}
		cancel()
	}
}

// Close stops accepting records and waits for the queue to drain.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()
	<-a.done
}
