package audit

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/HanTheDev/tenant-edge-gateway/internal/models"
)

type memWriter struct {
	mu     sync.Mutex
	events []models.AuditEvent
	err    error
	block  chan struct{}
}

func (w *memWriter) WriteAudit(_ context.Context, e models.AuditEvent) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, e)
	return w.err
}

func TestEvent_FillsRequestFields(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/orders?x=1", nil)
	r.RemoteAddr = "10.0.0.1:5555"

	e := Event(r, "rate_limit", "throttle")
	assert.Equal(t, "data", e.Plane)
	assert.Equal(t, "GET", e.Method)
	assert.Equal(t, "/api/orders?x=1", e.Path)
	assert.Equal(t, "10.0.0.1", e.IP)
	assert.False(t, e.Time.IsZero())
}

func TestLogSink_DenyIsWarn(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := NewLogSink(zap.New(core))

	s.Record(context.Background(), models.AuditEvent{Category: "jwt", Decision: "deny", TenantID: "t1"})
	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "t1", entries[0].ContextMap()["tenant_id"])
}

func TestAsync_DrainsOnClose(t *testing.T) {
	w := &memWriter{}
	a := NewAsync(w, 16, zap.NewNop())
	for i := 0; i < 10; i++ {
		a.Record(context.Background(), models.AuditEvent{Category: "auth"})
	}
	a.Close()

	assert.Len(t, w.events, 10)
	// no panic after close
	a.Record(context.Background(), models.AuditEvent{})
}

func TestAsync_DropsWhenFull(t *testing.T) {
	w := &memWriter{block: make(chan struct{})}
	a := NewAsync(w, 1, zap.NewNop())

	for i := 0; i < 5; i++ {
		a.Record(context.Background(), models.AuditEvent{})
	}
	close(w.block)
	a.Close()

	assert.Positive(t, a.Dropped())
	assert.Equal(t, int64(5), a.Dropped()+int64(len(w.events)))
}

func TestAsync_WriterErrorsAreSwallowed(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	w := &memWriter{err: errors.New("db down")}
	a := NewAsync(w, 4, zap.New(core))
	a.Record(context.Background(), models.AuditEvent{Category: "jwt"})
	a.Close()

	assert.Equal(t, 1, logs.FilterMessage("audit write failed").Len())
}

func TestMulti_SkipsNil(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m := Multi{nil, NewLogSink(zap.New(core)), Nop()}
	m.Record(context.Background(), models.AuditEvent{Decision: "allow"})
	assert.Equal(t, 1, logs.Len())
}
