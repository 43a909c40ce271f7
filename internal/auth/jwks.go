package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-jose/go-jose/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/logger"
	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/metrics"
)

const (
	DefaultJWKSTimeout = 5 * time.Second
	maxJWKSBytes       = 1 << 20
)

var (
	ErrEmptyJWKS   = errors.New("jwks: no usable keys")
	ErrCacheClosed = errors.New("jwks: cache closed")
)

// KeySet is a parsed JWKS document. Keys without a kid are only reachable
// through All.
type KeySet struct {
	byKID map[string]any
	all   []any
}

func (ks *KeySet) Lookup(kid string) (any, bool) {
	k, ok := ks.byKID[kid]
	return k, ok
}

func (ks *KeySet) All() []any { return ks.all }

func (ks *KeySet) Len() int { return len(ks.all) }

// ParseJWKS decodes a JWKS document. Keys that go-jose rejects, symmetric
// keys and keys with use other than "sig" are skipped.
func ParseJWKS(b []byte) (*KeySet, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("jwks: decode: %w", err)
	}

	ks := &KeySet{byKID: make(map[string]any)}
	for _, raw := range doc.Keys {
		var k jose.JSONWebKey
		if err := k.UnmarshalJSON(raw); err != nil {
			logger.L().Debug("jwks: skipping key", zap.Error(err))
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		pub := k.Public()
		if !pub.Valid() {
			logger.L().Debug("jwks: skipping non-public key", zap.String("kid", k.KeyID))
			continue
		}
		ks.all = append(ks.all, pub.Key)
		if kid := strings.TrimSpace(k.KeyID); kid != "" {
			ks.byKID[kid] = pub.Key
		}
	}
	if len(ks.all) == 0 {
		return nil, ErrEmptyJWKS
	}
	return ks, nil
}

// Fetch downloads and parses the JWKS at uri.
func Fetch(ctx context.Context, client *http.Client, uri string) (*KeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("jwks: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jwks: fetch %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks: fetch %s: status %d", uri, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if err != nil {
		return nil, fmt.Errorf("jwks: read %s: %w", uri, err)
	}
	return ParseJWKS(b)
}

type handle struct {
	uri  string
	keys atomic.Pointer[KeySet]
}

// Cache memoizes one key-set handle per tenant for the life of the
// process. A handle keeps the JWKS URI it was created with; keys are
// fetched on first use and a failed fetch is retried on the next call.
type Cache struct {
	client  *http.Client
	timeout time.Duration
	metrics *metrics.Metrics

	mu      sync.RWMutex
	handles map[string]*handle
	closed  bool
	group   singleflight.Group
}

func NewCache(client *http.Client, timeout time.Duration, m *metrics.Metrics) *Cache {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultJWKSTimeout
	}
	return &Cache{
		client:  client,
		timeout: timeout,
		metrics: m,
		handles: make(map[string]*handle),
	}
}

func (c *Cache) handle(tenantID, uri string) (*handle, error) {
	c.mu.RLock()
	h, ok := c.handles[tenantID]
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, ErrCacheClosed
	}
	if ok {
		return h, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrCacheClosed
	}
	if h, ok := c.handles[tenantID]; ok {
		return h, nil
	}
	h = &handle{uri: uri}
	c.handles[tenantID] = h
	return h, nil
}

// Keys returns the tenant's key set, fetching it if this is the first
// successful use. The fetch is detached from ctx cancellation and bounded
// by the cache timeout so a caller hanging up does not poison waiters.
func (c *Cache) Keys(ctx context.Context, tenantID, uri string) (*KeySet, error) {
	h, err := c.handle(tenantID, uri)
	if err != nil {
		return nil, err
	}
	if ks := h.keys.Load(); ks != nil {
		return ks, nil
	}

	v, err, _ := c.group.Do(tenantID, func() (any, error) {
		if ks := h.keys.Load(); ks != nil {
			return ks, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		ks, err := Fetch(fctx, c.client, h.uri)
		if err != nil {
			c.metrics.JWKSFetch(tenantID, "error")
			logger.From(ctx).Warn("jwks fetch failed",
				logger.TenantID(tenantID), zap.String("jwks_uri", h.uri), zap.Error(err))
			return nil, err
		}
		c.metrics.JWKSFetch(tenantID, "ok")
		h.keys.Store(ks)
		return ks, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*KeySet), nil
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}

// Close drops every handle. Later calls to Keys fail with ErrCacheClosed.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handles = make(map[string]*handle)
	c.closed = true
	return nil
}
