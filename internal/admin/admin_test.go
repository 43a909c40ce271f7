package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HanTheDev/tenant-edge-gateway/internal/models"
	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/metrics"
	"github.com/HanTheDev/tenant-edge-gateway/internal/store"
	"github.com/HanTheDev/tenant-edge-gateway/internal/tenant"
)

const adminToken = "s3cret"

type fixture struct {
	kv      *store.Memory
	metrics *metrics.Metrics
	router  *mux.Router
}

func newFixture(t *testing.T, events AuditReader) *fixture {
	t.Helper()
	f := &fixture{kv: store.NewMemory(), metrics: metrics.New(), router: mux.NewRouter()}
	NewAdminHandler(f.kv, Options{Token: adminToken, Metrics: f.metrics, Events: events}).RegisterRoutes(f.router)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set(TokenHeader, adminToken)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) stored(t *testing.T, id string) *models.Tenant {
	t.Helper()
	raw, err := f.kv.Get(context.Background(), store.TenantKey(id))
	require.NoError(t, err)
	tn, err := tenant.Decode(raw)
	require.NoError(t, err)
	return tn
}

func TestRequireToken(t *testing.T) {
	f := newFixture(t, nil)

	for _, token := range []string{"", "wrong", adminToken + "x"} {
		req := httptest.NewRequest(http.MethodGet, "/control-plane/tenants", nil)
		if token != "" {
			req.Header.Set(TokenHeader, token)
		}
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "token %q", token)
	}

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/control-plane/tenants", "").Code)
}

func TestRequireToken_EmptyConfiguredTokenDisables(t *testing.T) {
	r := mux.NewRouter()
	NewAdminHandler(store.NewMemory(), Options{}).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/control-plane/tenants", nil)
	req.Header.Set(TokenHeader, "")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthIsOpen(t *testing.T) {
	f := newFixture(t, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","plane":"control"}`, rec.Body.String())
}

func TestMetricsRequiresToken(t *testing.T) {
	f := newFixture(t, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestCreateTenant(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/control-plane/tenants",
		`{"id":"acme","name":"Acme","upstreamBaseUrl":"http://up:4000/","allowedRoutes":["/orders",{"path":"/health","auth":{"jwt":false}}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"status":"tenant created","tenantId":"acme"}`, rec.Body.String())

	tn := f.stored(t, "acme")
	assert.Equal(t, "http://up:4000", tn.UpstreamBaseURL)
	assert.Equal(t, models.RateLimit{WindowSeconds: 60, MaxRequests: 100}, tn.RateLimit)
	require.Len(t, tn.AllowedRoutes, 2)
	assert.Equal(t, "/orders", tn.AllowedRoutes[0].Path)
	assert.True(t, tn.AllowedRoutes[1].JWTDisabled())

	ids, err := f.kv.SMembers(context.Background(), store.TenantIndexKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme"}, ids)

	rec = f.do(t, http.MethodPost, "/control-plane/tenants", `{"id":"acme"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateTenant_Validation(t *testing.T) {
	f := newFixture(t, nil)
	tests := map[string]string{
		"missing id":      `{"name":"x"}`,
		"bad id":          `{"id":"a:b"}`,
		"relative url":    `{"id":"a","upstreamBaseUrl":"/local"}`,
		"zero rate limit": `{"id":"a","rateLimit":{"windowSeconds":0,"maxRequests":5}}`,
		"partial idp":     `{"id":"a","idp":{"issuer":"x"}}`,
		"bad route":       `{"id":"a","allowedRoutes":["orders"]}`,
		"not json":        `{`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/control-plane/tenants", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var e map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
			assert.EqualValues(t, 400, e["statusCode"])
		})
	}
}

func TestRotateAPIKey(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/control-plane/tenants", `{"id":"acme"}`).Code)
	dir := tenant.NewDirectory(f.kv, nil)
	ctx := context.Background()

	rotate := func() string {
		rec := f.do(t, http.MethodPost, "/control-plane/tenants/acme/apikey", "")
		require.Equal(t, http.StatusCreated, rec.Code)
		var body struct {
			APIKey  string `json:"apiKey"`
			Warning string `json:"warning"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Len(t, body.APIKey, 64)
		assert.NotEmpty(t, body.Warning)
		return body.APIKey
	}

	first := rotate()
	got, err := dir.ResolveByAPIKey(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.ID)

	second := rotate()
	_, err = dir.ResolveByAPIKey(ctx, first)
	assert.ErrorIs(t, err, tenant.ErrNotFound)
	_, err = dir.ResolveByAPIKey(ctx, second)
	assert.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/control-plane/tenants/ghost/apikey", "").Code)
}

func TestRotateAPIKey_Serialized(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/control-plane/tenants", `{"id":"acme"}`).Code)
	ctx := context.Background()

	created, err := f.kv.SetNX(ctx, store.RotationLockKey("acme"), "1", time.Minute)
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/control-plane/tenants/acme/apikey", "").Code)
	_, err = f.kv.Get(ctx, store.CurrentAPIKeyKey("acme"))
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, f.kv.Del(ctx, store.RotationLockKey("acme")))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		keys []string
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := f.do(t, http.MethodPost, "/control-plane/tenants/acme/apikey", "")
			if rec.Code != http.StatusCreated {
				assert.Equal(t, http.StatusConflict, rec.Code)
				return
			}
			var body struct {
				APIKey string `json:"apiKey"`
			}
			if assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body)) {
				mu.Lock()
				keys = append(keys, body.APIKey)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.NotEmpty(t, keys)

	dir := tenant.NewDirectory(f.kv, nil)
	valid := 0
	for _, k := range keys {
		if _, err := dir.ResolveByAPIKey(ctx, k); err == nil {
			valid++
		}
	}
	assert.Equal(t, 1, valid, "exactly one issued key stays live")

	_, err = f.kv.Get(ctx, store.RotationLockKey("acme"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdates(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/control-plane/tenants", `{"id":"acme"}`).Code)

	rec := f.do(t, http.MethodPut, "/control-plane/tenants/acme/upstream", `{"upstreamBaseUrl":"https://orders.internal/"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tenantId":"acme","upstreamBaseUrl":"https://orders.internal"}`, rec.Body.String())

	rec = f.do(t, http.MethodPut, "/control-plane/tenants/acme/routes", `{"allowedRoutes":["/a",{"path":"/b"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPut, "/control-plane/tenants/acme/ratelimit", `{"windowSeconds":10,"maxRequests":3}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPut, "/control-plane/tenants/acme/idp",
		`{"issuer":"https://idp/","jwksUri":"https://idp/.well-known/jwks.json","audience":"api"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	tn := f.stored(t, "acme")
	assert.Equal(t, "https://orders.internal", tn.UpstreamBaseURL)
	assert.Equal(t, []models.Route{{Path: "/a"}, {Path: "/b"}}, tn.AllowedRoutes)
	assert.Equal(t, models.RateLimit{WindowSeconds: 10, MaxRequests: 3}, tn.RateLimit)
	require.NotNil(t, tn.IdP)
	assert.Equal(t, "api", tn.IdP.Audience)
	assert.NotNil(t, tn.UpdatedAt)

	rec = f.do(t, http.MethodDelete, "/control-plane/tenants/acme/idp", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, f.stored(t, "acme").IdP)

	rec = f.do(t, http.MethodGet, "/control-plane/tenants/acme", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"upstreamBaseUrl":"https://orders.internal"`)

	rec = f.do(t, http.MethodGet, "/control-plane/tenants", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.Tenant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestUpdates_Validation(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/control-plane/tenants", `{"id":"acme"}`).Code)

	tests := []struct {
		name, method, path, body string
		want                     int
	}{
		{"upstream missing", http.MethodPut, "/control-plane/tenants/acme/upstream", `{}`, http.StatusBadRequest},
		{"upstream relative", http.MethodPut, "/control-plane/tenants/acme/upstream", `{"upstreamBaseUrl":"orders"}`, http.StatusBadRequest},
		{"routes not array", http.MethodPut, "/control-plane/tenants/acme/routes", `{"allowedRoutes":"/a"}`, http.StatusBadRequest},
		{"routes missing", http.MethodPut, "/control-plane/tenants/acme/routes", `{}`, http.StatusBadRequest},
		{"ratelimit negative", http.MethodPut, "/control-plane/tenants/acme/ratelimit", `{"windowSeconds":-1,"maxRequests":3}`, http.StatusBadRequest},
		{"idp incomplete", http.MethodPut, "/control-plane/tenants/acme/idp", `{"issuer":"x","jwksUri":"https://idp/jwks"}`, http.StatusBadRequest},
		{"unknown tenant", http.MethodPut, "/control-plane/tenants/ghost/upstream", `{"upstreamBaseUrl":"http://x"}`, http.StatusNotFound},
		{"unknown tenant get", http.MethodGet, "/control-plane/tenants/ghost", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.do(t, tt.method, tt.path, tt.body).Code)
		})
	}
}

type fakeEvents struct {
	tenantID string
	limit    int
	err      error
}

func (f *fakeEvents) RecentAudit(_ context.Context, tenantID string, limit int) ([]models.AuditEvent, error) {
	f.tenantID, f.limit = tenantID, limit
	if f.err != nil {
		return nil, f.err
	}
	return []models.AuditEvent{{Plane: "data", Category: "auth", Decision: "deny", TenantID: tenantID}}, nil
}

func TestListAudit(t *testing.T) {
	assert.Equal(t, http.StatusNotImplemented, newFixture(t, nil).do(t, http.MethodGet, "/control-plane/audit", "").Code)

	ev := &fakeEvents{}
	rec := newFixture(t, ev).do(t, http.MethodGet, "/control-plane/audit?tenantId=acme&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", ev.tenantID)
	assert.Equal(t, 5, ev.limit)
	assert.Contains(t, rec.Body.String(), `"decision":"deny"`)

	ev.err = errors.New("db down")
	rec = newFixture(t, ev).do(t, http.MethodGet, "/control-plane/audit", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMutationsAreCounted(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodPost, "/control-plane/tenants", `{"id":"acme"}`)
	f.do(t, http.MethodPost, "/control-plane/tenants/acme/apikey", "")

	rec := f.do(t, http.MethodGet, "/metrics", "")
	assert.Contains(t, rec.Body.String(), `control_mutations_total{action="create_tenant"} 1`)
	assert.Contains(t, rec.Body.String(), `control_mutations_total{action="rotate_apikey"} 1`)
}
