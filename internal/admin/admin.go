package admin

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/HanTheDev/tenant-edge-gateway/internal/cache"
	"github.com/HanTheDev/tenant-edge-gateway/internal/models"
	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/audit"
	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/logger"
	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/metrics"
	"github.com/HanTheDev/tenant-edge-gateway/internal/store"
	"github.com/HanTheDev/tenant-edge-gateway/internal/tenant"
)

const TokenHeader = "X-Admin-Token"

const keyWarning = "Store key securely. It cannot be retrieved again."

const rotationLockTTL = 10 * time.Second

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// AuditReader lists stored audit events. Implemented by *db.DB.
type AuditReader interface {
	RecentAudit(ctx context.Context, tenantID string, limit int) ([]models.AuditEvent, error)
}

type Options struct {
	Token   string
	Cache   *cache.TenantCache
	Metrics *metrics.Metrics
	Audit   audit.Sink
	Events  AuditReader
}

// AdminHandler is the control plane: tenant CRUD and key rotation over
// the shared store.
type AdminHandler struct {
	kv      store.Store
	token   []byte
	cache   *cache.TenantCache
	metrics *metrics.Metrics
	audit   audit.Sink
	events  AuditReader
}

func NewAdminHandler(kv store.Store, opts Options) *AdminHandler {
	if opts.Audit == nil {
		opts.Audit = audit.Nop()
	}
	return &AdminHandler{
		kv:      kv,
		token:   []byte(opts.Token),
		cache:   opts.Cache,
		metrics: opts.Metrics,
		audit:   opts.Audit,
		events:  opts.Events,
	}
}

func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/admin/health", h.Health).Methods("GET")
	router.Handle("/metrics", h.RequireToken(h.metrics.Handler())).Methods("GET")

	cp := router.PathPrefix("/control-plane").Subrouter()
	cp.Use(h.RequireToken)

	cp.HandleFunc("/tenants", h.ListTenants).Methods("GET")
	cp.HandleFunc("/tenants", h.CreateTenant).Methods("POST")
	cp.HandleFunc("/tenants/{id}", h.GetTenant).Methods("GET")
	cp.HandleFunc("/tenants/{id}/apikey", h.RotateAPIKey).Methods("POST")
	cp.HandleFunc("/tenants/{id}/idp", h.UpdateIdP).Methods("PUT")
	cp.HandleFunc("/tenants/{id}/idp", h.DeleteIdP).Methods("DELETE")
	cp.HandleFunc("/tenants/{id}/upstream", h.UpdateUpstream).Methods("PUT")
	cp.HandleFunc("/tenants/{id}/routes", h.UpdateRoutes).Methods("PUT")
	cp.HandleFunc("/tenants/{id}/ratelimit", h.UpdateRateLimit).Methods("PUT")
	cp.HandleFunc("/audit", h.ListAudit).Methods("GET")
}

// RequireToken rejects requests without the configured admin token. An
// empty configured token rejects everything.
func (h *AdminHandler) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get(TokenHeader))
		if len(h.token) == 0 || subtle.ConstantTimeCompare(got, h.token) != 1 {
			e := audit.Event(r, "admin", "deny")
			e.Plane = "control"
			e.Reason = "invalid_admin_token"
			h.audit.Record(r.Context(), e)
			writeError(w, http.StatusUnauthorized, "Invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "plane": "control"})
}

type createTenantRequest struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	UpstreamBaseURL string            `json:"upstreamBaseUrl"`
	IdP             *models.IdP       `json:"idp"`
	AllowedRoutes   []models.Route    `json:"allowedRoutes"`
	RateLimit       *models.RateLimit `json:"rateLimit"`
}

func (h *AdminHandler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !tenantIDPattern.MatchString(req.ID) {
		writeError(w, http.StatusBadRequest, "id is required and may only contain letters, digits, '.', '_' and '-'")
		return
	}
	if req.UpstreamBaseURL != "" {
		u, err := normalizeUpstream(req.UpstreamBaseURL)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.UpstreamBaseURL = u
	}
	if req.IdP != nil {
		if err := validateIdP(*req.IdP); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := validateRoutes(req.AllowedRoutes); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rl := models.RateLimit{WindowSeconds: models.DefaultWindowSeconds, MaxRequests: models.DefaultMaxRequests}
	if req.RateLimit != nil {
		if err := validateRateLimit(*req.RateLimit); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rl = *req.RateLimit
	}
	if req.AllowedRoutes == nil {
		req.AllowedRoutes = []models.Route{}
	}

	now := time.Now().UTC()
	t := &models.Tenant{
		ID:              req.ID,
		Name:            req.Name,
		UpstreamBaseURL: req.UpstreamBaseURL,
		IdP:             req.IdP,
		AllowedRoutes:   req.AllowedRoutes,
		RateLimit:       rl,
		CreatedAt:       &now,
		UpdatedAt:       &now,
	}
	b, err := json.Marshal(t)
	if err != nil {
		h.internal(w, r, "encode tenant", err)
		return
	}

	ctx := r.Context()
	created, err := h.kv.SetNX(ctx, store.TenantKey(t.ID), string(b), 0)
	if err != nil {
		h.internal(w, r, "create tenant", err)
		return
	}
	if !created {
		writeError(w, http.StatusConflict, "Tenant already exists")
		return
	}
	if err := h.kv.SAdd(ctx, store.TenantIndexKey, t.ID); err != nil {
		h.internal(w, r, "index tenant", err)
		return
	}

	h.mutated(r, "create_tenant", t.ID)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "tenant created", "tenantId": t.ID})
}

func (h *AdminHandler) ListTenants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ids, err := h.kv.SMembers(ctx, store.TenantIndexKey)
	if err != nil {
		h.internal(w, r, "list tenant index", err)
		return
	}

	tenants := make([]*models.Tenant, 0, len(ids))
	for _, id := range ids {
		t, err := h.load(ctx, id)
		if errors.Is(err, tenant.ErrNotFound) {
			continue
		}
		if err != nil {
			h.internal(w, r, "load tenant "+id, err)
			return
		}
		tenants = append(tenants, t)
	}
	writeJSON(w, http.StatusOK, tenants)
}

func (h *AdminHandler) GetTenant(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenantFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// RotateAPIKey issues a new key and retires the previous one.
func (h *AdminHandler) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenantFromPath(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	lock := store.RotationLockKey(t.ID)
	acquired, err := h.kv.SetNX(ctx, lock, "1", rotationLockTTL)
	if err != nil {
		h.internal(w, r, "lock api key rotation", err)
		return
	}
	if !acquired {
		writeError(w, http.StatusConflict, "API key rotation already in progress")
		return
	}
	defer func() {
		if err := h.kv.Del(context.WithoutCancel(ctx), lock); err != nil {
			logger.From(ctx).Warn("release rotation lock failed", logger.TenantID(t.ID), zap.Error(err))
		}
	}()

	apiKey, err := generateAPIKey()
	if err != nil {
		h.internal(w, r, "generate api key", err)
		return
	}
	hash := tenant.HashAPIKey(apiKey)

	previous, err := h.kv.Get(ctx, store.CurrentAPIKeyKey(t.ID))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.internal(w, r, "read current api key", err)
		return
	}
	if err := h.kv.Set(ctx, store.APIKeyHashKey(hash), t.ID, 0); err != nil {
		h.internal(w, r, "store api key", err)
		return
	}
	if err := h.kv.Set(ctx, store.CurrentAPIKeyKey(t.ID), hash, 0); err != nil {
		h.internal(w, r, "store api key pointer", err)
		return
	}
	if previous != "" && previous != hash {
		if err := h.kv.Del(ctx, store.APIKeyHashKey(previous)); err != nil {
			h.internal(w, r, "retire previous api key", err)
			return
		}
	}

	h.mutated(r, "rotate_apikey", t.ID)
	writeJSON(w, http.StatusCreated, map[string]string{"apiKey": apiKey, "warning": keyWarning})
}

func (h *AdminHandler) UpdateIdP(w http.ResponseWriter, r *http.Request) {
	var idp models.IdP
	if err := json.NewDecoder(r.Body).Decode(&idp); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validateIdP(idp); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.update(w, r, "update_idp", func(t *models.Tenant) any {
		t.IdP = &idp
		return map[string]any{"tenantId": t.ID, "idp": t.IdP}
	})
}

func (h *AdminHandler) DeleteIdP(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, "delete_idp", func(t *models.Tenant) any {
		t.IdP = nil
		return map[string]any{"tenantId": t.ID, "idp": nil}
	})
}

func (h *AdminHandler) UpdateUpstream(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UpstreamBaseURL string `json:"upstreamBaseUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.UpstreamBaseURL == "" {
		writeError(w, http.StatusBadRequest, "upstreamBaseUrl is required")
		return
	}
	upstream, err := normalizeUpstream(body.UpstreamBaseURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.update(w, r, "update_upstream", func(t *models.Tenant) any {
		t.UpstreamBaseURL = upstream
		return map[string]string{"tenantId": t.ID, "upstreamBaseUrl": upstream}
	})
}

func (h *AdminHandler) UpdateRoutes(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AllowedRoutes *[]models.Route `json:"allowedRoutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.AllowedRoutes == nil {
		writeError(w, http.StatusBadRequest, "allowedRoutes must be an array")
		return
	}
	routes := *body.AllowedRoutes
	if err := validateRoutes(routes); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.update(w, r, "update_routes", func(t *models.Tenant) any {
		t.AllowedRoutes = routes
		return map[string]any{"tenantId": t.ID, "allowedRoutes": routes}
	})
}

func (h *AdminHandler) UpdateRateLimit(w http.ResponseWriter, r *http.Request) {
	var rl models.RateLimit
	if err := json.NewDecoder(r.Body).Decode(&rl); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validateRateLimit(rl); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.update(w, r, "update_ratelimit", func(t *models.Tenant) any {
		t.RateLimit = rl
		return map[string]any{"tenantId": t.ID, "rateLimit": rl}
	})
}

func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotImplemented, "Audit store not configured")
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	events, err := h.events.RecentAudit(r.Context(), q.Get("tenantId"), limit)
	if err != nil {
		h.internal(w, r, "list audit events", err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// update loads the tenant named in the path, applies mutate, and writes
// the record back. mutate returns the response body.
func (h *AdminHandler) update(w http.ResponseWriter, r *http.Request, action string, mutate func(t *models.Tenant) any) {
	t, ok := h.tenantFromPath(w, r)
	if !ok {
		return
	}

	resp := mutate(t)
	now := time.Now().UTC()
	t.UpdatedAt = &now

	b, err := json.Marshal(t)
	if err != nil {
		h.internal(w, r, "encode tenant", err)
		return
	}
	if err := h.kv.Set(r.Context(), store.TenantKey(t.ID), string(b), 0); err != nil {
		h.internal(w, r, "store tenant", err)
		return
	}

	h.mutated(r, action, t.ID)
	writeJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) tenantFromPath(w http.ResponseWriter, r *http.Request) (*models.Tenant, bool) {
	t, err := h.load(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, tenant.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Tenant not found")
		return nil, false
	}
	if err != nil {
		h.internal(w, r, "load tenant", err)
		return nil, false
	}
	return t, true
}

func (h *AdminHandler) load(ctx context.Context, id string) (*models.Tenant, error) {
	raw, err := h.kv.Get(ctx, store.TenantKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, tenant.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tenant.Decode(raw)
}

func (h *AdminHandler) mutated(r *http.Request, action, tenantID string) {
	h.cache.Invalidate(tenantID)
	h.metrics.ControlMutation(action)

	logger.From(r.Context()).Info("control plane mutation",
		logger.Plane("control"),
		zap.String("action", action),
		logger.TenantID(tenantID),
	)

	e := audit.Event(r, "tenant", "allow")
	e.Plane = "control"
	e.TenantID = tenantID
	e.Detail = action
	e.RequestID = logger.RequestIDFrom(r.Context())
	h.audit.Record(r.Context(), e)
}

func (h *AdminHandler) internal(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.metrics.InternalError("control_plane")
	logger.From(r.Context()).Error("control plane failure",
		logger.Plane("control"), zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Internal Server Error")
}

func normalizeUpstream(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errors.New("invalid upstreamBaseUrl (must be absolute URL)")
	}
	return strings.TrimRight(u.String(), "/"), nil
}

func validateIdP(idp models.IdP) error {
	if idp.Issuer == "" || idp.JWKSURI == "" || idp.Audience == "" {
		return errors.New("issuer, jwksUri, and audience are required")
	}
	u, err := url.Parse(idp.JWKSURI)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("jwksUri must be an absolute http(s) URL")
	}
	return nil
}

func validateRoutes(routes []models.Route) error {
	for i, rt := range routes {
		if !strings.HasPrefix(rt.Path, "/") {
			return fmt.Errorf("allowedRoutes[%d].path must start with '/'", i)
		}
	}
	return nil
}

func validateRateLimit(rl models.RateLimit) error {
	if rl.WindowSeconds <= 0 || rl.MaxRequests <= 0 {
		return errors.New("windowSeconds and maxRequests must be positive integers")
	}
	return nil
}

func generateAPIKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"statusCode": status,
		"error":      http.StatusText(status),
		"message":    msg,
	})
}
