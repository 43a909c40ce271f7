package server

import (
	"encoding/json"
	"net/http"

	"github.com/HanTheDev/tenant-edge-gateway/internal/models"
	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/logger"
	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/metrics"
	"github.com/HanTheDev/tenant-edge-gateway/internal/pipeline"
	"github.com/HanTheDev/tenant-edge-gateway/internal/tenant"
)

// selfService serves the read-only views a tenant can fetch with its own
// API key.
type selfService struct {
	stage   *tenant.Stage
	metrics *metrics.Metrics
}

func (s *selfService) resolve(w http.ResponseWriter, r *http.Request) (*models.Tenant, bool) {
	rc := &pipeline.RequestContext{
		RequestID: logger.RequestIDFrom(r.Context()),
		Request:   r,
		Writer:    w,
	}
	if err := s.stage.Run(r.Context(), rc); err != nil {
		pe := pipeline.Classify(err)
		if pe.Kind == pipeline.KindInternal {
			logger.From(r.Context()).Error("tenant lookup failed", logger.Reason(pe.Reason))
		}
		pipeline.WriteError(w, pe)
		return nil, false
	}
	return rc.Tenant, true
}

func (s *selfService) me(w http.ResponseWriter, r *http.Request) {
	t, ok := s.resolve(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ID            string         `json:"id"`
		Name          string         `json:"name"`
		AllowedRoutes []models.Route `json:"allowedRoutes"`
		IdP           *models.IdP    `json:"idp,omitempty"`
	}{t.ID, t.Name, t.AllowedRoutes, t.IdP})
}

func (s *selfService) tenantMetrics(w http.ResponseWriter, r *http.Request) {
	t, ok := s.resolve(w, r)
	if !ok {
		return
	}
	summary, err := s.metrics.Summary(t.ID)
	if err != nil {
		pipeline.WriteError(w, pipeline.Internal("metrics_gather", err))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
