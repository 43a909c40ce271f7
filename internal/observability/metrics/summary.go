package metrics

import (
	dto "github.com/prometheus/client_model/go"
)

// TenantSummary is the tenant-scoped view served by /tenant/metrics.
type TenantSummary struct {
	TenantID string        `json:"tenantId"`
	Requests RequestCounts `json:"requests"`
}

type RequestCounts struct {
	Total          float64 `json:"total"`
	RateLimited    float64 `json:"rateLimited"`
	AuthFailures   float64 `json:"authFailures"`
	RouteDenials   float64 `json:"routeDenials"`
	UpstreamErrors float64 `json:"upstreamErrors"`
	InternalErrors float64 `json:"internalErrors"`
}

// Summary sums every counter series labelled with tenantID.
func (m *Metrics) Summary(tenantID string) (TenantSummary, error) {
	out := TenantSummary{TenantID: tenantID}
	if m == nil {
		return out, nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return out, err
	}

	for _, mf := range families {
		var dst *float64
		switch mf.GetName() {
		case "gateway_requests_total":
			dst = &out.Requests.Total
		case "gateway_rate_limited_total":
			dst = &out.Requests.RateLimited
		case "gateway_auth_failures_total":
			dst = &out.Requests.AuthFailures
		case "gateway_route_denials_total":
			dst = &out.Requests.RouteDenials
		case "gateway_upstream_errors_total":
			dst = &out.Requests.UpstreamErrors
		case "gateway_internal_errors_total":
			dst = &out.Requests.InternalErrors
		default:
			continue
		}
		for _, metric := range mf.GetMetric() {
			if hasLabel(metric, "tenantId", tenantID) {
				*dst += metric.GetCounter().GetValue()
			}
		}
	}
	return out, nil
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
