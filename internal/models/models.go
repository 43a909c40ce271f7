package models

import (
	"encoding/json"
	"errors"
	"time"
)

const (
	DefaultWindowSeconds = 60
	DefaultMaxRequests   = 100
)

type Tenant struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	UpstreamBaseURL string     `json:"upstreamBaseUrl"`
	IdP             *IdP       `json:"idp,omitempty"`
	AllowedRoutes   []Route    `json:"allowedRoutes"`
	RateLimit       RateLimit  `json:"rateLimit"`
	CreatedAt       *time.Time `json:"createdAt,omitempty"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`
}

// IdP holds the identity provider a tenant's bearer tokens are checked
// against. A nil IdP disables JWT verification for the whole tenant.
type IdP struct {
	Issuer   string `json:"issuer"`
	JWKSURI  string `json:"jwksUri"`
	Audience string `json:"audience"`
}

type Route struct {
	Path string     `json:"path"`
	Auth *RouteAuth `json:"auth,omitempty"`
}

type RouteAuth struct {
	JWT *bool `json:"jwt,omitempty"`
}

// JWTDisabled reports whether the route explicitly opts out of JWT
// verification with auth.jwt == false. An absent flag means "inherit".
func (r Route) JWTDisabled() bool {
	return r.Auth != nil && r.Auth.JWT != nil && !*r.Auth.JWT
}

// UnmarshalJSON accepts both the object form and the shorthand string
// form ("/health") of a route.
func (r *Route) UnmarshalJSON(b []byte) error {
	var path string
	if err := json.Unmarshal(b, &path); err == nil {
		*r = Route{Path: path}
		return nil
	}
	type plain Route
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = Route(p)
	return nil
}

type RateLimit struct {
	WindowSeconds int64 `json:"windowSeconds"`
	MaxRequests   int64 `json:"maxRequests"`
}

// Effective returns the limit with defaults applied to unset fields.
func (rl RateLimit) Effective() RateLimit {
	if rl.WindowSeconds == 0 {
		rl.WindowSeconds = DefaultWindowSeconds
	}
	if rl.MaxRequests == 0 {
		rl.MaxRequests = DefaultMaxRequests
	}
	return rl
}

var (
	ErrMissingID        = errors.New("tenant id is required")
	ErrInvalidRateLimit = errors.New("rateLimit windowSeconds and maxRequests must be positive")
	ErrIncompleteIdP    = errors.New("idp requires issuer, jwksUri and audience")
)

// Complete reports whether every field needed to verify a token is set.
func (p *IdP) Complete() bool {
	return p.Issuer != "" && p.JWKSURI != "" && p.Audience != ""
}

// Validate checks the invariants a stored tenant record must hold.
func (t *Tenant) Validate() error {
	if t.ID == "" {
		return ErrMissingID
	}
	if t.RateLimit.WindowSeconds < 0 || t.RateLimit.MaxRequests < 0 {
		return ErrInvalidRateLimit
	}
	if t.IdP != nil && !t.IdP.Complete() {
		return ErrIncompleteIdP
	}
	return nil
}

func Bool(v bool) *bool { return &v }

type AuditEvent struct {
	Time      time.Time `json:"ts"`
	Plane     string    `json:"plane"`
	Category  string    `json:"category"`
	Decision  string    `json:"decision"`
	TenantID  string    `json:"tenantId,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	Method    string    `json:"method,omitempty"`
	Path      string    `json:"path,omitempty"`
	IP        string    `json:"ip,omitempty"`
}
