package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/HanTheDev/tenant-edge-gateway/internal/models"
)

// seedFile is the YAML layout accepted by "gatewayctl seed":
//
//	tenants:
//	  - id: acme
//	    name: Acme Corp
//	    upstreamBaseUrl: http://localhost:4000
//	    issueApiKey: true
//	    allowedRoutes:
//	      - /orders
//	      - path: /health
//	        auth: {jwt: false}
//	    rateLimit: {windowSeconds: 60, maxRequests: 100}
type seedFile struct {
	Tenants []seedTenant `yaml:"tenants"`
}

type seedTenant struct {
	ID              string         `yaml:"id" json:"id"`
	Name            string         `yaml:"name" json:"name"`
	UpstreamBaseURL string         `yaml:"upstreamBaseUrl" json:"upstreamBaseUrl,omitempty"`
	IdP             *seedIdP       `yaml:"idp" json:"idp,omitempty"`
	AllowedRoutes   []seedRoute    `yaml:"allowedRoutes" json:"allowedRoutes"`
	RateLimit       *seedRateLimit `yaml:"rateLimit" json:"rateLimit,omitempty"`
	IssueAPIKey     bool           `yaml:"issueApiKey" json:"-"`
}

type seedIdP struct {
	Issuer   string `yaml:"issuer" json:"issuer"`
	JWKSURI  string `yaml:"jwksUri" json:"jwksUri"`
	Audience string `yaml:"audience" json:"audience"`
}

type seedRateLimit struct {
	WindowSeconds int64 `yaml:"windowSeconds" json:"windowSeconds"`
	MaxRequests   int64 `yaml:"maxRequests" json:"maxRequests"`
}

// seedRoute accepts either "/path" or a mapping with path and auth.
type seedRoute struct {
	Path string `json:"path"`
	JWT  *bool  `json:"-"`
}

func (r *seedRoute) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&r.Path)
	}
	var m struct {
		Path string `yaml:"path"`
		Auth struct {
			JWT *bool `yaml:"jwt"`
		} `yaml:"auth"`
	}
	if err := node.Decode(&m); err != nil {
		return err
	}
	r.Path, r.JWT = m.Path, m.Auth.JWT
	return nil
}

func (r seedRoute) model() models.Route {
	route := models.Route{Path: r.Path}
	if r.JWT != nil {
		route.Auth = &models.RouteAuth{JWT: r.JWT}
	}
	return route
}

type createPayload struct {
	seedTenant
	AllowedRoutes []models.Route `json:"allowedRoutes"`
}

func loadSeed(path string) (*seedFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f seedFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, t := range f.Tenants {
		if t.ID == "" {
			return nil, fmt.Errorf("tenants[%d]: id is required", i)
		}
	}
	return &f, nil
}

// applySeed creates each tenant, or overwrites its mutable fields when
// it already exists.
func applySeed(c *client, f *seedFile) error {
	for _, t := range f.Tenants {
		routes := make([]models.Route, 0, len(t.AllowedRoutes))
		for _, r := range t.AllowedRoutes {
			routes = append(routes, r.model())
		}

		_, err := c.do(http.MethodPost, "/tenants", createPayload{seedTenant: t, AllowedRoutes: routes})
		var apiErr *apiError
		switch {
		case err == nil:
			fmt.Fprintf(c.Out, "created %s\n", t.ID)
		case errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict:
			if err := updateTenant(c, t, routes); err != nil {
				return fmt.Errorf("update %s: %w", t.ID, err)
			}
			fmt.Fprintf(c.Out, "updated %s\n", t.ID)
		default:
			return fmt.Errorf("create %s: %w", t.ID, err)
		}

		if t.IssueAPIKey {
			body, err := c.do(http.MethodPost, "/tenants/"+t.ID+"/apikey", nil)
			if err != nil {
				return fmt.Errorf("rotate %s: %w", t.ID, err)
			}
			c.print(body)
		}
	}
	return nil
}

func updateTenant(c *client, t seedTenant, routes []models.Route) error {
	base := "/tenants/" + t.ID
	if t.UpstreamBaseURL != "" {
		if _, err := c.do(http.MethodPut, base+"/upstream", map[string]string{"upstreamBaseUrl": t.UpstreamBaseURL}); err != nil {
			return err
		}
	}
	if _, err := c.do(http.MethodPut, base+"/routes", map[string]any{"allowedRoutes": routes}); err != nil {
		return err
	}
	if t.RateLimit != nil {
		if _, err := c.do(http.MethodPut, base+"/ratelimit", t.RateLimit); err != nil {
			return err
		}
	}
	if t.IdP != nil {
		if _, err := c.do(http.MethodPut, base+"/idp", t.IdP); err != nil {
			return err
		}
	}
	return nil
}
