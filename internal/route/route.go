// Package route decides whether a tenant may call a path and where the
// call goes.
package route

import (
	"errors"
	"net/url"
	"strings"

	"github.com/HanTheDev/tenant-edge-gateway/internal/models"
)

const DefaultPrefix = "/api"

var errNotAbsolute = errors.New("upstream must be an absolute URL")

// NormalizePath strips the query, the gateway prefix and any trailing
// slash. The result always starts with "/".
func NormalizePath(raw, prefix string) string {
	p := raw
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}

	prefix = strings.TrimRight(prefix, "/")
	if prefix != "" && (p == prefix || strings.HasPrefix(p, prefix+"/")) {
		p = p[len(prefix):]
	}

	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if p == "" || p[0] != '/' {
		p = "/" + p
	}
	return p
}

// Match returns the first allowed route covering path, in declared order.
func Match(routes []models.Route, path string) (*models.Route, bool) {
	for i := range routes {
		if covers(routes[i].Path, path) {
			return &routes[i], true
		}
	}
	return nil, false
}

func covers(routePath, path string) bool {
	rp := strings.TrimRight(routePath, "/")
	if rp == "" {
		return true
	}
	return path == rp || strings.HasPrefix(path, rp+"/")
}

// Target joins the tenant upstream base with the normalized path. The
// query is left to the caller.
func Target(base, path string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, &url.Error{Op: "parse", URL: base, Err: errNotAbsolute}
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawPath = ""
	return u, nil
}
