package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/HanTheDev/tenant-edge-gateway/internal/models"
)

// TenantCache memoizes decoded tenant records for a short TTL. A zero TTL
// disables it, which keeps control-plane edits visible on the next request.
type TenantCache struct {
	c   *gocache.Cache
	ttl time.Duration
}

func NewTenantCache(ttl time.Duration) *TenantCache {
	if ttl <= 0 {
		return nil
	}
	return &TenantCache{c: gocache.New(ttl, 2*ttl), ttl: ttl}
}

func (tc *TenantCache) Get(id string) (*models.Tenant, bool) {
	if tc == nil {
		return nil, false
	}
	v, ok := tc.c.Get(id)
	if !ok {
		return nil, false
	}
	t, ok := v.(*models.Tenant)
	return t, ok
}

func (tc *TenantCache) Set(t *models.Tenant) {
	if tc == nil || t == nil {
		return
	}
	tc.c.Set(t.ID, t, tc.ttl)
}

func (tc *TenantCache) Invalidate(id string) {
	if tc == nil {
		return
	}
	tc.c.Delete(id)
}

func (tc *TenantCache) Len() int {
	if tc == nil {
		return 0
	}
	return tc.c.ItemCount()
}
