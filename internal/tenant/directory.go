package tenant

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/HanTheDev/tenant-edge-gateway/internal/cache"
	"github.com/HanTheDev/tenant-edge-gateway/internal/models"
	"github.com/HanTheDev/tenant-edge-gateway/internal/store"
)

var (
	ErrNotFound      = errors.New("tenant: not found")
	ErrMalformed     = errors.New("tenant: malformed record")
	ErrMissingAPIKey = errors.New("tenant: missing api key")
)

// Getter is the read side of the shared store the directory needs.
type Getter interface {
	Get(ctx context.Context, key string) (string, error)
}

// Directory resolves tenants from the shared store. It never writes.
type Directory struct {
	kv    Getter
	cache *cache.TenantCache
}

func NewDirectory(kv Getter, c *cache.TenantCache) *Directory {
	return &Directory{kv: kv, cache: c}
}

// HashAPIKey is the one-way mapping stored in place of raw keys.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (d *Directory) ResolveByAPIKey(ctx context.Context, rawKey string) (*models.Tenant, error) {
	if rawKey == "" {
		return nil, ErrMissingAPIKey
	}

	id, err := d.kv.Get(ctx, store.APIKeyHashKey(HashAPIKey(rawKey)))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tenant: lookup api key: %w", err)
	}

	return d.ByID(ctx, id)
}

func (d *Directory) ByID(ctx context.Context, id string) (*models.Tenant, error) {
	if t, ok := d.cache.Get(id); ok {
		return t, nil
	}

	raw, err := d.kv.Get(ctx, store.TenantKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tenant: fetch %s: %w", id, err)
	}

	t, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", id, err)
	}
	d.cache.Set(t)
	return t, nil
}

// Decode parses and validates a stored tenant record.
func Decode(raw string) (*models.Tenant, error) {
	var t models.Tenant
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return &t, nil
}
