package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: key not found")

// Store is the shared atomic key-value service. Tenant records, api key
// mappings and rate-window counters all live here.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX creates key only if it does not exist yet.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

func TenantKey(id string) string {
	return "tenant:" + id
}

func APIKeyHashKey(hash string) string {
	return "tenant:byApiKey:" + hash
}

// CurrentAPIKeyKey tracks the hash of the tenant's active key so a rotation
// can drop the previous mapping.
func CurrentAPIKeyKey(id string) string {
	return "tenant:apikey:" + id
}

// RotationLockKey serializes key rotations for one tenant.
func RotationLockKey(id string) string {
	return "tenant:apikey:" + id + ":lock"
}

const TenantIndexKey = "tenant:index"
