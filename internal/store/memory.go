package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is a single-process Store. go-cache handles expiry; the mutex makes
// the compound operations (incr-or-create, expire, set add) atomic.
type Memory struct {
	mu sync.Mutex
	c  *gocache.Cache
}

func NewMemory() *Memory {
	return &Memory{c: gocache.New(gocache.NoExpiration, time.Minute)}
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.c.Get(key)
	if !ok {
		return "", ErrNotFound
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	default:
		return "", fmt.Errorf("store: key %q holds a non-string value", key)
	}
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.c.Set(key, value, expiration(ttl))
	return nil
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.c.Add(key, value, expiration(ttl)); err != nil {
		return false, nil
	}
	return true, nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, exp, ok := m.c.GetWithExpiration(key)
	if !ok {
		m.c.Set(key, int64(1), gocache.NoExpiration)
		return 1, nil
	}
	if s, isString := v.(string); isString {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("store: key %q is not an integer", key)
		}
		m.c.Set(key, n, remaining(exp))
	}
	return m.c.IncrementInt64(key, 1)
}

// remaining converts an absolute go-cache expiry back into a TTL.
func remaining(exp time.Time) time.Duration {
	if exp.IsZero() {
		return gocache.NoExpiration
	}
	return max(time.Until(exp), time.Nanosecond)
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.c.Get(key)
	if !ok {
		return nil
	}
	m.c.Set(key, v, expiration(ttl))
	return nil
}

// TTL returns the remaining lifetime of key. Zero means no expiry.
func (m *Memory) TTL(key string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exp, ok := m.c.GetWithExpiration(key)
	if !ok {
		return 0, false
	}
	if exp.IsZero() {
		return 0, true
	}
	return time.Until(exp), true
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		m.c.Delete(k)
	}
	return nil
}

func (m *Memory) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := map[string]struct{}{}
	if v, ok := m.c.Get(key); ok {
		existing, isSet := v.(map[string]struct{})
		if !isSet {
			return fmt.Errorf("store: key %q is not a set", key)
		}
		for k := range existing {
			set[k] = struct{}{}
		}
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
	m.c.Set(key, set, gocache.NoExpiration)
	return nil
}

func (m *Memory) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.c.Get(key)
	if !ok {
		return nil, nil
	}
	set, isSet := v.(map[string]struct{})
	if !isSet {
		return nil, fmt.Errorf("store: key %q is not a set", key)
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.c.Flush()
	return nil
}
