package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable Load reads so the host environment does
// not leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if _, legacy := legacyEnv[name]; legacy || strings.HasPrefix(name, envPrefix) {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "/api", cfg.GatewayPrefix)
	assert.Equal(t, "redis", cfg.Store)
	assert.Equal(t, 5*time.Second, cfg.JWKSTimeout)
	assert.Equal(t, 10*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, time.Duration(0), cfg.JWTLeeway)
	assert.Equal(t, time.Duration(0), cfg.TenantCacheTTL)
	assert.Equal(t, 1024, cfg.AuditBuffer)
	assert.False(t, cfg.TracingEnabled)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoad_EnvPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_URL", "redis://legacy:6379")
	t.Setenv("UPSTREAM_TIMEOUT", "3s")
	t.Setenv("GATEWAY_UPSTREAM_TIMEOUT", "7s")
	t.Setenv("GATEWAY_STORE", "memory")
	t.Setenv("GATEWAY_TRACING_ENABLED", "true")
	t.Setenv("GATEWAY_AUDIT_BUFFER", "16")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis://legacy:6379", cfg.RedisURL)
	assert.Equal(t, 7*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, "memory", cfg.Store)
	assert.True(t, cfg.TracingEnabled)
	assert.Equal(t, 16, cfg.AuditBuffer)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_port: \"9000\"\njwks_timeout: 2s\nadmin_token: from-file\n"), 0o600))
	t.Setenv("GATEWAY_CONFIG_FILE", path)
	t.Setenv("ADMIN_TOKEN", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.ServerPort)
	assert.Equal(t, 2*time.Second, cfg.JWKSTimeout)
	assert.Equal(t, "from-env", cfg.AdminToken)
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("GATEWAY_STORE", "etcd")
	t.Setenv("GATEWAY_JWKS_TIMEOUT", "0s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store must be redis or memory")
	assert.Contains(t, err.Error(), "jwks_timeout must be positive")
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("GATEWAY_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	assert.Error(t, err)
}
