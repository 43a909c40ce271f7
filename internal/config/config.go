package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix = "GATEWAY_"
	fileEnv   = "GATEWAY_CONFIG_FILE"
)

type Config struct {
	ServerPort      string        `koanf:"server_port"`
	GatewayPrefix   string        `koanf:"gateway_prefix"`
	Store           string        `koanf:"store"`
	RedisURL        string        `koanf:"redis_url"`
	DatabaseURL     string        `koanf:"database_url"`
	AdminToken      string        `koanf:"admin_token"`
	JWKSTimeout     time.Duration `koanf:"jwks_timeout"`
	JWTLeeway       time.Duration `koanf:"jwt_leeway"`
	UpstreamTimeout time.Duration `koanf:"upstream_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	TenantCacheTTL  time.Duration `koanf:"tenant_cache_ttl"`
	AuditBuffer     int           `koanf:"audit_buffer"`
	LogEnv          string        `koanf:"log_env"`
	LogLevel        string        `koanf:"log_level"`
	TracingEnabled  bool          `koanf:"tracing_enabled"`
}

var defaults = map[string]any{
	"server_port":      "8080",
	"gateway_prefix":   "/api",
	"store":            "redis",
	"redis_url":        "redis://localhost:6379",
	"database_url":     "",
	"admin_token":      "",
	"jwks_timeout":     "5s",
	"jwt_leeway":       "0s",
	"upstream_timeout": "10s",
	"shutdown_timeout": "10s",
	"tenant_cache_ttl": "0s",
	"audit_buffer":     1024,
	"log_env":          "prod",
	"log_level":        "info",
	"tracing_enabled":  false,
}

// Unprefixed variable names are still honoured so existing deployments
// keep working; GATEWAY_ names win when both are set.
var legacyEnv = map[string]string{
	"SERVER_PORT":      "server_port",
	"PORT":             "server_port",
	"REDIS_URL":        "redis_url",
	"DATABASE_URL":     "database_url",
	"ADMIN_TOKEN":      "admin_token",
	"JWKS_TIMEOUT":     "jwks_timeout",
	"JWT_LEEWAY":       "jwt_leeway",
	"UPSTREAM_TIMEOUT": "upstream_timeout",
	"SHUTDOWN_TIMEOUT": "shutdown_timeout",
	"LOG_LEVEL":        "log_level",
}

func Load() (*Config, error) {
	godotenv.Load()

	k := koanf.New(".")
	for key, v := range defaults {
		k.Set(key, v)
	}

	if path := os.Getenv(fileEnv); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return legacyEnv[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("config: legacy env: %w", err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		if s == fileEnv {
			return ""
		}
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case "redis":
		if c.RedisURL == "" {
			errs = append(errs, errors.New("redis_url is required when store=redis"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("store must be redis or memory, got %q", c.Store))
	}
	if c.ServerPort == "" {
		errs = append(errs, errors.New("server_port is required"))
	}
	if c.GatewayPrefix != "" && !strings.HasPrefix(c.GatewayPrefix, "/") {
		errs = append(errs, fmt.Errorf("gateway_prefix must start with '/', got %q", c.GatewayPrefix))
	}
	for name, d := range map[string]time.Duration{
		"jwks_timeout":     c.JWKSTimeout,
		"upstream_timeout": c.UpstreamTimeout,
		"shutdown_timeout": c.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.JWTLeeway < 0 || c.TenantCacheTTL < 0 {
		errs = append(errs, errors.New("jwt_leeway and tenant_cache_ttl must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c *Config) Addr() string {
	return ":" + c.ServerPort
}
