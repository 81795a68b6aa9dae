package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds the full gateway configuration. It is assembled once at
// startup and never mutated afterwards; components receive it (or the
// sub-struct they need) at construction and must not re-read the
// environment themselves.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Auth      AuthConfig      `koanf:"auth"`
	Backends  BackendsConfig  `koanf:"backends"`
	Redis     RedisConfig     `koanf:"redis"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	CORS      CORSConfig      `koanf:"cors"`
}

type ServerConfig struct {
	Port          int           `koanf:"port"`
	Env           string        `koanf:"env"`
	Debug         bool          `koanf:"debug"`
	ShutdownGrace time.Duration `koanf:"shutdown_grace"`
}

type AuthConfig struct {
	JWTSecret    string `koanf:"jwt_secret"`
	JWTAlgorithm string `koanf:"jwt_algorithm"`
}

type BackendsConfig struct {
	AuthURL    string        `koanf:"auth_url"`
	UserURL    string        `koanf:"user_url"`
	ContentURL string        `koanf:"content_url"`
	Timeout    time.Duration `koanf:"timeout"`
}

type RedisConfig struct {
	URL string `koanf:"url"`
}

type RateLimitConfig struct {
	Enabled           bool `koanf:"enabled"`
	RequestsPerMinute int  `koanf:"requests_per_minute"`
}

type CORSConfig struct {
	// AllowedOrigins is comma-separated in the environment.
	AllowedOrigins string `koanf:"allowed_origins"`
}

// defaultJWTSecret is only acceptable outside production.
const defaultJWTSecret = "dev-secret-change-me"

// Load reads configuration from GATEWAY_-prefixed environment variables,
// applying development defaults for anything unset. GATEWAY_SERVER__PORT
// maps to server.port, and so on.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Development defaults, overridable from the environment.
	defaults := map[string]interface{}{
		"server.port":                   8080,
		"server.env":                    "development",
		"server.debug":                  false,
		"server.shutdown_grace":         "5s",
		"auth.jwt_secret":               defaultJWTSecret,
		"auth.jwt_algorithm":            "HS256",
		"backends.auth_url":             "http://localhost:3001",
		"backends.user_url":             "http://localhost:3002",
		"backends.content_url":          "http://localhost:3003",
		"backends.timeout":              "30s",
		"redis.url":                     "redis://localhost:6379/0",
		"ratelimit.enabled":             true,
		"ratelimit.requests_per_minute": 120,
		"cors.allowed_origins":          "http://localhost:3000",
	}
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("GATEWAY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "GATEWAY_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configuration the gateway must not serve traffic with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Server.ShutdownGrace <= 0 {
		return fmt.Errorf("shutdown grace must be positive, got %s", c.Server.ShutdownGrace)
	}

	switch c.Auth.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("unsupported jwt algorithm %q", c.Auth.JWTAlgorithm)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret must not be empty")
	}

	for name, raw := range map[string]string{
		"auth":    c.Backends.AuthURL,
		"user":    c.Backends.UserURL,
		"content": c.Backends.ContentURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s backend url %q", name, raw)
		}
	}
	if c.Backends.Timeout <= 0 {
		return fmt.Errorf("backend timeout must be positive, got %s", c.Backends.Timeout)
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute < 1 {
		return fmt.Errorf("requests per minute must be >= 1, got %d", c.RateLimit.RequestsPerMinute)
	}

	if c.IsProduction() {
		if c.Auth.JWTSecret == defaultJWTSecret {
			return fmt.Errorf("jwt secret must be overridden in production")
		}
		for _, origin := range c.AllowedOrigins() {
			if origin == "*" {
				return fmt.Errorf("wildcard cors origin is not allowed in production")
			}
		}
	}

	return nil
}

// IsProduction reports whether the gateway runs with production policy.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Env, "production")
}

// AllowedOrigins splits the comma-separated origin allow-list, trimming
// whitespace and dropping empty entries.
func (c *Config) AllowedOrigins() []string {
	parts := strings.Split(c.CORS.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if o := strings.TrimSpace(p); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
