// Package config provides the configuration schema for fluxgate.
//
// Configuration is file-based YAML with environment variable overrides.
// The schema deliberately stays small: one upstream, one shared store,
// named rate-limit policies, and the idempotency guard. TLS is out of
// scope (handle it via a fronting reverse proxy).
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for fluxgate.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Upstream configures the service requests are forwarded to.
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`

	// Store configures the shared key/value store that holds bucket state
	// and cached idempotent responses.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// RateLimit configures the token-bucket admission layer.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Idempotency configures the idempotency-key response cache.
	Idempotency IdempotencyConfig `yaml:"idempotency" mapstructure:"idempotency"`

	// Tracing enables the OpenTelemetry request span middleware.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// DevMode enables development features (verbose logging, permissive
	// default policy).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// UpstreamConfig configures the proxied upstream service.
type UpstreamConfig struct {
	// URL is the base URL requests are forwarded to (e.g., "http://localhost:3000").
	URL string `yaml:"url" mapstructure:"url" validate:"omitempty,url"`

	// Timeout bounds each upstream round trip (e.g., "30s", "1m").
	// Defaults to "30s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`
}

// StoreConfig selects and configures the shared key/value store backend.
type StoreConfig struct {
	// Backend selects the store implementation.
	// Valid values: "memory", "redis", "sqlite". Defaults to "memory".
	// The memory backend is per-process: replicas do not share state.
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=memory redis sqlite"`

	// Timeout bounds each store round trip (e.g., "250ms").
	// Defaults to "250ms".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`

	// FailMode selects what happens when the store is unreachable.
	// "open" lets traffic through without rate limiting or replay
	// protection; "closed" rejects with 503. Defaults to "open".
	FailMode string `yaml:"fail_mode" mapstructure:"fail_mode" validate:"omitempty,oneof=open closed"`

	// Redis configures the redis backend.
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`

	// SQLite configures the sqlite backend.
	SQLite SQLiteConfig `yaml:"sqlite" mapstructure:"sqlite"`
}

// RedisConfig configures the redis store backend.
type RedisConfig struct {
	// Addr is the redis host:port. Required when backend is "redis".
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`

	// Password authenticates the connection. Optional.
	Password string `yaml:"password" mapstructure:"password"`

	// DB is the redis logical database number.
	DB int `yaml:"db" mapstructure:"db" validate:"omitempty,min=0,max=15"`
}

// SQLiteConfig configures the sqlite store backend.
type SQLiteConfig struct {
	// Path is the database file location. Defaults to "fluxgate.db".
	Path string `yaml:"path" mapstructure:"path"`
}

// RateLimitConfig configures the token-bucket admission layer.
type RateLimitConfig struct {
	// Enabled turns rate limiting on or off. Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// IdentitySecret keys the HMAC that turns client credentials into
	// opaque identifiers. Keep it stable across replicas, or each replica
	// buckets the same client separately.
	IdentitySecret string `yaml:"identity_secret" mapstructure:"identity_secret"`

	// BypassTokenHash is the Argon2id hash a request's X-RateLimit-Bypass
	// header must verify against to skip rate limiting. Generate with
	// "fluxgate hash-token". Empty disables the bypass.
	BypassTokenHash string `yaml:"bypass_token_hash" mapstructure:"bypass_token_hash" validate:"omitempty,startswith=$argon2id$"`

	// Policies are the global policies applied to every request,
	// evaluated ascending by priority.
	Policies []PolicyConfig `yaml:"policies" mapstructure:"policies" validate:"omitempty,dive"`

	// Routes attach additional policies to matching requests.
	Routes []RouteConfig `yaml:"routes" mapstructure:"routes" validate:"omitempty,dive"`
}

// PolicyConfig defines one named token-bucket policy.
type PolicyConfig struct {
	// Name identifies the policy in headers, logs, and metrics.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Capacity is the maximum token count (burst size).
	Capacity int `yaml:"capacity" mapstructure:"capacity" validate:"required,min=1"`

	// RefillRate is tokens added per second.
	RefillRate float64 `yaml:"refill_rate" mapstructure:"refill_rate" validate:"required,gt=0"`

	// Priority orders evaluation; lower runs first. Ties keep config order.
	Priority int `yaml:"priority" mapstructure:"priority"`

	// EmitHeaders controls RateLimit header emission on allowed responses.
	// Defaults to true; nil means unset.
	EmitHeaders *bool `yaml:"emit_headers" mapstructure:"emit_headers"`

	// EmitHeadersOnReject opts this policy into header emission on 429
	// responses. Defaults to false: exhaustion of an unadvertised policy
	// stays unadvertised.
	EmitHeadersOnReject bool `yaml:"emit_headers_on_reject" mapstructure:"emit_headers_on_reject"`

	// Exempt is an optional CEL expression over the request (method, path,
	// host, client_ip, headers). Requests it evaluates true for skip this
	// policy entirely.
	Exempt string `yaml:"exempt" mapstructure:"exempt" validate:"omitempty,max=1024"`
}

// RouteConfig scopes extra policies to a path prefix and method set.
type RouteConfig struct {
	// PathPrefix matches the start of the request path.
	PathPrefix string `yaml:"path_prefix" mapstructure:"path_prefix" validate:"required,startswith=/"`

	// Methods restricts the route to the given methods. Empty means all.
	Methods []string `yaml:"methods" mapstructure:"methods"`

	// Policies are evaluated for matching requests, after the globals.
	Policies []PolicyConfig `yaml:"policies" mapstructure:"policies" validate:"required,min=1,dive"`
}

// IdempotencyConfig configures the idempotency-key response cache.
type IdempotencyConfig struct {
	// Enabled turns the idempotency guard on or off. Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// TTL is how long cached responses are replayed (e.g., "24h").
	// Defaults to "24h". After expiry a repeated key re-executes.
	TTL string `yaml:"ttl" mapstructure:"ttl" validate:"omitempty,duration"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled turns request span emission on. Default: false (opt-in).
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// SetDevDefaults applies permissive defaults for development mode,
// so fluxgate runs with just an upstream URL configured.
// Applied BEFORE validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	// A single generous policy when none configured.
	if len(c.RateLimit.Policies) == 0 {
		c.RateLimit.Policies = []PolicyConfig{
			{
				Name:       "dev",
				Capacity:   1000,
				RefillRate: 100,
			},
		}
	}

	// Identity secret is required in production; dev gets a fixed one.
	if c.RateLimit.IdentitySecret == "" {
		c.RateLimit.IdentitySecret = "dev-identity-secret"
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Server defaults: bind to localhost only. Users who need network
	// access must explicitly set http_addr.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	// Upstream defaults
	if c.Upstream.Timeout == "" {
		c.Upstream.Timeout = "30s"
	}

	// Store defaults
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Store.Timeout == "" {
		c.Store.Timeout = "250ms"
	}
	if c.Store.FailMode == "" {
		c.Store.FailMode = "open"
	}
	if c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = "fluxgate.db"
	}

	// Rate limiting and idempotency are on by default. viper.IsSet
	// distinguishes "not set" (zero value) from "explicitly false".
	if !viper.IsSet("rate_limit.enabled") {
		c.RateLimit.Enabled = true
	}
	if !viper.IsSet("idempotency.enabled") {
		c.Idempotency.Enabled = true
	}
	if c.Idempotency.TTL == "" {
		c.Idempotency.TTL = "24h"
	}
}

// FailOpen reports whether the store failure policy is fail-open.
func (c *Config) FailOpen() bool {
	return c.Store.FailMode != "closed"
}

// StoreTimeout returns the parsed store round-trip timeout.
// Call after SetDefaults and Validate; invalid values fall back to 250ms.
func (c *Config) StoreTimeout() time.Duration {
	return parseDuration(c.Store.Timeout, 250*time.Millisecond)
}

// UpstreamTimeout returns the parsed upstream round-trip timeout.
func (c *Config) UpstreamTimeout() time.Duration {
	return parseDuration(c.Upstream.Timeout, 30*time.Second)
}

// IdempotencyTTL returns the parsed cached response lifetime.
func (c *Config) IdempotencyTTL() time.Duration {
	return parseDuration(c.Idempotency.TTL, 24*time.Hour)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
