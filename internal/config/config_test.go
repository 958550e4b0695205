package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8080")
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.Server.LogLevel, "info")
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, "memory")
	}
	if cfg.Store.FailMode != "open" {
		t.Errorf("Store.FailMode = %q, want %q", cfg.Store.FailMode, "open")
	}
	if !cfg.RateLimit.Enabled {
		t.Error("RateLimit.Enabled should default to true")
	}
	if !cfg.Idempotency.Enabled {
		t.Error("Idempotency.Enabled should default to true")
	}
	if cfg.Idempotency.TTL != "24h" {
		t.Errorf("Idempotency.TTL = %q, want %q", cfg.Idempotency.TTL, "24h")
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server: ServerConfig{HTTPAddr: ":9090", LogLevel: "debug"},
		Store: StoreConfig{
			Backend:  "redis",
			FailMode: "closed",
			Timeout:  "1s",
		},
		Idempotency: IdempotencyConfig{TTL: "1h"},
	}

	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr was overwritten: got %q", cfg.Server.HTTPAddr)
	}
	if cfg.Store.Backend != "redis" {
		t.Errorf("Store.Backend was overwritten: got %q", cfg.Store.Backend)
	}
	if cfg.Store.FailMode != "closed" {
		t.Errorf("Store.FailMode was overwritten: got %q", cfg.Store.FailMode)
	}
	if cfg.Idempotency.TTL != "1h" {
		t.Errorf("Idempotency.TTL was overwritten: got %q", cfg.Idempotency.TTL)
	}
}

func TestConfig_SetDevDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{DevMode: true}
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if len(cfg.RateLimit.Policies) != 1 || cfg.RateLimit.Policies[0].Name != "dev" {
		t.Errorf("dev mode policies = %+v, want one permissive policy", cfg.RateLimit.Policies)
	}
	if cfg.RateLimit.IdentitySecret == "" {
		t.Error("dev mode should provide an identity secret")
	}
}

func TestConfig_SetDevDefaults_Disabled(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if len(cfg.RateLimit.Policies) != 0 {
		t.Error("dev defaults applied without dev_mode")
	}
}

func TestConfig_DurationAccessors(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if got := cfg.StoreTimeout(); got != 250*time.Millisecond {
		t.Errorf("StoreTimeout() = %v, want 250ms", got)
	}
	if got := cfg.UpstreamTimeout(); got != 30*time.Second {
		t.Errorf("UpstreamTimeout() = %v, want 30s", got)
	}
	if got := cfg.IdempotencyTTL(); got != 24*time.Hour {
		t.Errorf("IdempotencyTTL() = %v, want 24h", got)
	}

	cfg.Store.Timeout = "garbage"
	if got := cfg.StoreTimeout(); got != 250*time.Millisecond {
		t.Errorf("StoreTimeout() with invalid value = %v, want fallback", got)
	}
}

func TestConfig_FailOpen(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()
	if !cfg.FailOpen() {
		t.Error("default fail mode should be open")
	}

	cfg.Store.FailMode = "closed"
	if cfg.FailOpen() {
		t.Error("FailOpen() = true with fail_mode closed")
	}
}

func TestFindConfigFileInPaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "fluxgate.yml")
	if err := os.WriteFile(path, []byte("dev_mode: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if got := findConfigFileInPaths([]string{t.TempDir(), dir}); got != path {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, path)
	}
	if got := findConfigFileInPaths([]string{t.TempDir()}); got != "" {
		t.Errorf("findConfigFileInPaths = %q, want empty", got)
	}
}
