package cmd

import (
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/flux-gate/fluxgate/internal/adapter/outbound/cel"
	"github.com/flux-gate/fluxgate/internal/config"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBuildPolicies(t *testing.T) {
	t.Parallel()

	compiler, err := cel.NewCompiler()
	if err != nil {
		t.Fatalf("NewCompiler: %v", err)
	}

	off := false
	policies, err := buildPolicies([]config.PolicyConfig{
		{Name: "api", Capacity: 100, RefillRate: 10},
		{Name: "quiet", Capacity: 5, RefillRate: 1, EmitHeaders: &off},
		{Name: "guarded", Capacity: 5, RefillRate: 1, Exempt: `path.startsWith("/internal/")`},
	}, compiler)
	if err != nil {
		t.Fatalf("buildPolicies: %v", err)
	}

	if !policies[0].EmitHeaders {
		t.Error("EmitHeaders should default to true")
	}
	if policies[1].EmitHeaders {
		t.Error("explicit emit_headers: false was ignored")
	}

	req := httptest.NewRequest("GET", "/internal/ping", nil)
	if !policies[2].IsExempt(req) {
		t.Error("compiled exemption should match /internal/ paths")
	}
	req = httptest.NewRequest("GET", "/api/things", nil)
	if policies[2].IsExempt(req) {
		t.Error("compiled exemption matched a non-internal path")
	}
}

func TestBuildPolicies_BadExpression(t *testing.T) {
	t.Parallel()

	compiler, err := cel.NewCompiler()
	if err != nil {
		t.Fatalf("NewCompiler: %v", err)
	}

	_, err = buildPolicies([]config.PolicyConfig{
		{Name: "broken", Capacity: 5, RefillRate: 1, Exempt: `path +`},
	}, compiler)
	if err == nil {
		t.Error("buildPolicies should reject an invalid expression")
	}
}
