package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/flux-gate/fluxgate/internal/port/outbound"
)

// healthCheckTimeout bounds the store ping from the health endpoint.
const healthCheckTimeout = time.Second

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// HealthChecker verifies component health.
type HealthChecker struct {
	store   outbound.Store
	version string
}

// NewHealthChecker creates a HealthChecker over the shared store.
func NewHealthChecker(store outbound.Store, version string) *HealthChecker {
	return &HealthChecker{store: store, version: version}
}

// Check pings the store, when it supports pinging, and reports overall
// gateway health.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if pinger, ok := h.store.(outbound.Pinger); ok {
		ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		defer cancel()
		if err := pinger.Ping(ctx); err != nil {
			checks["store"] = "unreachable: " + err.Error()
			healthy = false
		} else {
			checks["store"] = "ok"
		}
	} else {
		checks["store"] = "not checkable"
	}

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{Status: status, Checks: checks, Version: h.version}
}

// Handler serves the health endpoint. Unhealthy reports 503 so load
// balancers can rotate the instance out.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
}
