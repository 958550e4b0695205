package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthChecker_HealthyStore(t *testing.T) {
	t.Parallel()

	store := &pingStore{stubStore: newStubStore()}
	hc := NewHealthChecker(store, "1.2.3")

	rec := httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Status = %q", resp.Status)
	}
	if resp.Checks["store"] != "ok" {
		t.Errorf("store check = %q", resp.Checks["store"])
	}
	if resp.Version != "1.2.3" {
		t.Errorf("Version = %q", resp.Version)
	}
}

func TestHealthChecker_UnreachableStore(t *testing.T) {
	t.Parallel()

	store := &pingStore{stubStore: newStubStore(), pingErr: errors.New("connection refused")}
	hc := NewHealthChecker(store, "")

	rec := httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("Status = %q", resp.Status)
	}
}

func TestHealthChecker_StoreWithoutPing(t *testing.T) {
	t.Parallel()

	hc := NewHealthChecker(newStubStore(), "")

	rec := httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	// A store that cannot be pinged is not a failure.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Checks["store"] != "not checkable" {
		t.Errorf("store check = %q", resp.Checks["store"])
	}
}
