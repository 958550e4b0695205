package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResponseCapture_MirrorsFramesToTransport(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	c := newResponseCapture(rec)

	c.Header().Set("Content-Type", "application/json")
	c.WriteHeader(http.StatusCreated)
	c.Write([]byte(`{"id":`))
	c.Write([]byte(`"42"}`))

	// The real transport sees everything, unchanged.
	if rec.Code != http.StatusCreated {
		t.Errorf("transport status = %d, want 201", rec.Code)
	}
	if got := rec.Body.String(); got != `{"id":"42"}` {
		t.Errorf("transport body = %q", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("transport Content-Type = %q", got)
	}
}

func TestResponseCapture_SnapshotBuffersCompleteResponse(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	c := newResponseCapture(rec)

	c.Header().Add("Set-Cookie", "a=1")
	c.Header().Add("Set-Cookie", "b=2")
	c.WriteHeader(http.StatusCreated)
	c.Write([]byte("part1 "))
	c.Write([]byte("part2"))

	record, ok := c.Snapshot("hash123")
	if !ok {
		t.Fatal("2xx response should be cacheable")
	}
	if record.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want 201", record.StatusCode)
	}
	if string(record.Body) != "part1 part2" {
		t.Errorf("Body = %q, want concatenated frames", record.Body)
	}
	if record.RequestBodyHash != "hash123" {
		t.Errorf("RequestBodyHash = %q", record.RequestBodyHash)
	}

	cookies := 0
	for _, h := range record.Headers {
		if h.Name == "Set-Cookie" {
			cookies++
		}
	}
	if cookies != 2 {
		t.Errorf("captured %d Set-Cookie headers, want duplicates preserved (2)", cookies)
	}
}

func TestResponseCapture_NonTwoxxNeverCached(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusBadRequest, http.StatusConflict, http.StatusInternalServerError} {
		rec := httptest.NewRecorder()
		c := newResponseCapture(rec)
		c.WriteHeader(status)
		c.Write([]byte("failure detail"))

		if _, ok := c.Snapshot("h"); ok {
			t.Errorf("status %d must not be cacheable", status)
		}
		// The transport still received the full error response.
		if rec.Code != status || rec.Body.String() != "failure detail" {
			t.Errorf("status %d: transport response altered", status)
		}
	}
}

func TestResponseCapture_ImplicitOK(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	c := newResponseCapture(rec)
	c.Write([]byte("ok"))

	record, ok := c.Snapshot("h")
	if !ok || record.StatusCode != http.StatusOK {
		t.Errorf("implicit WriteHeader should snapshot as 200, got %d ok=%v", record.StatusCode, ok)
	}
}

func TestResponseCapture_EmptyBodyHandler(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	c := newResponseCapture(rec)
	// Handler returns without writing anything; net/http sends empty 200.
	record, ok := c.Snapshot("h")
	if !ok || record.StatusCode != http.StatusOK || len(record.Body) != 0 {
		t.Errorf("empty handler: record = %+v ok=%v, want empty 200", record, ok)
	}
}

func TestResponseCapture_PresetHeadersExcluded(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	// Outer layers write per-request headers before the capture exists.
	rec.Header().Set("X-Request-Id", "req-1")
	rec.Header().Add("Ratelimit", `"api";r=4;t=0`)

	c := newResponseCapture(rec)
	c.Header().Set("Content-Type", "application/json")
	c.WriteHeader(http.StatusCreated)
	c.Write([]byte("{}"))

	record, ok := c.Snapshot("h")
	if !ok {
		t.Fatal("2xx response should be cacheable")
	}
	for _, h := range record.Headers {
		if h.Name == "X-Request-Id" || h.Name == "Ratelimit" {
			t.Errorf("snapshot includes per-request header %s", h.Name)
		}
	}
	var contentType string
	for _, h := range record.Headers {
		if h.Name == "Content-Type" {
			contentType = h.Value
		}
	}
	if contentType != "application/json" {
		t.Errorf("handler-set Content-Type missing from snapshot, headers = %v", record.Headers)
	}
}

func TestResponseCapture_HeaderMutationAfterWriteHeaderIgnored(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	c := newResponseCapture(rec)

	c.Header().Set("X-First", "yes")
	c.WriteHeader(http.StatusOK)
	// Mutations after the response started must not leak into the snapshot.
	c.Header().Set("X-Late", "no")

	record, _ := c.Snapshot("h")
	for _, h := range record.Headers {
		if h.Name == "X-Late" {
			t.Error("snapshot includes header set after WriteHeader")
		}
	}
}
