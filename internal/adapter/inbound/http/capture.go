package http

import (
	"bytes"
	"net/http"

	"github.com/flux-gate/fluxgate/internal/domain/idempotency"
)

// responseCapture is a transparent proxy between the inner handler and the
// real transport: every frame is forwarded unchanged and immediately, while
// status, headers, and body accumulate for caching once the response has
// been fully emitted.
type responseCapture struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	preset      map[string]struct{}
	headers     []idempotency.HeaderPair
	body        bytes.Buffer
}

func newResponseCapture(w http.ResponseWriter) *responseCapture {
	// Headers already on the writer belong to the outer gateway layers
	// (request id, rate-limit state). They describe THIS request, so they
	// must not end up in the cached record: a replay gets fresh values from
	// those layers, and caching stale copies would duplicate them.
	preset := make(map[string]struct{}, len(w.Header()))
	for name := range w.Header() {
		preset[name] = struct{}{}
	}
	return &responseCapture{ResponseWriter: w, preset: preset}
}

// WriteHeader snapshots the status and header set at the moment the
// response starts, then forwards the frame.
func (c *responseCapture) WriteHeader(status int) {
	if !c.wroteHeader {
		c.status = status
		c.wroteHeader = true
		c.headers = snapshotHeaders(c.Header(), c.preset)
	}
	c.ResponseWriter.WriteHeader(status)
}

// Write buffers each body frame and forwards it untouched.
func (c *responseCapture) Write(p []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}

// Flush delegates to the underlying ResponseWriter if it supports
// http.Flusher, so streamed responses keep flowing through the capture.
func (c *responseCapture) Flush() {
	if f, ok := c.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Snapshot builds the cacheable record once the handler has returned.
// Non-2xx responses are never cached: a failed attempt must re-execute on
// retry. The bool reports whether the response qualifies.
func (c *responseCapture) Snapshot(requestBodyHash string) (idempotency.CachedResponse, bool) {
	status := c.status
	if !c.wroteHeader {
		// Handler wrote nothing; net/http would have sent an empty 200.
		status = http.StatusOK
		c.headers = snapshotHeaders(c.Header(), c.preset)
	}
	if !idempotency.Cacheable(status) {
		return idempotency.CachedResponse{}, false
	}
	return idempotency.CachedResponse{
		StatusCode:      status,
		Headers:         c.headers,
		Body:            c.body.Bytes(),
		RequestBodyHash: requestBodyHash,
	}, true
}

// snapshotHeaders flattens an http.Header into ordered pairs, preserving
// duplicate values. Keys in skip are omitted: net/http shares one header map
// across the whole chain, so the map also holds per-request headers written
// before the capture was constructed.
func snapshotHeaders(h http.Header, skip map[string]struct{}) []idempotency.HeaderPair {
	pairs := make([]idempotency.HeaderPair, 0, len(h))
	for name, values := range h {
		if _, ok := skip[name]; ok {
			continue
		}
		for _, v := range values {
			pairs = append(pairs, idempotency.HeaderPair{Name: name, Value: v})
		}
	}
	return pairs
}
