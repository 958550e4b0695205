// Package http provides the HTTP transport adapter: the middleware chain
// that gates requests (rate limiting, idempotency replay) in front of the
// proxied upstream, plus health and metrics endpoints.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// problemContentType is the RFC 7807 media type for machine-readable errors.
const problemContentType = "application/problem+json"

// problem is the machine-readable error body attached to gateway-originated
// rejections (429, 409, 503). It intentionally carries no stack traces or
// internal identifiers.
type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// writeProblem renders a problem response. Callers set any extra headers
// (RateLimit, Retry-After) on w before calling.
func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", problemContentType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	}); err != nil {
		slog.Debug("failed to write problem body", "error", err)
	}
}
