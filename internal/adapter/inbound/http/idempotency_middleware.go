package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flux-gate/fluxgate/internal/domain/idempotency"
	"github.com/flux-gate/fluxgate/internal/domain/identity"
	"github.com/flux-gate/fluxgate/internal/port/outbound"
)

// DefaultIdempotencyTTL is how long cached responses are replayed. After
// expiry a repeated key re-executes the handler; that is accepted behavior,
// not a defect.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyOptions configures the idempotency middleware.
type IdempotencyOptions struct {
	// TTL is the cached response lifetime. Zero means DefaultIdempotencyTTL.
	TTL time.Duration

	// StoreTimeout bounds each store round trip. Zero means the admission
	// default.
	StoreTimeout time.Duration

	// FailOpen selects the store-failure policy. When true, a failed cache
	// lookup executes the handler normally and skips the cache write; when
	// false the request is rejected with 503.
	FailOpen bool

	// IdentitySecret keys the HMAC credential fingerprint scoping cache keys.
	IdentitySecret string

	Metrics *Metrics
}

// IdempotencyMiddleware makes repeated submission of the same mutation with
// the same Idempotency-Key header safe: the first successful 2xx response
// is cached and replayed byte-for-byte, and key reuse with a different body
// is rejected with 409. It runs INSIDE the rate limiter, so a replay still
// consumes a token.
func IdempotencyMiddleware(store outbound.Store, opts IdempotencyOptions) func(http.Handler) http.Handler {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	storeTimeout := opts.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = 250 * time.Millisecond
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(idempotency.Header)
			// Only mutating methods carrying a key are guarded; everything
			// else executes normally every time, key header or not.
			if key == "" || !idempotency.MethodApplies(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			logger := LoggerFromContext(r.Context())

			// Drain the transport body so the hash covers exactly the bytes
			// the handler would have seen.
			body, err := io.ReadAll(r.Body)
			if err != nil {
				// Client went away mid-read: the request never reaches the
				// inner handler and nothing is cached.
				logger.Warn("aborting idempotent request, body read failed", "error", err)
				writeProblem(w, http.StatusBadRequest,
					"Bad Request", "request body could not be read")
				return
			}
			r.Body.Close()

			bodyHash := idempotency.HashBody(body)
			cacheKey := idempotency.CacheKey(
				identity.FingerprintRequest(r, opts.IdentitySecret), key, r.Method, r.URL.Path)

			// Replay source: the handler observes the buffered body exactly
			// once, as a single chunk, then EOF.
			r.Body = io.NopCloser(bytes.NewReader(body))

			cached, found, lookupFailed := lookup(r.Context(), store, cacheKey, storeTimeout)
			if lookupFailed {
				if opts.Metrics != nil {
					opts.Metrics.StoreErrors.WithLabelValues("get").Inc()
				}
				if !opts.FailOpen {
					logger.Error("idempotency store unavailable, failing closed", "key", cacheKey)
					writeProblem(w, http.StatusServiceUnavailable,
						"Service Unavailable", "idempotency state is temporarily unavailable")
					return
				}
				logger.Warn("idempotency lookup failed, executing without replay protection", "key", cacheKey)
				// Skip the cache write too: a blind overwrite after a failed
				// read could clobber a concurrent writer's record.
				next.ServeHTTP(w, r)
				return
			}

			if found {
				if !cached.Matches(bodyHash) {
					logger.Warn("idempotency key reused with different body", "key", key)
					if opts.Metrics != nil {
						opts.Metrics.IdempotencyEvents.WithLabelValues("conflict").Inc()
					}
					writeProblem(w, http.StatusConflict, "Conflict",
						fmt.Sprintf("idempotency key %q was previously used with a different request body", key))
					return
				}
				logger.Debug("replaying cached idempotent response", "key", key, "status", cached.StatusCode)
				if opts.Metrics != nil {
					opts.Metrics.IdempotencyEvents.WithLabelValues("replay").Inc()
				}
				replay(w, cached)
				return
			}

			if opts.Metrics != nil {
				opts.Metrics.IdempotencyEvents.WithLabelValues("miss").Inc()
			}

			capture := newResponseCapture(w)
			next.ServeHTTP(capture, r)

			// The last frame has already reached the client; caching latency
			// never delays delivery.
			record, cacheable := capture.Snapshot(bodyHash)
			if !cacheable {
				return
			}
			raw, err := idempotency.Encode(record)
			if err != nil {
				logger.Error("failed to encode cached response", "key", key, "error", err)
				return
			}
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), storeTimeout)
			defer cancel()
			if err := store.Set(ctx, cacheKey, raw, ttl); err != nil {
				// The response already went out; a failed write just means
				// a retry re-executes.
				logger.Warn("failed to store idempotent response", "key", key, "error", err)
				if opts.Metrics != nil {
					opts.Metrics.StoreErrors.WithLabelValues("set").Inc()
				}
				return
			}
			if opts.Metrics != nil {
				opts.Metrics.IdempotencyEvents.WithLabelValues("stored").Inc()
			}
		})
	}
}

// lookup reads a cached record. The third return value reports an
// infrastructure failure, distinct from a plain miss.
func lookup(ctx context.Context, store outbound.Store, key string, timeout time.Duration) (idempotency.CachedResponse, bool, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, found, err := store.Get(ctx, key)
	if err != nil {
		return idempotency.CachedResponse{}, false, true
	}
	if !found {
		return idempotency.CachedResponse{}, false, false
	}
	record, err := idempotency.Decode(raw)
	if err != nil {
		// Corrupt record: treat as a miss so the handler re-executes.
		return idempotency.CachedResponse{}, false, false
	}
	return record, true, false
}

// replay synthesizes the stored response byte-for-byte. The inner handler
// is not invoked at all.
func replay(w http.ResponseWriter, cached idempotency.CachedResponse) {
	for _, h := range cached.Headers {
		w.Header().Add(h.Name, h.Value)
	}
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
}
