package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/alexedwards/argon2id"

	"github.com/flux-gate/fluxgate/internal/domain/admission"
	"github.com/flux-gate/fluxgate/internal/domain/bucket"
	"github.com/flux-gate/fluxgate/internal/domain/identity"
)

// BypassHeader is the internal testing/ops override: a request carrying a
// token that verifies against the configured hash skips the rate limiter
// for all policies. It has no effect on the idempotency layer.
const BypassHeader = "X-RateLimit-Bypass"

// RateLimitOptions configures the rate limit middleware.
type RateLimitOptions struct {
	// IdentitySecret keys the HMAC credential fingerprint.
	IdentitySecret string

	// BypassTokenHash is the Argon2id hash the BypassHeader value must
	// verify against. Empty disables the bypass entirely.
	BypassTokenHash string

	Metrics *Metrics
}

// RateLimitMiddleware gates requests through the admission limiter. It runs
// OUTSIDE the idempotency layer: a replayed idempotent response has already
// consumed a token by the time the replay happens.
func RateLimitMiddleware(limiter *admission.Limiter, opts RateLimitOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := LoggerFromContext(r.Context())

			if bypassed(r, opts.BypassTokenHash) {
				logger.Debug("rate limiter bypassed by override header")
				if opts.Metrics != nil {
					opts.Metrics.RateLimitDecisions.WithLabelValues("", "bypassed").Inc()
				}
				next.ServeHTTP(w, r)
				return
			}

			identifier := identity.Identify(r, opts.IdentitySecret)
			result, err := limiter.Evaluate(r.Context(), r, identifier)
			if err != nil {
				// Fail-closed store outage. Fail-open never returns an error.
				if errors.Is(err, admission.ErrStoreUnavailable) {
					logger.Error("admission store unavailable, failing closed", "error", err)
					if opts.Metrics != nil {
						opts.Metrics.StoreErrors.WithLabelValues("get").Inc()
					}
					writeProblem(w, http.StatusServiceUnavailable,
						"Service Unavailable", "rate limit state is temporarily unavailable")
					return
				}
				logger.Error("admission evaluation failed", "error", err)
				writeProblem(w, http.StatusInternalServerError,
					"Internal Server Error", "request admission failed")
				return
			}

			copyHeaders(w.Header(), result.Headers)

			if !result.Allowed {
				logger.Warn("request rate limited",
					"policy", result.DeniedPolicy,
					"identifier", identifier,
					"retry_after", result.RetryAfter,
				)
				if opts.Metrics != nil {
					opts.Metrics.RateLimitDecisions.WithLabelValues(result.DeniedPolicy, "denied").Inc()
				}
				w.Header().Set(bucket.HeaderRetryAfter, strconv.Itoa(int(result.RetryAfter.Seconds())))
				writeProblem(w, http.StatusTooManyRequests,
					"Too Many Requests", "rate limit exceeded for policy "+strconv.Quote(result.DeniedPolicy))
				return
			}

			if opts.Metrics != nil {
				outcome := "allowed"
				if result.FailedOpen {
					outcome = "failed_open"
				}
				opts.Metrics.RateLimitDecisions.WithLabelValues("", outcome).Inc()
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bypassed verifies the override header against the configured Argon2id
// hash. Verification failures (malformed hash, wrong token) never bypass.
func bypassed(r *http.Request, tokenHash string) bool {
	if tokenHash == "" {
		return false
	}
	token := r.Header.Get(BypassHeader)
	if token == "" {
		return false
	}
	match, err := argon2id.ComparePasswordAndHash(token, tokenHash)
	return err == nil && match
}

// copyHeaders merges aggregated rate-limit headers into the response.
func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		for _, v := range values {
			dst.Set(name, v)
		}
	}
}
