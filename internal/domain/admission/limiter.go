// Package admission implements the rate-limit orchestrator. It evaluates an
// ordered list of token-bucket policies against one request, consuming one
// token per policy, and aggregates the rate-limit response headers.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/flux-gate/fluxgate/internal/domain/bucket"
	"github.com/flux-gate/fluxgate/internal/port/outbound"
)

// ErrStoreUnavailable indicates the shared store could not serve a bucket
// read or write. Under the fail-closed policy the transport maps it to 503.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// DefaultStoreTimeout bounds each store round trip.
const DefaultStoreTimeout = 250 * time.Millisecond

// Route attaches extra policies to requests matching a path prefix and,
// optionally, a method set.
type Route struct {
	// PathPrefix matches the start of the request path.
	PathPrefix string

	// Methods restricts the route to the given methods. Empty means all.
	Methods []string

	// Policies are evaluated after the global policies for matching
	// requests, sorted ascending by priority.
	Policies []bucket.Policy
}

// matches reports whether the route applies to the request.
func (rt Route) matches(r *http.Request) bool {
	if !strings.HasPrefix(r.URL.Path, rt.PathPrefix) {
		return false
	}
	if len(rt.Methods) == 0 {
		return true
	}
	for _, m := range rt.Methods {
		if strings.EqualFold(m, r.Method) {
			return true
		}
	}
	return false
}

// Result is the typed outcome of an admission check. The transport layer
// translates it to an HTTP response; no error unwinding is involved in the
// allow/deny decision itself.
type Result struct {
	// Allowed reports whether the request may proceed to the inner handler.
	Allowed bool

	// Headers carries the aggregated RateLimit and RateLimit-Policy values.
	// On denial it contains only fragments from policies that opted into
	// header emission on reject.
	Headers http.Header

	// RetryAfter is how long the client should wait before retrying.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration

	// DeniedPolicy names the first exhausted policy when Allowed is false.
	DeniedPolicy string

	// FailedOpen is true when one or more store failures were tolerated
	// under the fail-open policy, so the decision is advisory.
	FailedOpen bool
}

// Options configures a Limiter.
type Options struct {
	// Global policies apply to every request, before route policies.
	Global []bucket.Policy

	// Routes attach additional policies to matching requests.
	Routes []Route

	// StoreTimeout bounds each store round trip. Zero means
	// DefaultStoreTimeout.
	StoreTimeout time.Duration

	// FailOpen selects the store-failure policy: true tolerates store
	// failures by skipping consumption, false surfaces ErrStoreUnavailable.
	FailOpen bool

	// Now overrides the clock, for tests. Zero value means time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Limiter evaluates rate-limit policies against requests. It is stateless
// apart from its immutable configuration; all cross-request coordination
// goes through the store. Safe for concurrent use.
type Limiter struct {
	store        outbound.Store
	global       []bucket.Policy
	routes       []Route
	storeTimeout time.Duration
	failOpen     bool
	now          func() time.Time
	logger       *slog.Logger
}

// New builds a Limiter. Policy lists are stably sorted ascending by
// priority once, here, and shared read-only afterwards.
func New(store outbound.Store, opts Options) (*Limiter, error) {
	for _, p := range opts.Global {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	global := sortedByPriority(opts.Global)

	routes := make([]Route, len(opts.Routes))
	for i, rt := range opts.Routes {
		for _, p := range rt.Policies {
			if err := p.Validate(); err != nil {
				return nil, fmt.Errorf("route %q: %w", rt.PathPrefix, err)
			}
		}
		rt.Policies = sortedByPriority(rt.Policies)
		routes[i] = rt
	}

	timeout := opts.StoreTimeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Limiter{
		store:        store,
		global:       global,
		routes:       routes,
		storeTimeout: timeout,
		failOpen:     opts.FailOpen,
		now:          now,
		logger:       logger,
	}, nil
}

// sortedByPriority returns a stably sorted copy; the input is not mutated.
func sortedByPriority(policies []bucket.Policy) []bucket.Policy {
	out := make([]bucket.Policy, len(policies))
	copy(out, policies)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// policiesFor merges global policies with route policies matching the
// request: global first, then route, each list already priority-sorted.
func (l *Limiter) policiesFor(r *http.Request) []bucket.Policy {
	policies := l.global
	for _, rt := range l.routes {
		if rt.matches(r) {
			merged := make([]bucket.Policy, 0, len(policies)+len(rt.Policies))
			merged = append(merged, policies...)
			merged = append(merged, rt.Policies...)
			policies = merged
		}
	}
	return policies
}

// evaluated pairs a policy with its consume decision for header rendering.
type evaluated struct {
	policy   bucket.Policy
	decision bucket.Decision
}

// Evaluate runs every applicable policy against the request, consuming one
// token per policy. The first exhausted bucket terminates evaluation and
// yields a denial. identifier is the per-client identity derived by the
// transport (credential fingerprint or client address).
//
// Bucket state is persisted unconditionally after each consume, on allow
// and deny alike. The load/consume/save sequence is deliberately not atomic
// across concurrent requests for the same identifier; see package docs.
func (l *Limiter) Evaluate(ctx context.Context, r *http.Request, identifier string) (Result, error) {
	var seen []evaluated
	failedOpen := false

	for _, p := range l.policiesFor(r) {
		if p.IsExempt(r) {
			continue
		}

		key := p.Key(identifier)
		state, err := l.loadState(ctx, key)
		if err != nil {
			if !l.failOpen {
				return Result{}, fmt.Errorf("%w: load %q: %v", ErrStoreUnavailable, key, err)
			}
			l.logger.Warn("bucket load failed, failing open", "key", key, "error", err)
			failedOpen = true
			continue
		}

		next, decision := bucket.Consume(state, p, l.now())

		if err := l.saveState(ctx, key, next, p.StateTTL()); err != nil {
			if !l.failOpen {
				return Result{}, fmt.Errorf("%w: save %q: %v", ErrStoreUnavailable, key, err)
			}
			l.logger.Warn("bucket save failed, failing open", "key", key, "error", err)
			failedOpen = true
		}

		seen = append(seen, evaluated{policy: p, decision: decision})

		if !decision.Allowed {
			return Result{
				Allowed:      false,
				Headers:      renderHeaders(seen, rejectEmission),
				RetryAfter:   decision.RetryAfter(),
				DeniedPolicy: p.Name,
				FailedOpen:   failedOpen,
			}, nil
		}
	}

	return Result{
		Allowed:    true,
		Headers:    renderHeaders(seen, successEmission),
		FailedOpen: failedOpen,
	}, nil
}

// loadState reads bucket state from the store. A missing key yields a nil
// state (fresh bucket). Corrupt state is treated as missing after logging;
// a store failure is returned as an error so the caller can apply the
// fail-open/fail-closed policy without resetting the bucket.
func (l *Limiter) loadState(ctx context.Context, key string) (*bucket.State, error) {
	ctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	raw, found, err := l.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	state, err := bucket.DecodeState(raw)
	if err != nil {
		l.logger.Warn("discarding corrupt bucket state", "key", key, "error", err)
		return nil, nil
	}
	return &state, nil
}

// saveState writes bucket state back with the policy's expiry.
func (l *Limiter) saveState(ctx context.Context, key string, state bucket.State, ttl time.Duration) error {
	raw, err := bucket.EncodeState(state)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()
	return l.store.Set(ctx, key, raw, ttl)
}

// emission selects which policies contribute headers for a given outcome.
type emission func(bucket.Policy) bool

func successEmission(p bucket.Policy) bool { return p.EmitHeaders }
func rejectEmission(p bucket.Policy) bool  { return p.EmitHeadersOnReject }

// renderHeaders aggregates header fragments for the evaluated policies,
// joining multiple fragments into a single value per header name.
func renderHeaders(seen []evaluated, emit emission) http.Header {
	var policyFrags, stateFrags []string
	for _, e := range seen {
		if !emit(e.policy) {
			continue
		}
		policyFrags = append(policyFrags, bucket.PolicyFragment(e.policy))
		stateFrags = append(stateFrags, bucket.StateFragment(e.policy, e.decision))
	}

	headers := http.Header{}
	if len(policyFrags) > 0 {
		headers.Set(bucket.HeaderRateLimitPolicy, bucket.JoinFragments(policyFrags))
		headers.Set(bucket.HeaderRateLimit, bucket.JoinFragments(stateFrags))
	}
	return headers
}
