// Package bucket implements the token bucket rate-limit arithmetic: the
// persisted bucket state, the pure consume function, and the IETF draft
// rate-limit header rendering.
package bucket

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// stateTTLMargin is the safety margin added on top of the full-refill time
// when computing how long bucket state may live in the store.
const stateTTLMargin = 60 * time.Second

// Policy is an immutable rate-limit configuration value. A single Policy
// is shared read-only by every request that matches it.
type Policy struct {
	// Name identifies the policy in store keys and emitted headers.
	Name string

	// Capacity is the maximum number of tokens (burst size).
	Capacity int

	// RefillRate is the number of tokens added per second.
	RefillRate float64

	// Priority orders policy evaluation; lower sorts first.
	Priority int

	// EmitHeaders controls whether this policy contributes RateLimit and
	// RateLimit-Policy header fragments on admitted requests.
	EmitHeaders bool

	// EmitHeadersOnReject controls whether this policy's fragments are
	// attached to a 429 response.
	EmitHeadersOnReject bool

	// Exempt, when non-nil and returning true, skips this policy entirely
	// for the request: no token is consumed and no headers are emitted.
	Exempt func(*http.Request) bool
}

// Validate reports whether the policy parameters are usable.
func (p Policy) Validate() error {
	if p.Name == "" {
		return errors.New("policy name is required")
	}
	if p.Capacity <= 0 {
		return fmt.Errorf("policy %q: capacity must be positive, got %d", p.Name, p.Capacity)
	}
	if p.RefillRate <= 0 {
		return fmt.Errorf("policy %q: refill rate must be positive, got %g", p.Name, p.RefillRate)
	}
	return nil
}

// Window is the number of seconds needed to refill an empty bucket to full.
// Rendered as the "w" parameter of RateLimit-Policy.
func (p Policy) Window() int {
	return int(math.Ceil(float64(p.Capacity) / p.RefillRate))
}

// StateTTL bounds how long bucket state for an abandoned identity survives
// in the store: long enough to fully refill, plus a safety margin.
func (p Policy) StateTTL() time.Duration {
	return time.Duration(p.Window())*time.Second + stateTTLMargin
}

// Key returns the store key scoping bucket state to one (client, policy)
// pair. Two policies never share a bucket, even for the same client.
func (p Policy) Key(identifier string) string {
	return identifier + ":" + p.Name
}

// IsExempt evaluates the exemption predicate against the request.
func (p Policy) IsExempt(r *http.Request) bool {
	return p.Exempt != nil && p.Exempt(r)
}
