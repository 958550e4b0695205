package bucket

import (
	"encoding/json"
	"math"
	"time"
)

// State is the persisted half of a token bucket. It is created lazily on
// the first request for a (policy, identifier) pair and rewritten on every
// matching request, both on allow and on deny.
//
// LastRefill is stored as Unix seconds with fractional precision.
// encoding/json renders float64 with the shortest round-trippable
// representation, so Tokens and LastRefill survive the store losslessly.
type State struct {
	Tokens     float64 `json:"tokens"`
	LastRefill float64 `json:"last_refill"`
}

// Decision is the outcome of consuming one token from a bucket.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Tokens is the token count after the decision, used for the "r"
	// parameter of the RateLimit header.
	Tokens float64

	// ResetAfter is the number of seconds until at least one token is
	// available; zero when a token is already available.
	ResetAfter float64
}

// RetryAfter is the client-facing wait in whole seconds for a denied
// request, rounded up so a retry at the boundary always succeeds.
func (d Decision) RetryAfter() time.Duration {
	return time.Duration(math.Ceil(d.ResetAfter)) * time.Second
}

// Consume refills a bucket for elapsed time and attempts to take one token.
// It is a pure function: the caller persists the returned state
// unconditionally, on allow and on deny alike.
//
// A nil state means no bucket exists yet; it initializes to a full bucket.
// Negative elapsed time (clock adjustment between two store round trips)
// is clamped to zero rather than draining the bucket.
func Consume(state *State, p Policy, now time.Time) (State, Decision) {
	ts := unixSeconds(now)
	if state == nil {
		state = &State{Tokens: float64(p.Capacity), LastRefill: ts}
	}

	elapsed := ts - state.LastRefill
	if elapsed < 0 {
		elapsed = 0
	}

	tokens := math.Min(float64(p.Capacity), state.Tokens+elapsed*p.RefillRate)
	next := State{Tokens: tokens, LastRefill: ts}

	if tokens >= 1 {
		next.Tokens = tokens - 1
		return next, Decision{Allowed: true, Tokens: next.Tokens, ResetAfter: resetAfter(next.Tokens, p)}
	}
	return next, Decision{Allowed: false, Tokens: tokens, ResetAfter: resetAfter(tokens, p)}
}

// resetAfter is the time in seconds until the bucket holds at least one
// token again.
func resetAfter(tokens float64, p Policy) float64 {
	return math.Max(0, 1-tokens) / p.RefillRate
}

// EncodeState serializes bucket state for the store.
func EncodeState(s State) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeState deserializes bucket state from the store.
func DecodeState(b []byte) (State, error) {
	var s State
	err := json.Unmarshal(b, &s)
	return s, err
}

// unixSeconds converts a wall-clock instant to fractional Unix seconds.
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
