package bucket

import (
	"fmt"
	"math"
	"strings"
)

// Header names from the IETF draft rate-limit header fields.
const (
	HeaderRateLimit       = "RateLimit"
	HeaderRateLimitPolicy = "RateLimit-Policy"
	HeaderRetryAfter      = "Retry-After"
)

// PolicyFragment renders the RateLimit-Policy item for one policy:
// "<name>";q=<capacity>;w=<window>.
func PolicyFragment(p Policy) string {
	return fmt.Sprintf("%q;q=%d;w=%d", p.Name, p.Capacity, p.Window())
}

// StateFragment renders the RateLimit item for one policy given the token
// count after the consume decision: "<name>";r=<remaining>;t=<reset>.
func StateFragment(p Policy, d Decision) string {
	return fmt.Sprintf("%q;r=%d;t=%d", p.Name, int(math.Floor(d.Tokens)), int(math.Ceil(d.ResetAfter)))
}

// JoinFragments combines per-policy header items into a single field value.
// Multiple policies share one header line rather than repeated headers.
func JoinFragments(fragments []string) string {
	return strings.Join(fragments, ", ")
}
