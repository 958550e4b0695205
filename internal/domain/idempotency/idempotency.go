// Package idempotency holds the cached-response record and the cache-key
// and body-hash derivation for the idempotency replay layer.
//
// A cached response is written once per key, only for 2xx completions, and
// replayed byte-for-byte on subsequent requests carrying the same key and
// an identical body. Reusing a key with a different body is a conflict.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Header is the client-supplied idempotency key header.
const Header = "Idempotency-Key"

// cacheableMethods are the mutating methods the guard applies to. All other
// methods bypass the guard entirely, key header or not.
var cacheableMethods = map[string]struct{}{
	"POST":  {},
	"PUT":   {},
	"PATCH": {},
}

// MethodApplies reports whether the guard considers the HTTP method at all.
func MethodApplies(method string) bool {
	_, ok := cacheableMethods[strings.ToUpper(method)]
	return ok
}

// HeaderPair is one response header as an ordered name/value pair.
// A slice of pairs preserves ordering and duplicates, which http.Header
// alone would not.
type HeaderPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CachedResponse is the serializable snapshot of a captured response.
// encoding/json base64-encodes Body, keeping the record safe for
// text-oriented stores.
type CachedResponse struct {
	StatusCode      int          `json:"status_code"`
	Headers         []HeaderPair `json:"headers"`
	Body            []byte       `json:"body"`
	RequestBodyHash string       `json:"request_body_hash"`
}

// Matches reports whether the record was produced by a request with the
// given body hash. A mismatch means the key was reused with a different
// payload.
func (c CachedResponse) Matches(bodyHash string) bool {
	return c.RequestBodyHash == bodyHash
}

// Cacheable reports whether a completed response should be recorded.
// Failed attempts are never cached: the client must be able to retry them.
func Cacheable(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// CacheKey scopes cache entries per principal, key, method, and path. The
// same key reused against a different endpoint is a different entry.
func CacheKey(fingerprint, key, method, path string) string {
	return fingerprint + ":" + key + ":" + method + ":" + path
}

// HashBody returns the SHA-256 hex digest of a request body.
func HashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Encode serializes a record for the store.
func Encode(c CachedResponse) ([]byte, error) {
	return json.Marshal(c)
}

// Decode deserializes a record from the store.
func Decode(b []byte) (CachedResponse, error) {
	var c CachedResponse
	err := json.Unmarshal(b, &c)
	return c, err
}
