// Package identity derives the per-client identifier used to scope
// rate-limit buckets and idempotency cache entries.
//
// When a request carries a credential, the identifier is a truncated HMAC
// fingerprint of it, so the raw credential never appears in store keys or
// logs. Unauthenticated requests fall back to proxy-forwarded client IP
// headers, then the transport peer address.
package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// Anonymous is the identifier of last resort, used when a request carries
// no credential and no usable client address.
const Anonymous = "anonymous"

// fingerprintLen is the number of hex characters kept from the HMAC digest.
const fingerprintLen = 16

// ipHeaders are the client-identity fallback headers, in precedence order.
// The order matters: it decides whether deployments behind reverse proxies
// rate-limit per real client or collapse onto a single proxy identity.
var ipHeaders = []string{"X-Forwarded-For", "X-Real-IP", "CF-Connecting-IP"}

// Fingerprint returns the truncated hex HMAC-SHA256 of credential under
// secret. The result is stable for a given (secret, credential) pair and
// safe to embed in store keys and headers.
func Fingerprint(secret, credential string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(credential))
	return hex.EncodeToString(mac.Sum(nil))[:fingerprintLen]
}

// Credential extracts the API credential from a request. It accepts an
// Authorization Bearer token, falling back to the X-API-Key header.
func Credential(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if token := strings.TrimPrefix(auth, "Bearer "); token != "" {
			return token, true
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key, true
	}
	return "", false
}

// FingerprintRequest returns the credential fingerprint for a request, or
// Anonymous when the request carries no credential.
func FingerprintRequest(r *http.Request, secret string) string {
	if credential, ok := Credential(r); ok {
		return Fingerprint(secret, credential)
	}
	return Anonymous
}

// Identify derives the request identifier: the credential fingerprint when
// a credential is present, otherwise the forwarded client IP, the transport
// peer address, or Anonymous.
func Identify(r *http.Request, secret string) string {
	if credential, ok := Credential(r); ok {
		return Fingerprint(secret, credential)
	}
	return ClientAddr(r)
}

// ClientAddr returns the best-effort client address for an unauthenticated
// request, following the fallback order X-Forwarded-For, X-Real-IP,
// CF-Connecting-IP, peer address, Anonymous.
func ClientAddr(r *http.Request) string {
	for _, name := range ipHeaders {
		if v := r.Header.Get(name); v != "" {
			// X-Forwarded-For may carry a chain; the first hop is the client.
			if i := strings.IndexByte(v, ','); i >= 0 {
				v = v[:i]
			}
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}
	return Anonymous
}
