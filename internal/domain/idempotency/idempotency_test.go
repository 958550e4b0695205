package idempotency

import (
	"bytes"
	"testing"
)

func TestMethodApplies(t *testing.T) {
	t.Parallel()

	for _, m := range []string{"POST", "PUT", "PATCH", "post", "Patch"} {
		if !MethodApplies(m) {
			t.Errorf("MethodApplies(%q) = false, want true", m)
		}
	}
	for _, m := range []string{"GET", "DELETE", "HEAD", "OPTIONS", "TRACE"} {
		if MethodApplies(m) {
			t.Errorf("MethodApplies(%q) = true, want false", m)
		}
	}
}

func TestCacheKey(t *testing.T) {
	t.Parallel()

	got := CacheKey("ab12cd34ef56ab78", "key-1", "POST", "/api/rolls")
	if want := "ab12cd34ef56ab78:key-1:POST:/api/rolls"; got != want {
		t.Errorf("CacheKey() = %q, want %q", got, want)
	}

	// Same key against a different endpoint is a different entry.
	other := CacheKey("ab12cd34ef56ab78", "key-1", "POST", "/api/users")
	if got == other {
		t.Error("cache key must vary with path")
	}
}

func TestHashBody(t *testing.T) {
	t.Parallel()

	// SHA-256 of the empty body, a fixed-length hex digest.
	got := HashBody(nil)
	if want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"; got != want {
		t.Errorf("HashBody(nil) = %q, want %q", got, want)
	}
	if len(HashBody([]byte("payload"))) != 64 {
		t.Error("digest must be 64 hex characters")
	}
	if HashBody([]byte(`{"a":1}`)) == HashBody([]byte(`{"a":2}`)) {
		t.Error("different bodies must hash differently")
	}
}

func TestCacheable(t *testing.T) {
	t.Parallel()

	for _, code := range []int{200, 201, 204, 299} {
		if !Cacheable(code) {
			t.Errorf("Cacheable(%d) = false, want true", code)
		}
	}
	for _, code := range []int{100, 301, 400, 404, 409, 429, 500, 503} {
		if Cacheable(code) {
			t.Errorf("Cacheable(%d) = true, want false", code)
		}
	}
}

func TestEncodeDecode_PreservesHeaderOrderAndDuplicates(t *testing.T) {
	t.Parallel()

	in := CachedResponse{
		StatusCode: 201,
		Headers: []HeaderPair{
			{Name: "Set-Cookie", Value: "a=1"},
			{Name: "Set-Cookie", Value: "b=2"},
			{Name: "Content-Type", Value: "application/json"},
		},
		Body:            []byte(`{"id":"42"}`),
		RequestBodyHash: HashBody([]byte(`{"name":"x"}`)),
	}

	raw, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if out.StatusCode != in.StatusCode {
		t.Errorf("StatusCode = %d, want %d", out.StatusCode, in.StatusCode)
	}
	if !bytes.Equal(out.Body, in.Body) {
		t.Errorf("Body = %q, want %q", out.Body, in.Body)
	}
	if len(out.Headers) != 3 || out.Headers[0] != in.Headers[0] || out.Headers[1] != in.Headers[1] {
		t.Errorf("Headers = %v, want order and duplicates preserved", out.Headers)
	}
	if !out.Matches(in.RequestBodyHash) {
		t.Error("Matches() should accept the original hash")
	}
	if out.Matches(HashBody([]byte("other"))) {
		t.Error("Matches() should reject a different hash")
	}
}
