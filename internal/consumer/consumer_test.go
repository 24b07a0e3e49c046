package consumer

import (
	"net/http"
	"strings"
	"testing"
)

func headers(pairs ...string) http.Header {
	h := http.Header{}
	for i := 0; i < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

func TestFromHeadersAPIKeyVerbatim(t *testing.T) {
	got := FromHeaders(headers("X-API-Key", "ak_live_abc123"))
	if got != "ak_live_abc123" {
		t.Errorf("got %q, want api key verbatim", got)
	}
}

func TestFromHeadersAuthorizationHashed(t *testing.T) {
	got := FromHeaders(headers("Authorization", "Bearer secret"))

	if len(got) != 17 {
		t.Errorf("identifier length = %d, want 17", len(got))
	}
	if !strings.HasPrefix(got, "hash_") {
		t.Errorf("identifier %q missing hash_ prefix", got)
	}
	for _, r := range got[len("hash_"):] {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Errorf("identifier %q suffix is not lowercase hex", got)
			break
		}
	}
	if strings.Contains(got, "secret") {
		t.Errorf("identifier %q leaks credential material", got)
	}
}

func TestFromHeadersDeterministic(t *testing.T) {
	a := FromHeaders(headers("Authorization", "Bearer secret"))
	b := FromHeaders(headers("Authorization", "Bearer secret"))
	c := FromHeaders(headers("Authorization", "Bearer other"))

	if a != b {
		t.Errorf("same input produced %q and %q", a, b)
	}
	if a == c {
		t.Errorf("different inputs produced the same identifier %q", a)
	}
}

func TestFromHeadersAPIKeyPriority(t *testing.T) {
	got := FromHeaders(headers(
		"X-API-Key", "ak_live_abc123",
		"Authorization", "Bearer secret",
	))
	if got != "ak_live_abc123" {
		t.Errorf("got %q, want api key to win over authorization", got)
	}
}

func TestFromHeadersCaseInsensitive(t *testing.T) {
	h := http.Header{}
	h.Set("x-api-key", "ak_live_abc123")
	if got := FromHeaders(h); got != "ak_live_abc123" {
		t.Errorf("got %q, want lookup to be case-insensitive", got)
	}
}

func TestFromHeadersNone(t *testing.T) {
	if got := FromHeaders(http.Header{}); got != "" {
		t.Errorf("got %q, want empty for no headers", got)
	}
	if got := FromHeaders(headers("X-API-Key", "  ")); got != "" {
		t.Errorf("got %q, want empty for blank api key", got)
	}
}
