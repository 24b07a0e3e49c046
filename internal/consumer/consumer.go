// Package consumer derives a stable, privacy-safe consumer identifier from
// request headers.
package consumer

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

const hashPrefix = "hash_"

// FromHeaders returns an identifier for the API consumer that issued the
// request, or "" when none can be derived. An X-API-Key value is already an
// opaque identifier and is returned verbatim. An Authorization value is
// credential material and is therefore reduced to a short SHA-256 digest;
// the raw value is never stored or shipped.
func FromHeaders(h http.Header) string {
	if key := strings.TrimSpace(h.Get("X-API-Key")); key != "" {
		return key
	}
	if auth := strings.TrimSpace(h.Get("Authorization")); auth != "" {
		sum := sha256.Sum256([]byte(auth))
		return hashPrefix + hex.EncodeToString(sum[:])[:12]
	}
	return ""
}
