// Package sha256 derives content digests for archived objects.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hex returns the hex-encoded SHA-256 digest of data.
func Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ETag returns a strong HTTP entity tag for data.
func ETag(data []byte) string {
	return `"` + Hex(data) + `"`
}

// Matches reports whether an If-None-Match header value names etag.
// Weak comparison is used, as for GET requests.
func Matches(ifNoneMatch, etag string) bool {
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}
