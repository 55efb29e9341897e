// Package archive names timestamped archives and resolves request paths to
// objects inside the latest one.
package archive

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// TimestampLayout formats archive timestamps: ISO 8601 in UTC with colons
// replaced by hyphens and no fractional seconds.
const TimestampLayout = "2006-01-02T15-04-05Z"

// sourceDir separates a domain from its archive timestamps in every key.
const sourceDir = "source"

var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}Z$`)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Timestamp formats t as an archive timestamp. Fixed width makes string order chronological.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ValidTimestamp reports whether s has the archive timestamp shape.
func ValidTimestamp(s string) bool {
	return timestampPattern.MatchString(s)
}

// Prefix is the key prefix of one archive: {domain}/source/{timestamp}.
func Prefix(domain, timestamp string) string {
	return domain + "/" + sourceDir + "/" + timestamp
}

// NewPrefix returns the prefix for a new archive of domain taken now.
func NewPrefix(clock Clock, domain string) string {
	return Prefix(domain, Timestamp(clock.Now()))
}

// DomainOf returns the archive domain of a seed URL: its lowercased host, port included.
func DomainOf(seed string) (string, error) {
	u, err := url.Parse(seed)
	if err != nil {
		return "", fmt.Errorf("parse seed: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("seed %q has no host", seed)
	}
	return strings.ToLower(u.Host), nil
}
