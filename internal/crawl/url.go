package crawl

import (
	"net/url"
	"strings"
)

// Normalize canonicalizes a URL string into the dedup key used across all
// stores: host plus path with the scheme dropped, trailing slashes stripped,
// and the raw query string re-appended when present. No percent-decoding,
// case folding, or default-port stripping happens, so two URLs that differ
// only in query-parameter order normalize differently; that is a documented
// limitation of the key, not something to silently fix here.
//
// Normalize is pure and total: malformed input yields whatever net/url can
// make of it, possibly the empty string, and callers skip empty keys.
func Normalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	// EscapedPath keeps the original encoding instead of the decoded form.
	normalized := u.Host + u.EscapedPath()
	normalized = strings.TrimRight(normalized, "/")
	if u.RawQuery != "" {
		normalized += "?" + u.RawQuery
	}
	return normalized
}

// RootDomain extracts the host portion of a normalized URL, the grouping key
// of the inbound-link report. Returns "" when no host can be parsed.
func RootDomain(normalizedURL string) string {
	u, err := url.Parse("https://" + normalizedURL)
	if err != nil {
		return ""
	}
	return u.Host
}
