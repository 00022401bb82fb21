package domain

import (
	"net/url"
	"strings"
)

// NormalizeHostname lowercases and trims a user-entered hostname and
// strips any trailing dot. Idempotent.
func NormalizeHostname(hostname string) string {
	h := strings.ToLower(strings.TrimSpace(hostname))
	return strings.TrimSuffix(h, ".")
}

// HostnameFromURL extracts the hostname from a page URL. Only http and
// https URLs yield a hostname; everything else (extension pages, about:,
// file:, data:) returns "".
func HostnameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// MatchesHostname reports whether a page hostname matches a configured
// hostname. A configured hostname without a "www." prefix also matches
// its "www." variant; a configured "www." hostname matches only itself.
// No other subdomain inference.
func MatchesHostname(configured, host string) bool {
	if host == "" || configured == "" {
		return false
	}
	if host == configured {
		return true
	}
	if !strings.HasPrefix(configured, "www.") && host == "www."+configured {
		return true
	}
	return false
}

// MatchConfigured returns the configured hostname that matches the URL's
// host, or "" if none does. Exact matches win over "www." variants when
// both are configured.
func MatchConfigured(rawURL string, configured []string) string {
	host := HostnameFromURL(rawURL)
	if host == "" {
		return ""
	}
	match := ""
	for _, c := range configured {
		if host == c {
			return c
		}
		if match == "" && MatchesHostname(c, host) {
			match = c
		}
	}
	return match
}
