// Package urlutil provides URL manipulation utilities that preserve original encoding.
package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// ResolveURL resolves a potentially relative URL against a base URL.
// Uses string manipulation to preserve original URL encoding.
// Go's url.ResolveReference re-encodes special characters which breaks
// URLs for CDNs that use parentheses, brackets, or other special chars.
func ResolveURL(urlStr string, baseURL string) string {
	if strings.HasPrefix(urlStr, "http://") || strings.HasPrefix(urlStr, "https://") {
		return urlStr
	}

	// Scheme-relative: inherit the base scheme
	if strings.HasPrefix(urlStr, "//") {
		scheme := "https"
		if parsed, err := url.Parse(baseURL); err == nil && parsed.Scheme != "" {
			scheme = parsed.Scheme
		}
		return scheme + ":" + urlStr
	}

	// Get base directory (remove query string and last path segment)
	base := baseURL
	if idx := strings.Index(base, "?"); idx > 0 {
		base = base[:idx]
	}
	if lastSlash := strings.LastIndex(base, "/"); lastSlash > 0 {
		base = base[:lastSlash+1]
	}

	if strings.HasPrefix(urlStr, "/") {
		// Absolute path - combine with scheme+host from base
		parsed, err := url.Parse(baseURL)
		if err != nil {
			return base + urlStr
		}
		return parsed.Scheme + "://" + parsed.Host + urlStr
	}

	// Handle parent directory references
	if strings.HasPrefix(urlStr, "../") {
		result := base
		remaining := urlStr
		for strings.HasPrefix(remaining, "../") {
			remaining = remaining[3:]
			// Remove trailing slash and last path component
			result = strings.TrimSuffix(result, "/")
			if lastSlash := strings.LastIndex(result, "/"); lastSlash > 0 {
				result = result[:lastSlash+1]
			}
		}
		return result + remaining
	}

	// Relative path - just append to base directory
	return base + strings.TrimPrefix(urlStr, "./")
}

// GetSchemeHost extracts scheme://host from a URL.
func GetSchemeHost(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}

// EnsureHTTPS rewrites http:// and scheme-relative URLs to https.
func EnsureHTTPS(urlStr string) string {
	switch {
	case strings.HasPrefix(urlStr, "//"):
		return "https:" + urlStr
	case strings.HasPrefix(urlStr, "http://"):
		return "https://" + strings.TrimPrefix(urlStr, "http://")
	}
	return urlStr
}

// MergeQuery sets the given query parameters on urlStr, replacing existing
// values, and re-serializes the URL. An empty value removes the parameter.
func MergeQuery(urlStr string, params map[string]string) (string, error) {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}
	q := parsed.Query()
	for k, v := range params {
		if v == "" {
			q.Del(k)
			continue
		}
		q.Set(k, v)
	}
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

// QueryValue returns the first value of key in urlStr's query, or "".
func QueryValue(urlStr, key string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return parsed.Query().Get(key)
}

// Hostname returns the lowercased host of urlStr without port.
func Hostname(urlStr string) string {
	parsed, err := url.Parse(strings.TrimSpace(urlStr))
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// HostMatches reports whether host equals one of suffixes or is a subdomain of one.
func HostMatches(host string, suffixes []string) bool {
	host = strings.ToLower(host)
	for _, s := range suffixes {
		s = strings.ToLower(strings.TrimPrefix(s, "."))
		if s == "" {
			continue
		}
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}
