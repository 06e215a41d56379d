// Package platform maps media URLs to the external service that hosts them.
// Rate-limit state is tracked per service, so every URL entering the pipeline
// is resolved to a service name first.
package platform

import (
	"net/url"
	"strings"
)

// Service identifies an external media platform.
type Service string

const (
	YouTube Service = "youtube"
	TikTok  Service = "tiktok"
	Unknown Service = "unknown"
)

var serviceDomains = map[string]Service{
	"youtube.com": YouTube,
	"youtu.be":    YouTube,
	"tiktok.com":  TikTok,
}

// Detect resolves a URL to its hosting service by its registered domain.
// Subdomains count (www.youtube.com, m.tiktok.com); lookalike hosts that
// merely embed a known name do not.
func Detect(rawURL string) Service {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Unknown
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return Unknown
	}
	for domain, service := range serviceDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return service
		}
	}
	return Unknown
}

// IsURL reports whether the source looks like a remote URL rather than a
// local file path.
func IsURL(source string) bool {
	lower := strings.ToLower(strings.TrimSpace(source))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
