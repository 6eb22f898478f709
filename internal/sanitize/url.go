// Package sanitize normalizes retailer product URLs and deduplicates the
// structured records extracted from model output.
package sanitize

import (
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// exactBlockedParams are tracking parameters removed by exact name match.
var exactBlockedParams = map[string]bool{
	"fbclid": true,
	"gclid":  true,
	"ref":    true,
	"utm":    true,
}

// blockedParamPrefixes are tracking-parameter families removed by prefix.
var blockedParamPrefixes = []string{"utm_", "mc_", "ref_"}

// DefaultAllowedDomains is the retailer allow-list used when none is
// configured.
var DefaultAllowedDomains = []string{"bauhaus.info", "bauhaus.de", "bauhaus.at"}

// Cleaner canonicalizes product URLs against a domain allow-list.
type Cleaner struct {
	allowedDomains []string
}

// NewCleaner creates a Cleaner. An empty allow-list falls back to
// DefaultAllowedDomains.
func NewCleaner(allowedDomains []string) *Cleaner {
	if len(allowedDomains) == 0 {
		allowedDomains = DefaultAllowedDomains
	}
	return &Cleaner{allowedDomains: allowedDomains}
}

// CleanURL canonicalizes a raw product URL: scheme-less input gets https,
// the host must end in an allow-listed domain suffix, the host is rewritten
// to its canonical www form, tracking parameters and the fragment are
// stripped. The function is idempotent.
func (c *Cleaner) CleanURL(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", eris.New("sanitize: empty URL")
	}

	if !strings.HasPrefix(candidate, "http") {
		candidate = "https://" + strings.TrimLeft(candidate, "/")
	}

	u, err := url.Parse(candidate)
	if err != nil {
		return "", eris.Wrap(err, "sanitize: parse URL")
	}
	if u.Host == "" {
		return "", eris.New("sanitize: URL has no host")
	}

	host := strings.ToLower(u.Hostname())
	var matched string
	for _, domain := range c.allowedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			matched = domain
			break
		}
	}
	if matched == "" {
		return "", eris.Errorf("sanitize: host %q is not an allowed retailer domain", host)
	}

	if strings.HasPrefix(host, "www.") {
		u.Host = host
	} else {
		u.Host = "www." + matched
	}
	u.Scheme = "https"
	u.RawQuery = filterQuery(u.RawQuery)
	u.Fragment = ""
	u.RawFragment = ""

	return u.String(), nil
}

// filterQuery drops tracking parameters while preserving the order and
// encoding of the remaining pairs.
func filterQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	var kept []string
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key := pair
		if idx := strings.Index(pair, "="); idx >= 0 {
			key = pair[:idx]
		}
		if isTrackingParam(key) {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}

func isTrackingParam(key string) bool {
	lowered := strings.ToLower(key)
	if exactBlockedParams[lowered] {
		return true
	}
	for _, prefix := range blockedParamPrefixes {
		if strings.HasPrefix(lowered, prefix) {
			return true
		}
	}
	return false
}
