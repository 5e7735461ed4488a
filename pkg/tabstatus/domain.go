package tabstatus

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/weppos/publicsuffix-go/publicsuffix"
)

// Schemes that never carry a web policy.
var excludedSchemes = []string{
	"about", "blob", "brave", "chrome", "chrome-extension", "chrome-search", "data",
	"devtools", "edge", "file", "javascript", "moz-extension", "opera", "view-source", "vivaldi",
}

// Host names of browser-internal pages (chrome://newtab reports "newtab").
var internalHosts = map[string]bool{
	"newtab": true, "extensions": true, "settings": true, "history": true,
	"downloads": true, "bookmarks": true, "flags": true, "inspect": true,
}

// Chromium extension ids are 32 letters from a to p.
var extensionID = regexp.MustCompile(`^[a-p]{32}$`)

// NormalizeHost lower-cases host and strips a leading "www." and a trailing dot.
func NormalizeHost(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	h = strings.TrimSuffix(h, ".")
	return strings.TrimPrefix(h, "www.")
}

// DomainFromURL extracts the normalized domain of an http(s) URL. ok is
// false for any other scheme or an unparsable URL.
func DomainFromURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", false
	}
	d := NormalizeHost(u.Hostname())
	if IsExcluded(d) {
		return "", false
	}
	return d, true
}

// IsExcluded reports whether domain must not be checked at all.
func IsExcluded(domain string) bool {
	d := strings.ToLower(strings.TrimSpace(domain))
	if d == "" {
		return true
	}
	for _, s := range excludedSchemes {
		if strings.HasPrefix(d, s+":") {
			return true
		}
	}
	return internalHosts[d] || extensionID.MatchString(d)
}

// Site returns the registrable domain (eTLD+1) of domain, or domain itself
// when it has none (IP addresses, localhost).
func Site(domain string) string {
	site, err := publicsuffix.Domain(domain)
	if err != nil {
		return domain
	}
	return site
}
