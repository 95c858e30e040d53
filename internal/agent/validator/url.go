package validator

import (
	"net/url"
	"regexp"
	"strings"
)

// MaxURLLength bounds every URL accepted from the control plane.
const MaxURLLength = 2048

var allowedDomains = []string{
	"jw.org",
	"www.jw.org",
	"wol.jw.org",
	"download-a.akamaihd.net",
}

var allowedDomainPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[a-z0-9-]+\.jw-cdn\.org$`),
}

var labelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// parseSecureURL returns the lower-cased host of an https URL on the
// standard port, or false.
func parseSecureURL(raw string) (string, bool) {
	if raw == "" || len(raw) > MaxURLLength {
		return "", false
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" {
		return "", false
	}

	if port := u.Port(); port != "" && port != "443" {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}
	return host, true
}

// IsAllowedMediaURL reports whether raw points at an allow-listed media host.
func IsAllowedMediaURL(raw string) bool {
	host, ok := parseSecureURL(raw)
	if !ok {
		return false
	}

	for _, domain := range allowedDomains {
		if host == domain {
			return true
		}
		if strings.HasSuffix(host, "."+domain) && validSubdomain(strings.TrimSuffix(host, "."+domain)) {
			return true
		}
	}

	for _, pattern := range allowedDomainPatterns {
		if pattern.MatchString(host) {
			return true
		}
	}

	return false
}

// IsAllowedMeetingURL reports whether raw is a Zoom meeting URL.
func IsAllowedMeetingURL(raw string) bool {
	host, ok := parseSecureURL(raw)
	if !ok {
		return false
	}

	if host == "zoom.us" {
		return true
	}
	return strings.HasSuffix(host, ".zoom.us") && validSubdomain(strings.TrimSuffix(host, ".zoom.us"))
}

func validSubdomain(sub string) bool {
	if sub == "" {
		return false
	}
	for _, label := range strings.Split(sub, ".") {
		if !labelPattern.MatchString(label) {
			return false
		}
	}
	return true
}
