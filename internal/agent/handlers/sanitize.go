package handlers

import "regexp"

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

// redactions are applied in order to every log line leaving the device.
var redactions = []redaction{
	{ // api keys and tokens
		regexp.MustCompile("(?i)(^|['\"`:=\\s])(api[_-]?key|apikey|api[_-]?token|access[_-]?token|auth[_-]?token|bearer|token)['\"`:=\\s]+['\"]?[a-zA-Z0-9_\\-./+=]{8,}['\"]?"),
		"${1}${2}=[REDACTED]",
	},
	{ // passwords
		regexp.MustCompile("(?i)(^|['\"`:=\\s])(password|passwd|pwd|secret|credential)['\"`:=\\s]+['\"]?[^\\s'\"`,}{)\\]]+['\"]?"),
		"${1}${2}=[REDACTED]",
	},
	{ // authorization headers
		regexp.MustCompile(`(?i)(Authorization|Bearer|Basic)\s*[:=]\s*['"]?([a-zA-Z0-9_\-./+=]{8,})['"]?`),
		"${1}: [REDACTED]",
	},
	{
		regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`),
		"[JWT_REDACTED]",
	},
	{
		regexp.MustCompile(`-----BEGIN\s+(RSA\s+)?PRIVATE\s+KEY-----[\s\S]*?-----END\s+(RSA\s+)?PRIVATE\s+KEY-----`),
		"[PRIVATE_KEY_REDACTED]",
	},
	{
		regexp.MustCompile(`ssh-(rsa|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`),
		"[SSH_KEY_REDACTED]",
	},
	{
		regexp.MustCompile(`(AKIA|ASIA)[A-Z0-9]{16}`),
		"[AWS_KEY_REDACTED]",
	},
	{ // environment style secrets
		regexp.MustCompile(`([A-Z_]+_SECRET|[A-Z_]+_KEY|[A-Z_]+_TOKEN)\s*=\s*['"]?([^\s'"]+)['"]?`),
		"${1}=[REDACTED]",
	},
	{
		regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
		"[EMAIL_REDACTED]",
	},
	{
		regexp.MustCompile(`\b(?:\d{4}[- ]?){3}\d{4}\b`),
		"[CARD_REDACTED]",
	},
	{ // addresses next to authentication events
		regexp.MustCompile(`(?i)(auth|login|session).*?(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})`),
		"${1} [IP_REDACTED]",
	},
}

// SanitizeLine removes credentials and personal data from a log line.
func SanitizeLine(line string) string {
	for _, r := range redactions {
		line = r.pattern.ReplaceAllString(line, r.replacement)
	}
	return line
}

// ContainsSensitiveData reports whether SanitizeLine would change line.
func ContainsSensitiveData(line string) bool {
	for _, r := range redactions {
		if r.pattern.MatchString(line) {
			return true
		}
	}
	return false
}
