package util

import (
	"regexp"
	"strings"
)

const (
	// MaxSanitizeLength caps the input inspected by SanitizeString
	MaxSanitizeLength = 64 * 1024
)

var sanitizePatterns = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)(password|passwd|pwd)([\s:=]+)[^\s&]+`), "${1}${2}REDACTED"},
	{regexp.MustCompile(`(?i)"password"\s*:\s*"[^"]*"`), `"password":"REDACTED"`},
	{regexp.MustCompile(`(?i)(csrfmiddlewaretoken|csrftoken|sessionid)([\s:=]+)[^\s&;]+`), "${1}${2}REDACTED"},
	{regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.]+`), "bearer REDACTED"},
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_\-]+\.eyJ[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+`), "REDACTED_JWT"},
	// Resident registration numbers (YYMMDD-NNNNNNN)
	{regexp.MustCompile(`\b\d{6}-?[1-8]\d{6}\b`), "REDACTED_RRN"},
	// Mobile numbers
	{regexp.MustCompile(`\b01[016789]-?\d{3,4}-?\d{4}\b`), "REDACTED_PHONE"},
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "REDACTED_AWS_KEY"},
}

// sensitiveKeys are form and config keys whose values never reach logs.
var sensitiveKeys = map[string]bool{
	"password":            true,
	"passwd":              true,
	"pwd":                 true,
	"oracle_password":     true,
	"redshift_password":   true,
	"csrfmiddlewaretoken": true,
	"token":               true,
	"secret":              true,
	"session_secret":      true,
	"api_key":             true,
}

// SanitizeError renders err with credentials and personal identifiers
// redacted.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

// SanitizeString redacts credentials, tokens and personal identifiers.
// Oversized input is truncated first.
func SanitizeString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) > MaxSanitizeLength {
		s = s[:MaxSanitizeLength] + "... [truncated]"
	}
	for _, p := range sanitizePatterns {
		s = p.pattern.ReplaceAllString(s, p.replacement)
	}
	return s
}

// SanitizeForm returns a copy of a request form safe to log.
func SanitizeForm(form map[string]string) map[string]string {
	if form == nil {
		return nil
	}
	out := make(map[string]string, len(form))
	for k, v := range form {
		if IsSensitiveKey(k) {
			out[k] = "REDACTED"
			continue
		}
		out[k] = SanitizeString(v)
	}
	return out
}

// IsSensitiveKey reports whether values under key must be redacted.
func IsSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	return sensitiveKeys[key] || strings.HasSuffix(key, "_password") || strings.HasSuffix(key, "_secret")
}
