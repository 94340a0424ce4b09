// Package security masks credentials before they reach logs or output.
package security

import (
	"net/url"
	"regexp"
	"strings"
)

// sensitivePatterns match credentials that may appear in URLs and error
// messages.
var sensitivePatterns = []*regexp.Regexp{
	// Telegram bot tokens, as embedded in API paths.
	regexp.MustCompile(`\d{6,}:[A-Za-z0-9_-]{30,}`),
	regexp.MustCompile(`(?i)(token|secret|password|api[_-]?key)=([^&\s"']+)`),
}

// MaskCredential masks a credential, keeping a short prefix and suffix
// so values can still be told apart.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// Redact masks every known secret and credential-shaped substring of s.
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, MaskCredential(secret))
		}
	}
	for _, pattern := range sensitivePatterns {
		s = pattern.ReplaceAllStringFunc(s, func(match string) string {
			if key, val, ok := strings.Cut(match, "="); ok {
				return key + "=" + MaskCredential(val)
			}
			return MaskCredential(match)
		})
	}
	return s
}

// MaskURL keeps the scheme and host of a URL and masks its path and
// query, which often carry webhook secrets.
func MaskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return MaskCredential(raw)
	}
	masked := u.Scheme + "://" + u.Host
	if rest := strings.TrimPrefix(raw, masked); rest != "" && rest != "/" {
		masked += "/" + strings.Repeat("*", 4)
	}
	return masked
}

type redactedError struct {
	err error
	msg string
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

// RedactError returns err with a masked message. errors.Is and errors.As
// still see the original chain.
func RedactError(err error, secrets ...string) error {
	if err == nil {
		return nil
	}
	return &redactedError{err: err, msg: Redact(err.Error(), secrets...)}
}
