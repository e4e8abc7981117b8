package logger

import (
	"log/slog"
	"net/url"
	"strings"
)

// Attribute keys whose values are field payloads and must never be logged.
var payloadKeys = map[string]bool{
	"value":    true,
	"values":   true,
	"snapshot": true,
	"blob":     true,
}

// Key fragments that mark secrets.
var sensitiveKeyPatterns = []string{
	"password",
	"secret",
	"seal_key",
	"credential",
}

const redactedValue = "***REDACTED***"

// redactSensitive masks payloads and secrets, recursing into groups.
func redactSensitive(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}

	if payloadKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redactedValue)
	}

	if a.Value.Kind() != slog.KindString {
		return a
	}
	str := a.Value.String()

	if IsSensitiveKey(a.Key) && str != "" {
		return slog.String(a.Key, redactedValue)
	}
	if strings.HasSuffix(strings.ToLower(a.Key), "_url") {
		return slog.String(a.Key, RedactURL(str))
	}
	return a
}

// IsSensitiveKey checks if a key name suggests secret content.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}

// RedactURL removes the password from a URL such as redis://user:pw@host.
// Strings that do not parse as URLs are returned unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
