// Package logging masks credentials and secrets in log output.
package logging

import (
	"log/slog"
	"strings"
)

// sensitiveKeys are attribute names whose values never appear in logs.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"access_token":  true,
	"refresh_token": true,
	"private_key":   true,
	"client_secret": true,
	"credentials":   true,
	"authorization": true,
	"bearer":        true,
	"session_id":    true,
	"cookie":        true,
	"x-api-key":     true,
	"webhook_url":   true,
}

// MaskedValue replaces sensitive values in log output.
const MaskedValue = "[REDACTED]"

// IsSensitiveKey reports whether an attribute name should be masked.
func IsSensitiveKey(name string) bool {
	lower := strings.ToLower(name)
	if sensitiveKeys[lower] {
		return true
	}
	for key := range sensitiveKeys {
		if strings.Contains(lower, key) {
			return true
		}
	}
	return false
}

// MaskValue masks value when the attribute name is sensitive.
func MaskValue(name, value string) string {
	if value == "" {
		return value
	}
	if IsSensitiveKey(name) {
		return MaskedValue
	}
	return value
}

// MaskAPIKey shows only the edges of a key for log correlation.
func MaskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return MaskedValue
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// RedactAttr is a slog ReplaceAttr hook that masks sensitive
// attribute values before they are written.
func RedactAttr(groups []string, a slog.Attr) slog.Attr {
	if IsSensitiveKey(a.Key) {
		return slog.String(a.Key, MaskedValue)
	}
	return a
}
