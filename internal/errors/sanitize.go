// Package errors scrubs internal detail from error text before it
// reaches API clients.
package errors

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
)

var (
	filePathPattern = regexp.MustCompile(`(/[a-zA-Z0-9_\-./]+)|([A-Z]:\\[a-zA-Z0-9_\-\\ ./]+)`)

	ipPattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

	internalDetailPattern = regexp.MustCompile(`(?i)(sql:|clickhouse|database:|connection string|password=|secret=|token=|api[_-]?key=)`)
)

// productionMode gates sanitization. Off by default so development and
// tests see full error text.
var productionMode atomic.Bool

// SetProductionMode toggles sanitization of outbound error messages.
func SetProductionMode(on bool) {
	productionMode.Store(on)
}

// IsProduction reports whether sanitization is active.
func IsProduction() bool {
	return productionMode.Load()
}

// Sanitize returns an error whose message is safe to show a client.
func Sanitize(err error) error {
	if err == nil {
		return nil
	}
	if !productionMode.Load() {
		return err
	}
	return errors.New(SanitizeString(err.Error()))
}

// SanitizeString strips paths, masks addresses, and collapses storage
// detail out of a message.
func SanitizeString(s string) string {
	if !productionMode.Load() {
		return s
	}

	s = filePathPattern.ReplaceAllStringFunc(s, func(match string) string {
		return filepath.Base(match)
	})

	// Keep the first two octets for debugging context.
	s = ipPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := strings.Split(match, ".")
		if len(parts) == 4 {
			return fmt.Sprintf("%s.%s.x.x", parts[0], parts[1])
		}
		return "x.x.x.x"
	})

	if internalDetailPattern.MatchString(s) {
		s = "storage operation failed"
	}

	if strings.Contains(s, "goroutine") || strings.Count(s, "\n") > 3 {
		s = "internal error"
	}

	return s
}

// userFacingFragments are message fragments that are safe to return
// verbatim: they describe the caller's input, not internals.
var userFacingFragments = []string{
	"validation failed",
	"payload unreadable",
	"invalid event",
	"invalid json",
	"invalid target",
	"invalid action",
	"invalid verdict",
	"unknown format",
	"unable to parse",
	"missing required",
	"timestamp",
	"not found",
	"feedback already recorded",
	"unauthorized",
	"payload too large",
}

// SafeMessage returns a client-safe rendering of err. Input-shaped
// errors pass through; anything else is sanitized.
func SafeMessage(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	for _, safe := range userFacingFragments {
		if strings.Contains(lower, safe) {
			return msg
		}
	}

	return SanitizeString(msg)
}
