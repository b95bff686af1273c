// Package cef provides Common Event Format (CEF) parsing and mapping into
// the canonical log event schema.
package cef

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidCEF indicates the message is not valid CEF format.
	ErrInvalidCEF = errors.New("invalid CEF format")
	// ErrMissingVersion indicates the CEF version is missing or invalid.
	ErrMissingVersion = errors.New("missing CEF version")
	// ErrInvalidSeverity indicates the severity value is invalid.
	ErrInvalidSeverity = errors.New("invalid severity value")
)

const (
	cefPrefix    = "CEF:"
	headerFields = 7
)

// Message represents a parsed CEF message.
type Message struct {
	Version       int
	DeviceVendor  string
	DeviceProduct string
	DeviceVersion string
	SignatureID   string
	Name          string
	Severity      int
	Extensions    map[string]string
	Raw           string
}

// Parser handles CEF message parsing. In lenient mode an out-of-range
// severity falls back to 5 instead of failing the whole message, since
// appliances routinely emit vendor-specific severity strings.
type Parser struct {
	strictMode    bool
	maxExtensions int
}

// ParserConfig holds configuration for the CEF parser.
type ParserConfig struct {
	StrictMode    bool
	MaxExtensions int
}

// DefaultParserConfig returns the default parser configuration.
func DefaultParserConfig() ParserConfig {
	return ParserConfig{
		StrictMode:    false,
		MaxExtensions: 100,
	}
}

// NewParser creates a new CEF parser with the given configuration.
func NewParser(cfg ParserConfig) *Parser {
	return &Parser{
		strictMode:    cfg.StrictMode,
		maxExtensions: cfg.MaxExtensions,
	}
}

// Parse parses a CEF message string into a Message.
func (p *Parser) Parse(line string) (*Message, error) {
	line = strings.TrimSpace(line)

	if !strings.HasPrefix(line, cefPrefix) {
		return nil, ErrInvalidCEF
	}

	parts := splitHeader(line[len(cefPrefix):])
	if len(parts) < headerFields {
		return nil, fmt.Errorf("%w: expected %d header fields, got %d",
			ErrInvalidCEF, headerFields, len(parts))
	}

	version, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingVersion, err)
	}

	severity, err := strconv.Atoi(parts[6])
	if err != nil || severity < 0 || severity > 10 {
		if p.strictMode {
			return nil, fmt.Errorf("%w: %s", ErrInvalidSeverity, parts[6])
		}
		severity = 5
	}

	extensions := make(map[string]string)
	if len(parts) > headerFields {
		extensions = p.parseExtensions(parts[7])
	}

	return &Message{
		Version:       version,
		DeviceVendor:  parts[1],
		DeviceProduct: parts[2],
		DeviceVersion: parts[3],
		SignatureID:   parts[4],
		Name:          parts[5],
		Severity:      severity,
		Extensions:    extensions,
		Raw:           line,
	}, nil
}

// splitHeader splits the pipe-delimited header, resolving backslash
// escapes as it goes. Everything after the seventh pipe is returned
// untouched as the extension blob.
func splitHeader(content string) []string {
	parts := make([]string, 0, headerFields+1)
	var cur strings.Builder

	for i := 0; i < len(content); i++ {
		if len(parts) == headerFields {
			parts = append(parts, content[i:])
			return parts
		}

		c := content[i]
		switch {
		case c == '\\' && i+1 < len(content) && escapable(content[i+1]):
			cur.WriteByte(content[i+1])
			i++
		case c == '|':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}

	parts = append(parts, cur.String())
	return parts
}

func escapable(c byte) bool {
	return c == '|' || c == '\\' || c == '='
}

// parseExtensions scans the space-separated key=value blob. Values may
// contain spaces; a token only starts a new pair when it carries an
// unescaped equals sign.
func (p *Parser) parseExtensions(blob string) map[string]string {
	extensions := make(map[string]string)

	var key string
	var value []string
	flush := func() {
		if key != "" {
			extensions[key] = unescapeValue(strings.Join(value, " "))
		}
	}

	for _, token := range strings.Fields(blob) {
		k, v, ok := cutPair(token)
		if !ok {
			if key != "" {
				value = append(value, token)
			}
			continue
		}

		flush()
		if len(extensions) >= p.maxExtensions {
			return extensions
		}
		key, value = k, []string{v}
	}
	flush()

	return extensions
}

// cutPair splits a token at its first unescaped equals sign.
func cutPair(token string) (key, value string, ok bool) {
	for i := 0; i < len(token); i++ {
		switch token[i] {
		case '\\':
			i++
		case '=':
			if i == 0 {
				return "", "", false
			}
			return token[:i], token[i+1:], true
		}
	}
	return "", "", false
}

func unescapeValue(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	r := strings.NewReplacer(`\=`, "=", `\n`, "\n", `\r`, "\r", `\\`, "\\")
	return r.Replace(s)
}
