// Package normalize converts raw log payloads in several wire formats into
// canonical log events. Each format is handled by a Parser; format detection
// walks an ordered registry of parsers so new formats plug in without
// touching callers.
package normalize

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"argus-siem/internal/schema"
)

var (
	// ErrUnknownFormat indicates no parser recognized the payload.
	ErrUnknownFormat = errors.New("unrecognized log format")
	// ErrEmptyPayload indicates the payload contained no data.
	ErrEmptyPayload = errors.New("empty payload")
	// ErrUnreadable indicates the payload matched a format but yielded no records.
	ErrUnreadable = errors.New("payload yielded no parseable records")
)

// Format identifies a supported input format.
type Format string

const (
	FormatAuto   Format = "auto"
	FormatJSON   Format = "json"
	FormatNDJSON Format = "ndjson"
	FormatCSV    Format = "csv"
	FormatCEF    Format = "cef"
	FormatSyslog Format = "syslog"
)

// IsValid checks if the format is a supported value.
func (f Format) IsValid() bool {
	switch f {
	case FormatAuto, FormatJSON, FormatNDJSON, FormatCSV, FormatCEF, FormatSyslog:
		return true
	}
	return false
}

// RecordError describes one record that failed to normalize.
// Line is 1-based within the payload.
type RecordError struct {
	Line int    `json:"line"`
	Err  string `json:"error"`
}

// Draft pairs a normalized event with the 1-based payload line it came
// from, so failures after normalization still cite the right record.
type Draft struct {
	Line  int
	Event *schema.LogEvent
}

// Result holds the outcome of normalizing one payload. Events and Errors
// together account for every record in the input.
type Result struct {
	Format Format        `json:"format"`
	Events []Draft       `json:"-"`
	Errors []RecordError `json:"errors,omitempty"`
}

// Parser normalizes one input format.
type Parser interface {
	Format() Format
	// Detect reports whether the payload looks like this format.
	Detect(payload []byte) bool
	// Parse normalizes the payload. Per-record failures land in
	// Result.Errors; an error return means the payload as a whole was
	// unreadable and no records were produced.
	Parse(payload []byte) (*Result, error)
}

// extensionHints maps filename extensions to formats.
var extensionHints = map[string]Format{
	".json":   FormatJSON,
	".ndjson": FormatNDJSON,
	".jsonl":  FormatNDJSON,
	".csv":    FormatCSV,
	".cef":    FormatCEF,
	".log":    FormatSyslog,
	".syslog": FormatSyslog,
}

// Normalizer dispatches payloads to format parsers.
type Normalizer struct {
	parsers []Parser
	byName  map[Format]Parser
}

// NewNormalizer creates a Normalizer with the default parser registry.
// Registration order is the detection order.
func NewNormalizer() *Normalizer {
	return NewNormalizerWithParsers(
		&NDJSONParser{},
		&JSONParser{},
		NewCEFParser(),
		&SyslogParser{},
		&CSVParser{},
	)
}

// NewNormalizerWithParsers creates a Normalizer with an explicit registry.
func NewNormalizerWithParsers(parsers ...Parser) *Normalizer {
	byName := make(map[Format]Parser, len(parsers))
	for _, p := range parsers {
		byName[p.Format()] = p
	}
	return &Normalizer{
		parsers: parsers,
		byName:  byName,
	}
}

// Normalize parses the payload using the requested format, or detects the
// format when FormatAuto is given. An optional filename provides an
// extension hint before content detection runs.
func (n *Normalizer) Normalize(payload []byte, format Format, filename string) (*Result, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return nil, ErrEmptyPayload
	}

	if format != "" && format != FormatAuto {
		parser, ok := n.byName[format]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
		}
		return parser.Parse(payload)
	}

	if filename != "" {
		if hinted, ok := extensionHints[strings.ToLower(filepath.Ext(filename))]; ok {
			if parser, ok := n.byName[hinted]; ok {
				return parser.Parse(payload)
			}
		}
	}

	for _, parser := range n.parsers {
		if parser.Detect(payload) {
			return parser.Parse(payload)
		}
	}

	return nil, ErrUnknownFormat
}

// DetectFormat reports the format the registry would choose for the payload.
func (n *Normalizer) DetectFormat(payload []byte) Format {
	for _, parser := range n.parsers {
		if parser.Detect(payload) {
			return parser.Format()
		}
	}
	return ""
}

// splitLines breaks a payload into trimmed lines, keeping the original
// 1-based line number with each.
type numberedLine struct {
	num  int
	text string
}

func splitLines(payload []byte) []numberedLine {
	raw := strings.Split(string(payload), "\n")
	lines := make([]numberedLine, 0, len(raw))
	for i, l := range raw {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, numberedLine{num: i + 1, text: l})
	}
	return lines
}
