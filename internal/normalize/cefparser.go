package normalize

import (
	"fmt"
	"strings"

	"argus-siem/internal/normalize/cef"
)

// CEFParser handles Common Event Format payloads, one message per line.
type CEFParser struct {
	parser     *cef.Parser
	normalizer *cef.Normalizer
}

// NewCEFParser creates a CEF line parser with default settings.
func NewCEFParser() *CEFParser {
	return &CEFParser{
		parser:     cef.NewParser(cef.DefaultParserConfig()),
		normalizer: cef.NewNormalizer(cef.DefaultNormalizerConfig()),
	}
}

func (p *CEFParser) Format() Format { return FormatCEF }

func (p *CEFParser) Detect(payload []byte) bool {
	lines := splitLines(payload)
	if len(lines) == 0 {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(lines[0].text), "CEF:")
}

func (p *CEFParser) Parse(payload []byte) (*Result, error) {
	lines := splitLines(payload)
	if len(lines) == 0 {
		return nil, ErrEmptyPayload
	}

	result := &Result{Format: FormatCEF}
	for _, line := range lines {
		msg, err := p.parser.Parse(line.text)
		if err != nil {
			result.Errors = append(result.Errors, RecordError{Line: line.num, Err: err.Error()})
			continue
		}
		event, err := p.normalizer.Normalize(msg)
		if err != nil {
			result.Errors = append(result.Errors, RecordError{Line: line.num, Err: err.Error()})
			continue
		}
		result.Events = append(result.Events, Draft{Line: line.num, Event: event})
	}

	if len(result.Events) == 0 {
		return nil, fmt.Errorf("%w: no CEF lines parsed", ErrUnreadable)
	}
	return result, nil
}
