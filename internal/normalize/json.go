package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
)

// JSONParser handles a single JSON object or an array of objects.
type JSONParser struct{}

func (p *JSONParser) Format() Format { return FormatJSON }

func (p *JSONParser) Detect(payload []byte) bool {
	trimmed := strings.TrimSpace(string(payload))
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

func (p *JSONParser) Parse(payload []byte) (*Result, error) {
	trimmed := strings.TrimSpace(string(payload))
	result := &Result{Format: FormatJSON}

	var records []map[string]any
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &records); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
		}
	} else {
		var record map[string]any
		if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
		}
		records = []map[string]any{record}
	}

	for i, record := range records {
		raw, _ := json.Marshal(record)
		event, err := eventFromRecord(record, string(raw))
		if err != nil {
			result.Errors = append(result.Errors, RecordError{Line: i + 1, Err: err.Error()})
			continue
		}
		result.Events = append(result.Events, Draft{Line: i + 1, Event: event})
	}

	if len(result.Events) == 0 && len(result.Errors) == 0 {
		return nil, ErrUnreadable
	}
	return result, nil
}

// NDJSONParser handles newline-delimited JSON, one object per line.
type NDJSONParser struct{}

func (p *NDJSONParser) Format() Format { return FormatNDJSON }

func (p *NDJSONParser) Detect(payload []byte) bool {
	lines := splitLines(payload)
	if len(lines) < 2 {
		return false
	}
	for _, l := range lines {
		if !strings.HasPrefix(strings.TrimSpace(l.text), "{") {
			return false
		}
	}
	return true
}

func (p *NDJSONParser) Parse(payload []byte) (*Result, error) {
	lines := splitLines(payload)
	if len(lines) == 0 {
		return nil, ErrEmptyPayload
	}

	result := &Result{Format: FormatNDJSON}
	for _, line := range lines {
		var record map[string]any
		if err := json.Unmarshal([]byte(line.text), &record); err != nil {
			result.Errors = append(result.Errors, RecordError{Line: line.num, Err: fmt.Sprintf("invalid JSON: %v", err)})
			continue
		}
		event, err := eventFromRecord(record, line.text)
		if err != nil {
			result.Errors = append(result.Errors, RecordError{Line: line.num, Err: err.Error()})
			continue
		}
		result.Events = append(result.Events, Draft{Line: line.num, Event: event})
	}

	if len(result.Events) == 0 && len(result.Errors) == len(lines) {
		return nil, fmt.Errorf("%w: all %d lines failed", ErrUnreadable, len(lines))
	}
	return result, nil
}
