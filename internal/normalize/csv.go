package normalize

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// CSVParser handles comma-separated payloads with a header row. Header
// names are matched against the field alias tables case-insensitively.
type CSVParser struct{}

func (p *CSVParser) Format() Format { return FormatCSV }

func (p *CSVParser) Detect(payload []byte) bool {
	lines := splitLines(payload)
	if len(lines) == 0 {
		return false
	}
	first := lines[0].text
	// A header row has commas and no '=' pairs or JSON braces.
	return strings.Contains(first, ",") &&
		!strings.Contains(first, "{") &&
		!strings.HasPrefix(strings.TrimSpace(first), "CEF:")
}

func (p *CSVParser) Parse(payload []byte) (*Result, error) {
	reader := csv.NewReader(strings.NewReader(string(payload)))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: missing header row: %v", ErrUnreadable, err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	result := &Result{Format: FormatCSV}
	lineNum := 1
	rows := 0

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		lineNum++
		rows++
		if err != nil {
			result.Errors = append(result.Errors, RecordError{Line: lineNum, Err: fmt.Sprintf("malformed row: %v", err)})
			continue
		}

		record := make(map[string]any, len(header))
		for i, col := range row {
			if i >= len(header) {
				break
			}
			record[header[i]] = col
		}

		event, err := eventFromRecord(record, strings.Join(row, ","))
		if err != nil {
			result.Errors = append(result.Errors, RecordError{Line: lineNum, Err: err.Error()})
			continue
		}
		result.Events = append(result.Events, Draft{Line: lineNum, Event: event})
	}

	if rows == 0 {
		return nil, fmt.Errorf("%w: header only, no data rows", ErrUnreadable)
	}
	if len(result.Events) == 0 && len(result.Errors) == rows {
		return nil, fmt.Errorf("%w: all %d rows failed", ErrUnreadable, rows)
	}
	return result, nil
}
