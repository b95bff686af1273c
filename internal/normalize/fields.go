package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"argus-siem/internal/schema"
)

// Field alias tables. Producers disagree on key names; every alias maps to
// one canonical field.
var (
	timestampAliases = []string{"timestamp", "@timestamp", "time", "_time", "event_time", "date"}
	sourceIPAliases  = []string{"source_ip", "src_ip", "src", "ip", "source", "client_ip"}
	destIPAliases    = []string{"destination_ip", "dst_ip", "dst", "dest_ip", "destination", "server_ip"}
	usernameAliases  = []string{"username", "user", "user_name", "account", "login", "uid"}
	eventTypeAliases = []string{"event_type", "type", "event", "category", "log_type"}
	actionAliases    = []string{"action", "activity", "operation"}
	statusAliases    = []string{"status", "outcome", "result"}
	riskAliases      = []string{"user_risk_score", "risk_score", "user_risk"}
	assetAliases     = []string{"asset_criticality", "asset_crit", "criticality"}
	geoAliases       = []string{"geo_location", "geo", "location", "country"}
)

// timestampFormats lists accepted textual timestamp layouts, most common first.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"01/02/2006 15:04:05",
	"Jan 02 2006 15:04:05",
}

// eventFromRecord builds a LogEvent from a flat key/value record using the
// alias tables. Keys are matched case-insensitively.
func eventFromRecord(record map[string]any, raw string) (*schema.LogEvent, error) {
	lower := make(map[string]any, len(record))
	for k, v := range record {
		lower[strings.ToLower(strings.TrimSpace(k))] = v
	}

	event := &schema.LogEvent{
		SourceIP:      lookupString(lower, sourceIPAliases),
		DestinationIP: lookupString(lower, destIPAliases),
		Username:      lookupString(lower, usernameAliases),
		Action:        lookupString(lower, actionAliases),
		Status:        lookupString(lower, statusAliases),
		GeoLocation:   lookupString(lower, geoAliases),
		Raw:           raw,
	}

	eventType := lookupString(lower, eventTypeAliases)
	if eventType == "" {
		return nil, fmt.Errorf("missing event_type")
	}
	event.EventType = canonicalEventType(eventType)

	if ts := lookupString(lower, timestampAliases); ts != "" {
		t, err := ParseTimestamp(ts)
		if err != nil {
			return nil, fmt.Errorf("bad timestamp %q: %w", ts, err)
		}
		event.Timestamp = t
	} else {
		event.Timestamp = time.Now().UTC()
	}

	if v, ok := lookupFloat(lower, riskAliases); ok {
		event.UserRiskScore = clampScore(v)
	}
	if v, ok := lookupFloat(lower, assetAliases); ok {
		event.AssetCriticality = clampScore(v)
	}

	return event, nil
}

func lookupString(record map[string]any, aliases []string) string {
	for _, key := range aliases {
		if v, ok := record[key]; ok {
			s := strings.TrimSpace(stringify(v))
			if s != "" {
				return s
			}
		}
	}
	return ""
}

func lookupFloat(record map[string]any, aliases []string) (float64, bool) {
	for _, key := range aliases {
		v, ok := record[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// canonicalEventType lowercases and snake-cases free-form type strings.
func canonicalEventType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

// ParseTimestamp parses epoch seconds, epoch milliseconds, or a known
// textual layout. Results are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		// Heuristic: values this large are milliseconds.
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(f)
		nsec := int64((f - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), nil
	}

	for _, layout := range timestampFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unsupported timestamp layout")
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
