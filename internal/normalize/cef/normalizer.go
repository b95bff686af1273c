package cef

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"argus-siem/internal/schema"
)

// DefaultTypeMappings maps well-known CEF signature IDs to canonical
// event types.
var DefaultTypeMappings = map[string]string{
	"100":    "session_created",
	"101":    "session_terminated",
	"200":    "login",
	"400":    "failed_login",
	"401":    "failed_login",
	"500":    "access_granted",
	"501":    "unauthorized_access",
	"LOGIN":  "login",
	"DENY":   "unauthorized_access",
	"THREAT": "malware_detection",
}

// NormalizerConfig holds configuration for the normalizer.
type NormalizerConfig struct {
	TypeMappings map[string]string
}

// DefaultNormalizerConfig returns the default normalizer configuration.
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		TypeMappings: DefaultTypeMappings,
	}
}

// Normalizer converts parsed CEF messages to canonical log events.
type Normalizer struct {
	config NormalizerConfig
}

// NewNormalizer creates a new normalizer with the given configuration.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	mappings := make(map[string]string)
	for k, v := range DefaultTypeMappings {
		mappings[k] = v
	}
	for k, v := range cfg.TypeMappings {
		mappings[k] = v
	}
	cfg.TypeMappings = mappings

	return &Normalizer{
		config: cfg,
	}
}

// Normalize converts a Message to a canonical LogEvent.
func (n *Normalizer) Normalize(msg *Message) (*schema.LogEvent, error) {
	event := &schema.LogEvent{
		Timestamp: n.extractTimestamp(msg),
		EventType: n.mapEventType(msg),
		Action:    msg.Extensions["act"],
		Status:    n.extractStatus(msg),
		Raw:       msg.Raw,
	}

	if ip, ok := msg.Extensions["src"]; ok {
		event.SourceIP = ip
	}
	if ip, ok := msg.Extensions["dst"]; ok {
		event.DestinationIP = ip
	}
	if user, ok := msg.Extensions["suser"]; ok {
		event.Username = user
	} else if user, ok := msg.Extensions["duser"]; ok {
		event.Username = user
	}

	return event, nil
}

// extractTimestamp extracts a timestamp from CEF extensions or uses current time.
func (n *Normalizer) extractTimestamp(msg *Message) time.Time {
	if rt, ok := msg.Extensions["rt"]; ok {
		if t, err := parseTimestamp(rt); err == nil {
			return t
		}
	}

	if start, ok := msg.Extensions["start"]; ok {
		if t, err := parseTimestamp(start); err == nil {
			return t
		}
	}

	return time.Now().UTC()
}

// parseTimestamp handles the timestamp formats CEF producers emit.
func parseTimestamp(s string) (time.Time, error) {
	// CEF uses milliseconds since epoch
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}

	formats := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"Jan 02 2006 15:04:05",
		"Jan 02 15:04:05",
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}

// mapEventType derives the canonical event type from the signature ID or name.
func (n *Normalizer) mapEventType(msg *Message) string {
	if et, ok := n.config.TypeMappings[msg.SignatureID]; ok {
		return et
	}

	return normalizeTypeString(msg.Name)
}

// normalizeTypeString converts free text to event_type format.
func normalizeTypeString(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	if s == "" {
		return "unknown"
	}
	return s
}

// extractStatus maps the outcome extension to a status string.
func (n *Normalizer) extractStatus(msg *Message) string {
	if outcome, ok := msg.Extensions["outcome"]; ok {
		switch strings.ToLower(outcome) {
		case "success", "succeeded", "allowed", "permit":
			return "success"
		case "failure", "failed", "denied", "blocked", "reject":
			return "failure"
		}
		return strings.ToLower(outcome)
	}

	if act, ok := msg.Extensions["act"]; ok {
		actLower := strings.ToLower(act)
		if strings.Contains(actLower, "block") || strings.Contains(actLower, "deny") {
			return "failure"
		}
		if strings.Contains(actLower, "allow") || strings.Contains(actLower, "permit") {
			return "success"
		}
	}

	return ""
}
