package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"argus-siem/internal/schema"
)

// syslogPattern matches traditional BSD syslog lines with an optional
// priority prefix: "<34>Oct 11 22:14:15 host sshd[1234]: message".
var syslogPattern = regexp.MustCompile(
	`^(?:<(\d{1,3})>)?([A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(\S+)\s+([\w\-./]+)(?:\[(\d+)\])?:?\s*(.*)$`)

var (
	syslogIPPattern   = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	syslogUserPattern = regexp.MustCompile(`(?i)(?:user|usr|account)[=:\s]+(\S+)`)
	syslogForPattern  = regexp.MustCompile(`(?i)\bfor\s+(?:invalid user\s+)?([a-z_][\w\-]*)\s+from\b`)
)

// messageTypeRules maps message keywords to event types, checked in order.
var messageTypeRules = []struct {
	keyword   string
	eventType string
	status    string
}{
	{"failed password", "failed_login", "failure"},
	{"authentication failure", "failed_login", "failure"},
	{"invalid user", "failed_login", "failure"},
	{"accepted password", "login", "success"},
	{"accepted publickey", "login", "success"},
	{"session opened", "login", "success"},
	{"sudo", "privilege_escalation", ""},
	{"permission denied", "unauthorized_access", "failure"},
	{"unauthorized", "unauthorized_access", "failure"},
	{"denied", "unauthorized_access", "failure"},
	{"malware", "malware_detection", ""},
	{"virus", "malware_detection", ""},
}

// SyslogParser handles BSD-style syslog lines, one event per line.
type SyslogParser struct{}

func (p *SyslogParser) Format() Format { return FormatSyslog }

func (p *SyslogParser) Detect(payload []byte) bool {
	lines := splitLines(payload)
	if len(lines) == 0 {
		return false
	}
	return syslogPattern.MatchString(lines[0].text)
}

func (p *SyslogParser) Parse(payload []byte) (*Result, error) {
	lines := splitLines(payload)
	if len(lines) == 0 {
		return nil, ErrEmptyPayload
	}

	result := &Result{Format: FormatSyslog}
	for _, line := range lines {
		event, err := p.parseLine(line.text)
		if err != nil {
			result.Errors = append(result.Errors, RecordError{Line: line.num, Err: err.Error()})
			continue
		}
		result.Events = append(result.Events, Draft{Line: line.num, Event: event})
	}

	if len(result.Events) == 0 {
		return nil, fmt.Errorf("%w: no syslog lines matched", ErrUnreadable)
	}
	return result, nil
}

func (p *SyslogParser) parseLine(line string) (*schema.LogEvent, error) {
	m := syslogPattern.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("not a syslog line")
	}

	message := m[6]
	lowerMsg := strings.ToLower(message)

	event := &schema.LogEvent{
		Timestamp: parseSyslogTimestamp(m[2]),
		EventType: "syslog_event",
		Raw:       line,
	}

	for _, rule := range messageTypeRules {
		if strings.Contains(lowerMsg, rule.keyword) {
			event.EventType = rule.eventType
			event.Status = rule.status
			break
		}
	}

	if ip := syslogIPPattern.FindString(message); ip != "" {
		event.SourceIP = ip
	}
	if um := syslogForPattern.FindStringSubmatch(message); um != nil {
		event.Username = um[1]
	} else if um := syslogUserPattern.FindStringSubmatch(message); um != nil {
		event.Username = strings.Trim(um[1], `"'`)
	}

	return event, nil
}

// parseSyslogTimestamp fills in the current year, stepping back one year
// when the result would land in the future (January rollover).
func parseSyslogTimestamp(s string) time.Time {
	now := time.Now().UTC()
	t, err := time.Parse("Jan 2 15:04:05", strings.Join(strings.Fields(s), " "))
	if err != nil {
		return now
	}
	t = t.AddDate(now.Year(), 0, 0)
	if t.After(now.Add(24 * time.Hour)) {
		t = t.AddDate(-1, 0, 0)
	}
	return t.UTC()
}
