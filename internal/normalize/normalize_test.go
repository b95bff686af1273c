package normalize

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizer_DetectFormat(t *testing.T) {
	n := NewNormalizer()

	tests := []struct {
		name    string
		payload string
		want    Format
	}{
		{"json object", `{"event_type":"login","source_ip":"1.2.3.4"}`, FormatJSON},
		{"json array", `[{"event_type":"login"}]`, FormatJSON},
		{"ndjson", "{\"event_type\":\"login\"}\n{\"event_type\":\"logout\"}", FormatNDJSON},
		{"cef", "CEF:0|V|P|1|100|name|5|src=1.2.3.4", FormatCEF},
		{"syslog", "Oct 11 22:14:15 host sshd[1234]: Failed password for root from 10.0.0.1", FormatSyslog},
		{"csv", "timestamp,event_type,source_ip\n2024-01-01T00:00:00Z,login,1.2.3.4", FormatCSV},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := n.DetectFormat([]byte(tt.payload)); got != tt.want {
				t.Errorf("DetectFormat() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizer_FilenameHint(t *testing.T) {
	n := NewNormalizer()

	// A CSV payload whose first row could also pass other detectors
	// should be parsed as CSV when the filename says so.
	payload := []byte("timestamp,event_type,username\n2024-05-01 10:00:00,failed_login,alice")
	result, err := n.Normalize(payload, FormatAuto, "export.csv")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if result.Format != FormatCSV {
		t.Errorf("Format = %q, want csv", result.Format)
	}
	if len(result.Events) != 1 {
		t.Fatalf("len(Events) = %d, want 1", len(result.Events))
	}
	if result.Events[0].Event.Username != "alice" {
		t.Errorf("Username = %q, want alice", result.Events[0].Event.Username)
	}
}

func TestNormalizer_EquivalentAcrossFormats(t *testing.T) {
	n := NewNormalizer()

	jsonPayload := []byte(`{"event_type":"failed_login","timestamp":"2024-05-01T10:00:00Z","source_ip":"192.168.0.9","username":"bob"}`)
	ndjsonPayload := []byte("{\"event_type\":\"failed_login\",\"timestamp\":\"2024-05-01T10:00:00Z\",\"source_ip\":\"192.168.0.9\",\"username\":\"bob\"}\n{\"event_type\":\"login\",\"timestamp\":\"2024-05-01T10:00:01Z\"}")
	csvPayload := []byte("event_type,timestamp,source_ip,username\nfailed_login,2024-05-01T10:00:00Z,192.168.0.9,bob")

	jr, err := n.Normalize(jsonPayload, FormatJSON, "")
	if err != nil {
		t.Fatalf("json Normalize() error = %v", err)
	}
	nr, err := n.Normalize(ndjsonPayload, FormatNDJSON, "")
	if err != nil {
		t.Fatalf("ndjson Normalize() error = %v", err)
	}
	cr, err := n.Normalize(csvPayload, FormatCSV, "")
	if err != nil {
		t.Fatalf("csv Normalize() error = %v", err)
	}

	want := jr.Events[0].Event
	ne, ce := nr.Events[0].Event, cr.Events[0].Event
	for name, got := range map[string]*struct {
		evType, srcIP, user string
		ts                  time.Time
	}{
		"ndjson": {ne.EventType, ne.SourceIP, ne.Username, ne.Timestamp},
		"csv":    {ce.EventType, ce.SourceIP, ce.Username, ce.Timestamp},
	} {
		if got.evType != want.EventType || got.srcIP != want.SourceIP || got.user != want.Username || !got.ts.Equal(want.Timestamp) {
			t.Errorf("%s record differs from json: got %+v, want %+v", name, got, want)
		}
	}
}

func TestNDJSONParser_PartialBatch(t *testing.T) {
	n := NewNormalizer()

	payload := []byte("{\"event_type\":\"login\",\"timestamp\":\"2024-05-01T10:00:00Z\"}\nnot json at all\n{\"event_type\":\"logout\",\"timestamp\":\"2024-05-01T10:00:02Z\"}")

	result, err := n.Normalize(payload, FormatNDJSON, "")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(result.Events) != 2 {
		t.Fatalf("len(Events) = %d, want 2", len(result.Events))
	}
	if result.Events[0].Line != 1 || result.Events[1].Line != 3 {
		t.Errorf("draft lines = %d,%d, want 1,3", result.Events[0].Line, result.Events[1].Line)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("len(Errors) = %d, want 1", len(result.Errors))
	}
	if result.Errors[0].Line != 2 {
		t.Errorf("error line = %d, want 2", result.Errors[0].Line)
	}
}

func TestNDJSONParser_AllLinesBad(t *testing.T) {
	n := NewNormalizer()

	_, err := n.Normalize([]byte("garbage\nmore garbage"), FormatNDJSON, "")
	if !errors.Is(err, ErrUnreadable) {
		t.Errorf("Normalize() error = %v, want ErrUnreadable", err)
	}
}

func TestNormalizer_EmptyPayload(t *testing.T) {
	n := NewNormalizer()

	_, err := n.Normalize([]byte("   \n  "), FormatAuto, "")
	if !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("Normalize() error = %v, want ErrEmptyPayload", err)
	}
}

func TestNormalizer_UnknownFormat(t *testing.T) {
	n := NewNormalizer()

	_, err := n.Normalize([]byte("completely unstructured text without separators"), FormatAuto, "")
	if !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Normalize() error = %v, want ErrUnknownFormat", err)
	}
}

func TestCSVParser_AliasHeaders(t *testing.T) {
	n := NewNormalizer()

	payload := []byte("@timestamp,type,src,user,outcome\n2024-05-01T10:00:00Z,unauthorized_access,10.1.1.1,carol,denied")
	result, err := n.Normalize(payload, FormatCSV, "")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	ev := result.Events[0].Event
	if ev.EventType != "unauthorized_access" {
		t.Errorf("EventType = %q", ev.EventType)
	}
	if ev.SourceIP != "10.1.1.1" {
		t.Errorf("SourceIP = %q", ev.SourceIP)
	}
	if ev.Username != "carol" {
		t.Errorf("Username = %q", ev.Username)
	}
	if ev.Status != "denied" {
		t.Errorf("Status = %q", ev.Status)
	}
}

func TestSyslogParser_Lines(t *testing.T) {
	parser := &SyslogParser{}

	tests := []struct {
		name      string
		line      string
		wantType  string
		wantIP    string
		wantUser  string
		wantError bool
	}{
		{
			name:     "failed password",
			line:     "Oct 11 22:14:15 web01 sshd[5121]: Failed password for admin from 203.0.113.9 port 51234 ssh2",
			wantType: "failed_login",
			wantIP:   "203.0.113.9",
			wantUser: "admin",
		},
		{
			name:     "accepted password",
			line:     "<34>Oct 11 22:15:02 web01 sshd[5122]: Accepted password for deploy from 198.51.100.3 port 2201 ssh2",
			wantType: "login",
			wantIP:   "198.51.100.3",
			wantUser: "deploy",
		},
		{
			name:     "sudo",
			line:     "Oct 12 09:00:00 db01 sudo: alice : TTY=pts/0 ; COMMAND=/bin/bash",
			wantType: "privilege_escalation",
		},
		{
			name:     "unmatched keyword",
			line:     "Oct 12 09:05:00 db01 cron[99]: job completed",
			wantType: "syslog_event",
		},
		{
			name:      "not syslog",
			line:      "this is not a syslog line",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := parser.parseLine(tt.line)
			if tt.wantError {
				if err == nil {
					t.Fatal("parseLine() should fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseLine() error = %v", err)
			}
			if event.EventType != tt.wantType {
				t.Errorf("EventType = %q, want %q", event.EventType, tt.wantType)
			}
			if tt.wantIP != "" && event.SourceIP != tt.wantIP {
				t.Errorf("SourceIP = %q, want %q", event.SourceIP, tt.wantIP)
			}
			if tt.wantUser != "" && event.Username != tt.wantUser {
				t.Errorf("Username = %q, want %q", event.Username, tt.wantUser)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"rfc3339", "2024-05-01T10:00:00Z", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"space layout", "2024-05-01 10:00:00", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"epoch seconds", "1714557600", time.Unix(1714557600, 0).UTC()},
		{"epoch millis", "1714557600000", time.UnixMilli(1714557600000).UTC()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			if err != nil {
				t.Fatalf("ParseTimestamp() error = %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	t.Run("garbage", func(t *testing.T) {
		if _, err := ParseTimestamp("yesterday-ish"); err == nil {
			t.Error("ParseTimestamp() should fail for unknown layout")
		}
	})
}

func BenchmarkNormalizer_NDJSON(b *testing.B) {
	n := NewNormalizer()
	payload := []byte("{\"event_type\":\"failed_login\",\"timestamp\":\"2024-05-01T10:00:00Z\",\"source_ip\":\"192.168.0.9\",\"username\":\"bob\"}\n{\"event_type\":\"login\",\"timestamp\":\"2024-05-01T10:00:01Z\",\"source_ip\":\"192.168.0.10\"}")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := n.Normalize(payload, FormatNDJSON, ""); err != nil {
			b.Fatal(err)
		}
	}
}
