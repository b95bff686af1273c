// Package schema defines the canonical record types for the Argus SIEM
// pipeline. All ingested records are normalized to LogEvent before scoring
// and detection; alerts and response actions reference events by id.
package schema

import (
	"time"
)

// LogEvent is the canonical normalized form of one ingested log record.
// Events are immutable once persisted.
type LogEvent struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
	EventType string    `json:"event_type" validate:"required,max=256"`

	// Optional fields; empty string means absent.
	SourceIP      string `json:"source_ip,omitempty" validate:"omitempty,ip"`
	DestinationIP string `json:"destination_ip,omitempty" validate:"omitempty,ip"`
	Username      string `json:"username,omitempty" validate:"max=256"`
	Action        string `json:"action,omitempty" validate:"max=256"`
	Status        string `json:"status,omitempty" validate:"max=64"`

	// Enrichment outputs, clamped to [0, 100].
	GeoLocation      string  `json:"geo_location,omitempty" validate:"max=128"`
	UserRiskScore    float64 `json:"user_risk_score" validate:"min=0,max=100"`
	AssetCriticality float64 `json:"asset_criticality" validate:"min=0,max=100"`

	// Raw preserves the original record text.
	Raw string `json:"raw_log,omitempty" validate:"max=65536"`
}

// Severity classifies an alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// IsValid checks if the severity is a valid value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Rank orders severities for comparison; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Verdict is an analyst judgement on an alert.
type Verdict string

const (
	VerdictTruePositive  Verdict = "true_positive"
	VerdictFalsePositive Verdict = "false_positive"
)

// IsValid checks if the verdict is a valid value.
func (v Verdict) IsValid() bool {
	switch v {
	case VerdictTruePositive, VerdictFalsePositive:
		return true
	}
	return false
}

// Alert is one detection produced from a LogEvent.
// Feedback fields are append-once; everything else is set at creation.
type Alert struct {
	ID               int64     `json:"id"`
	Timestamp        time.Time `json:"timestamp" validate:"required"`
	EventType        string    `json:"event_type" validate:"required,max=256"`
	Severity         Severity  `json:"severity" validate:"required,oneof=critical high medium low"`
	MITRETechniqueID string    `json:"mitre_technique_id,omitempty" validate:"max=32"`
	Description      string    `json:"description" validate:"max=2048"`
	SourceIP         string    `json:"source_ip,omitempty" validate:"omitempty,ip"`
	Username         string    `json:"username,omitempty" validate:"max=256"`
	LogEventID       int64     `json:"log_event_id" validate:"required"`

	AIScore          float64 `json:"ai_score" validate:"min=0,max=100"`
	AIClassification string  `json:"ai_classification,omitempty" validate:"max=256"`

	IsSuppressed      bool   `json:"is_suppressed"`
	SuppressionReason string `json:"suppression_reason,omitempty" validate:"max=512"`

	AIFeedback   Verdict    `json:"ai_feedback,omitempty" validate:"omitempty,oneof=true_positive false_positive"`
	AIFeedbackAt *time.Time `json:"ai_feedback_at,omitempty"`
}

// HasFeedback reports whether an analyst verdict has been recorded.
func (a *Alert) HasFeedback() bool {
	return a.AIFeedback != ""
}

// ActionType identifies a response action kind.
type ActionType string

const (
	ActionBlockIP          ActionType = "block_ip"
	ActionDisableAccount   ActionType = "disable_account"
	ActionSendNotification ActionType = "send_notification"
)

// IsValid checks if the action type is a valid value.
func (t ActionType) IsValid() bool {
	switch t {
	case ActionBlockIP, ActionDisableAccount, ActionSendNotification:
		return true
	}
	return false
}

// SOARAction is one audit record of a response action attempt.
// The audit trail is append-only.
type SOARAction struct {
	ID         string     `json:"id" validate:"required,uuid"`
	Timestamp  time.Time  `json:"timestamp" validate:"required"`
	ActionType ActionType `json:"action_type" validate:"required,oneof=block_ip disable_account send_notification"`
	Target     string     `json:"target" validate:"required,max=512"`
	Reason     string     `json:"reason,omitempty" validate:"max=1024"`
	Success    bool       `json:"success"`
	Message    string     `json:"message,omitempty" validate:"max=1024"`
}

// SuppressionState tracks adaptive suppression for one event type.
type SuppressionState struct {
	EventType      string    `json:"event_type"`
	TruePositives  int64     `json:"true_positives"`
	FalsePositives int64     `json:"false_positives"`
	Threshold      float64   `json:"threshold"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DefaultSuppressionThreshold is the starting ai_score threshold for an
// event type that has received no feedback yet.
const DefaultSuppressionThreshold = 30.0

// NewSuppressionState returns the initial state for an event type.
func NewSuppressionState(eventType string) *SuppressionState {
	return &SuppressionState{
		EventType: eventType,
		Threshold: DefaultSuppressionThreshold,
		UpdatedAt: time.Now().UTC(),
	}
}
