// Package store persists log events, alerts, response actions and
// suppression state. MemoryStore backs development and tests; the
// ClickHouse implementation backs production deployments.
package store

import (
	"context"
	"errors"
	"time"

	"argus-siem/internal/schema"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrFeedbackRecorded indicates the alert already carries a verdict.
	ErrFeedbackRecorded = errors.New("feedback already recorded")
)

// EventFilter narrows log event listings. Zero values mean no constraint.
type EventFilter struct {
	EventType string
	SourceIP  string
	Username  string
	Since     time.Time
	Until     time.Time
	Skip      int
	Limit     int
}

// AlertFilter narrows alert listings. Zero values mean no constraint.
type AlertFilter struct {
	Severity   schema.Severity
	EventType  string
	SourceIP   string
	Username   string
	Suppressed *bool
	Since      time.Time
	Until      time.Time
	Skip       int
	Limit      int
}

// DefaultListLimit applies when a filter does not set one.
const DefaultListLimit = 100

// DailyCount is one day's event volume.
type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// Store is the persistence boundary for the pipeline.
// Listings are ordered by timestamp descending.
type Store interface {
	InsertLogEvents(ctx context.Context, events []*schema.LogEvent) error
	GetLogEvent(ctx context.Context, id int64) (*schema.LogEvent, error)
	ListLogEvents(ctx context.Context, filter EventFilter) ([]*schema.LogEvent, error)
	CountLogEvents(ctx context.Context) (int64, error)
	CountEventsByUser(ctx context.Context, username string, since time.Time) (int64, error)

	InsertAlert(ctx context.Context, alert *schema.Alert) error
	GetAlert(ctx context.Context, id int64) (*schema.Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*schema.Alert, error)
	CountAlerts(ctx context.Context, suppressedOnly bool) (int64, error)
	// SetAlertFeedback records a verdict exactly once. It returns
	// ErrNotFound for unknown ids and ErrFeedbackRecorded when a verdict
	// already exists.
	SetAlertFeedback(ctx context.Context, id int64, verdict schema.Verdict, at time.Time) (*schema.Alert, error)

	EventTypeCounts(ctx context.Context) (map[string]int64, error)
	DailyLogCounts(ctx context.Context, days int) ([]DailyCount, error)

	AppendAction(ctx context.Context, action *schema.SOARAction) error
	ListActions(ctx context.Context, limit int) ([]*schema.SOARAction, error)

	LoadSuppressionStates(ctx context.Context) ([]*schema.SuppressionState, error)
	SaveSuppressionState(ctx context.Context, state *schema.SuppressionState) error

	// MaxIDs returns the highest assigned event and alert ids, used to
	// seed the id sequence at startup.
	MaxIDs(ctx context.Context) (maxEventID, maxAlertID int64, err error)

	Close() error
}
