package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"argus-siem/internal/schema"
)

// ClickHouseStore implements Store on ClickHouse. Alerts and suppression
// state live in ReplacingMergeTree tables; updates insert a new row
// version and reads collapse with FINAL.
type ClickHouseStore struct {
	client *ClickHouseClient
}

// NewClickHouseStore creates a store over an established client.
func NewClickHouseStore(client *ClickHouseClient) *ClickHouseStore {
	return &ClickHouseStore{client: client}
}

// Client exposes the underlying connection for the batch writer.
func (s *ClickHouseStore) Client() *ClickHouseClient {
	return s.client
}

const insertEventSQL = `INSERT INTO log_events
	(id, timestamp, event_type, source_ip, destination_ip, username, action, status,
	 geo_location, user_risk_score, asset_criticality, raw_log)`

func (s *ClickHouseStore) InsertLogEvents(ctx context.Context, events []*schema.LogEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch, err := s.client.PrepareBatch(ctx, insertEventSQL)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, e := range events {
		if err := batch.Append(
			e.ID, e.Timestamp, e.EventType, e.SourceIP, e.DestinationIP,
			e.Username, e.Action, e.Status, e.GeoLocation,
			e.UserRiskScore, e.AssetCriticality, e.Raw,
		); err != nil {
			return fmt.Errorf("append event %d: %w", e.ID, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

const selectEventSQL = `SELECT id, timestamp, event_type, source_ip, destination_ip,
	username, action, status, geo_location, user_risk_score, asset_criticality, raw_log
	FROM log_events`

func scanEvent(row interface{ Scan(dest ...any) error }) (*schema.LogEvent, error) {
	var e schema.LogEvent
	err := row.Scan(
		&e.ID, &e.Timestamp, &e.EventType, &e.SourceIP, &e.DestinationIP,
		&e.Username, &e.Action, &e.Status, &e.GeoLocation,
		&e.UserRiskScore, &e.AssetCriticality, &e.Raw,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *ClickHouseStore) GetLogEvent(ctx context.Context, id int64) (*schema.LogEvent, error) {
	rows, err := s.client.Query(ctx, selectEventSQL+" WHERE id = ? LIMIT 1", id)
	if err != nil {
		return nil, fmt.Errorf("query event: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanEvent(rows)
}

func (s *ClickHouseStore) ListLogEvents(ctx context.Context, filter EventFilter) ([]*schema.LogEvent, error) {
	var conds []string
	var args []any
	if filter.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.SourceIP != "" {
		conds = append(conds, "source_ip = ?")
		args = append(args, filter.SourceIP)
	}
	if filter.Username != "" {
		conds = append(conds, "lower(username) = lower(?)")
		args = append(args, filter.Username)
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, filter.Until)
	}

	query := selectEventSQL
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC, id DESC LIMIT %d OFFSET %d", limit, filter.Skip)

	rows, err := s.client.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*schema.LogEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) CountLogEvents(ctx context.Context) (int64, error) {
	var count uint64
	if err := s.client.QueryRow(ctx, "SELECT count() FROM log_events").Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return int64(count), nil
}

func (s *ClickHouseStore) CountEventsByUser(ctx context.Context, username string, since time.Time) (int64, error) {
	var count uint64
	err := s.client.QueryRow(ctx,
		"SELECT count() FROM log_events WHERE lower(username) = lower(?) AND timestamp >= ?",
		username, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count user events: %w", err)
	}
	return int64(count), nil
}

const insertAlertSQL = `INSERT INTO alerts
	(id, timestamp, event_type, severity, mitre_technique_id, description, source_ip,
	 username, log_event_id, ai_score, ai_classification, is_suppressed,
	 suppression_reason, ai_feedback, ai_feedback_at, updated_at)`

func (s *ClickHouseStore) insertAlertRow(ctx context.Context, a *schema.Alert) error {
	return s.client.Exec(ctx,
		insertAlertSQL+" VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		a.ID, a.Timestamp, a.EventType, string(a.Severity), a.MITRETechniqueID,
		a.Description, a.SourceIP, a.Username, a.LogEventID, a.AIScore,
		a.AIClassification, a.IsSuppressed, a.SuppressionReason,
		string(a.AIFeedback), a.AIFeedbackAt, time.Now().UTC(),
	)
}

func (s *ClickHouseStore) InsertAlert(ctx context.Context, alert *schema.Alert) error {
	if err := s.insertAlertRow(ctx, alert); err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

const selectAlertSQL = `SELECT id, timestamp, event_type, severity, mitre_technique_id,
	description, source_ip, username, log_event_id, ai_score, ai_classification,
	is_suppressed, suppression_reason, ai_feedback, ai_feedback_at
	FROM alerts FINAL`

func scanAlert(row interface{ Scan(dest ...any) error }) (*schema.Alert, error) {
	var a schema.Alert
	var severity, feedback string
	err := row.Scan(
		&a.ID, &a.Timestamp, &a.EventType, &severity, &a.MITRETechniqueID,
		&a.Description, &a.SourceIP, &a.Username, &a.LogEventID, &a.AIScore,
		&a.AIClassification, &a.IsSuppressed, &a.SuppressionReason,
		&feedback, &a.AIFeedbackAt,
	)
	if err != nil {
		return nil, err
	}
	a.Severity = schema.Severity(severity)
	a.AIFeedback = schema.Verdict(feedback)
	return &a, nil
}

func (s *ClickHouseStore) GetAlert(ctx context.Context, id int64) (*schema.Alert, error) {
	rows, err := s.client.Query(ctx, selectAlertSQL+" WHERE id = ? LIMIT 1", id)
	if err != nil {
		return nil, fmt.Errorf("query alert: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanAlert(rows)
}

func (s *ClickHouseStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]*schema.Alert, error) {
	var conds []string
	var args []any
	if filter.Severity != "" {
		conds = append(conds, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.SourceIP != "" {
		conds = append(conds, "source_ip = ?")
		args = append(args, filter.SourceIP)
	}
	if filter.Username != "" {
		conds = append(conds, "username = ?")
		args = append(args, filter.Username)
	}
	if filter.Suppressed != nil {
		conds = append(conds, "is_suppressed = ?")
		args = append(args, *filter.Suppressed)
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, filter.Until)
	}

	query := selectAlertSQL
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC, id DESC LIMIT %d OFFSET %d", limit, filter.Skip)

	rows, err := s.client.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []*schema.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) CountAlerts(ctx context.Context, suppressedOnly bool) (int64, error) {
	query := "SELECT count() FROM alerts FINAL"
	if suppressedOnly {
		query += " WHERE is_suppressed = true"
	}
	var count uint64
	if err := s.client.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return int64(count), nil
}

func (s *ClickHouseStore) SetAlertFeedback(ctx context.Context, id int64, verdict schema.Verdict, at time.Time) (*schema.Alert, error) {
	alert, err := s.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.HasFeedback() {
		return nil, ErrFeedbackRecorded
	}

	alert.AIFeedback = verdict
	alert.AIFeedbackAt = &at
	if err := s.insertAlertRow(ctx, alert); err != nil {
		return nil, fmt.Errorf("update alert feedback: %w", err)
	}
	return alert, nil
}

func (s *ClickHouseStore) EventTypeCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.client.Query(ctx,
		"SELECT event_type, count() FROM log_events GROUP BY event_type")
	if err != nil {
		return nil, fmt.Errorf("event type counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var eventType string
		var count uint64
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[eventType] = int64(count)
	}
	return counts, rows.Err()
}

func (s *ClickHouseStore) DailyLogCounts(ctx context.Context, days int) ([]DailyCount, error) {
	rows, err := s.client.Query(ctx,
		`SELECT toDate(timestamp) AS day, count()
		 FROM log_events
		 WHERE timestamp >= now() - INTERVAL ? DAY
		 GROUP BY day ORDER BY day`, days)
	if err != nil {
		return nil, fmt.Errorf("daily counts: %w", err)
	}
	defer rows.Close()

	byDay := make(map[string]int64)
	for rows.Next() {
		var day time.Time
		var count uint64
		if err := rows.Scan(&day, &count); err != nil {
			return nil, fmt.Errorf("scan daily count: %w", err)
		}
		byDay[day.Format("2006-01-02")] = int64(count)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]DailyCount, 0, days)
	for i := days - 1; i >= 0; i-- {
		day := time.Now().UTC().AddDate(0, 0, -i).Format("2006-01-02")
		out = append(out, DailyCount{Date: day, Count: byDay[day]})
	}
	return out, nil
}

func (s *ClickHouseStore) AppendAction(ctx context.Context, action *schema.SOARAction) error {
	err := s.client.Exec(ctx,
		`INSERT INTO soar_actions (id, timestamp, action_type, target, reason, success, message)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		action.ID, action.Timestamp, string(action.ActionType), action.Target,
		action.Reason, action.Success, action.Message)
	if err != nil {
		return fmt.Errorf("append action: %w", err)
	}
	return nil
}

func (s *ClickHouseStore) ListActions(ctx context.Context, limit int) ([]*schema.SOARAction, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.client.Query(ctx,
		`SELECT id, timestamp, action_type, target, reason, success, message
		 FROM soar_actions ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var out []*schema.SOARAction
	for rows.Next() {
		var a schema.SOARAction
		var actionType string
		if err := rows.Scan(&a.ID, &a.Timestamp, &actionType, &a.Target,
			&a.Reason, &a.Success, &a.Message); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.ActionType = schema.ActionType(actionType)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) LoadSuppressionStates(ctx context.Context) ([]*schema.SuppressionState, error) {
	rows, err := s.client.Query(ctx,
		`SELECT event_type, true_positives, false_positives, threshold, updated_at
		 FROM suppression_state FINAL`)
	if err != nil {
		return nil, fmt.Errorf("load suppression states: %w", err)
	}
	defer rows.Close()

	var out []*schema.SuppressionState
	for rows.Next() {
		var st schema.SuppressionState
		if err := rows.Scan(&st.EventType, &st.TruePositives, &st.FalsePositives, &st.Threshold, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan suppression state: %w", err)
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) SaveSuppressionState(ctx context.Context, state *schema.SuppressionState) error {
	err := s.client.Exec(ctx,
		`INSERT INTO suppression_state (event_type, true_positives, false_positives, threshold, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		state.EventType, state.TruePositives, state.FalsePositives,
		state.Threshold, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save suppression state: %w", err)
	}
	return nil
}

func (s *ClickHouseStore) MaxIDs(ctx context.Context) (int64, int64, error) {
	var maxEvent, maxAlert int64
	if err := s.client.QueryRow(ctx, "SELECT max(id) FROM log_events").Scan(&maxEvent); err != nil {
		return 0, 0, fmt.Errorf("max event id: %w", err)
	}
	if err := s.client.QueryRow(ctx, "SELECT max(id) FROM alerts").Scan(&maxAlert); err != nil {
		return 0, 0, fmt.Errorf("max alert id: %w", err)
	}
	return maxEvent, maxAlert, nil
}

func (s *ClickHouseStore) Close() error {
	return s.client.Close()
}
