package query

import (
	"context"
	"testing"
	"time"

	"argus-siem/internal/schema"
	"argus-siem/internal/store"
)

func seededService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	events := []*schema.LogEvent{
		{ID: 1, Timestamp: now.Add(-2 * time.Hour), EventType: "login", Username: "alice", SourceIP: "10.0.0.1"},
		{ID: 2, Timestamp: now.Add(-1 * time.Hour), EventType: "failed_login", Username: "bob", SourceIP: "10.0.0.2"},
		{ID: 3, Timestamp: now, EventType: "failed_login", Username: "bob", SourceIP: "10.0.0.2"},
	}
	if err := s.InsertLogEvents(ctx, events); err != nil {
		t.Fatal(err)
	}

	alerts := []*schema.Alert{
		{ID: 1, Timestamp: now.Add(-1 * time.Hour), EventType: "failed_login", Severity: schema.SeverityHigh, LogEventID: 2, AIScore: 70},
		{ID: 2, Timestamp: now, EventType: "failed_login", Severity: schema.SeverityLow, LogEventID: 3, AIScore: 20,
			IsSuppressed: true, SuppressionReason: "duplicate of alert 1 within 5m0s window"},
	}
	for _, a := range alerts {
		if err := s.InsertAlert(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	return NewService(s, 7), s
}

func TestService_ListLogs(t *testing.T) {
	svc, _ := seededService(t)
	ctx := context.Background()

	all, err := svc.ListLogs(ctx, store.EventFilter{})
	if err != nil {
		t.Fatalf("ListLogs() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len = %d, want 3", len(all))
	}

	byUser, _ := svc.ListLogs(ctx, store.EventFilter{Username: "bob"})
	if len(byUser) != 2 {
		t.Errorf("bob's events = %d, want 2", len(byUser))
	}
}

func TestService_Dashboard(t *testing.T) {
	svc, _ := seededService(t)
	ctx := context.Background()

	stats, err := svc.Dashboard(ctx)
	if err != nil {
		t.Fatalf("Dashboard() error = %v", err)
	}

	if stats.TotalLogs != 3 {
		t.Errorf("TotalLogs = %d, want 3", stats.TotalLogs)
	}
	if stats.TotalAlerts != 2 || stats.SuppressedAlerts != 1 {
		t.Errorf("alerts = %d/%d, want 2/1", stats.TotalAlerts, stats.SuppressedAlerts)
	}
	if stats.TotalAlerts < stats.SuppressedAlerts {
		t.Error("suppressed count exceeds total")
	}
	if stats.EventTypes["failed_login"] != 2 || stats.EventTypes["login"] != 1 {
		t.Errorf("EventTypes = %v", stats.EventTypes)
	}
	if len(stats.DailyLogCounts) != 7 {
		t.Errorf("daily series length = %d, want 7", len(stats.DailyLogCounts))
	}

	// Total alerts matches an unfiltered listing paged fully.
	alerts, _ := svc.ListAlerts(ctx, store.AlertFilter{Limit: 1000})
	if int64(len(alerts)) != stats.TotalAlerts {
		t.Errorf("listing has %d alerts, dashboard says %d", len(alerts), stats.TotalAlerts)
	}
}

func TestService_RecentActions(t *testing.T) {
	svc, s := seededService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.AppendAction(ctx, &schema.SOARAction{
			ID:         string(rune('a' + i)),
			Timestamp:  time.Now().UTC(),
			ActionType: schema.ActionBlockIP,
			Target:     "203.0.113.5",
			Success:    true,
		})
	}

	actions, err := svc.RecentActions(ctx, 2)
	if err != nil {
		t.Fatalf("RecentActions() error = %v", err)
	}
	if len(actions) != 2 || actions[0].ID != "c" {
		t.Errorf("actions = %+v, want newest two", actions)
	}
}
