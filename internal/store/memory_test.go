package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"argus-siem/internal/schema"
)

func seedEvents(t *testing.T, s *MemoryStore, events ...*schema.LogEvent) {
	t.Helper()
	if err := s.InsertLogEvents(context.Background(), events); err != nil {
		t.Fatalf("InsertLogEvents() error = %v", err)
	}
}

func TestMemoryStore_Events(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	seedEvents(t, s,
		&schema.LogEvent{ID: 1, Timestamp: now.Add(-3 * time.Hour), EventType: "login", Username: "alice", SourceIP: "10.0.0.1"},
		&schema.LogEvent{ID: 2, Timestamp: now.Add(-2 * time.Hour), EventType: "failed_login", Username: "bob", SourceIP: "10.0.0.2"},
		&schema.LogEvent{ID: 3, Timestamp: now.Add(-1 * time.Hour), EventType: "failed_login", Username: "Alice", SourceIP: "10.0.0.1"},
	)

	t.Run("get by id", func(t *testing.T) {
		e, err := s.GetLogEvent(ctx, 2)
		if err != nil {
			t.Fatalf("GetLogEvent() error = %v", err)
		}
		if e.Username != "bob" {
			t.Errorf("Username = %q, want bob", e.Username)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		if _, err := s.GetLogEvent(ctx, 99); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetLogEvent() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("list ordered newest first", func(t *testing.T) {
		events, err := s.ListLogEvents(ctx, EventFilter{})
		if err != nil {
			t.Fatalf("ListLogEvents() error = %v", err)
		}
		if len(events) != 3 {
			t.Fatalf("len = %d, want 3", len(events))
		}
		if events[0].ID != 3 || events[2].ID != 1 {
			t.Errorf("order = [%d %d %d], want [3 2 1]", events[0].ID, events[1].ID, events[2].ID)
		}
	})

	t.Run("filter by event type", func(t *testing.T) {
		events, _ := s.ListLogEvents(ctx, EventFilter{EventType: "failed_login"})
		if len(events) != 2 {
			t.Errorf("len = %d, want 2", len(events))
		}
	})

	t.Run("filter by username case insensitive", func(t *testing.T) {
		events, _ := s.ListLogEvents(ctx, EventFilter{Username: "alice"})
		if len(events) != 2 {
			t.Errorf("len = %d, want 2", len(events))
		}
	})

	t.Run("time range", func(t *testing.T) {
		events, _ := s.ListLogEvents(ctx, EventFilter{Since: now.Add(-150 * time.Minute)})
		if len(events) != 2 {
			t.Errorf("len = %d, want 2", len(events))
		}
	})

	t.Run("pagination", func(t *testing.T) {
		page, _ := s.ListLogEvents(ctx, EventFilter{Skip: 1, Limit: 1})
		if len(page) != 1 || page[0].ID != 2 {
			t.Errorf("page = %+v, want single event id 2", page)
		}
		empty, _ := s.ListLogEvents(ctx, EventFilter{Skip: 10})
		if len(empty) != 0 {
			t.Errorf("len = %d, want 0", len(empty))
		}
	})

	t.Run("negative skip treated as zero", func(t *testing.T) {
		events, err := s.ListLogEvents(ctx, EventFilter{Skip: -1})
		if err != nil {
			t.Fatalf("ListLogEvents() error = %v", err)
		}
		if len(events) != 3 {
			t.Errorf("len = %d, want 3", len(events))
		}
	})

	t.Run("count by user", func(t *testing.T) {
		count, _ := s.CountEventsByUser(ctx, "ALICE", now.Add(-4*time.Hour))
		if count != 2 {
			t.Errorf("count = %d, want 2", count)
		}
	})

	t.Run("immutability of stored events", func(t *testing.T) {
		e, _ := s.GetLogEvent(ctx, 1)
		e.Username = "mutated"
		again, _ := s.GetLogEvent(ctx, 1)
		if again.Username != "alice" {
			t.Errorf("stored event mutated through returned copy")
		}
	})
}

func TestMemoryStore_Alerts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	suppressed := true
	alerts := []*schema.Alert{
		{ID: 1, Timestamp: now.Add(-2 * time.Hour), EventType: "failed_login", Severity: schema.SeverityHigh, SourceIP: "10.0.0.1", Username: "alice", LogEventID: 1, AIScore: 70},
		{ID: 2, Timestamp: now.Add(-1 * time.Hour), EventType: "malware_detection", Severity: schema.SeverityCritical, LogEventID: 2, AIScore: 90},
		{ID: 3, Timestamp: now, EventType: "failed_login", Severity: schema.SeverityLow, LogEventID: 3, AIScore: 20, IsSuppressed: true, SuppressionReason: "below threshold"},
	}
	for _, a := range alerts {
		if err := s.InsertAlert(ctx, a); err != nil {
			t.Fatalf("InsertAlert() error = %v", err)
		}
	}

	t.Run("filter by severity", func(t *testing.T) {
		got, _ := s.ListAlerts(ctx, AlertFilter{Severity: schema.SeverityCritical})
		if len(got) != 1 || got[0].ID != 2 {
			t.Errorf("got %+v, want alert 2", got)
		}
	})

	t.Run("filter by source and user", func(t *testing.T) {
		got, _ := s.ListAlerts(ctx, AlertFilter{SourceIP: "10.0.0.1"})
		if len(got) != 1 || got[0].ID != 1 {
			t.Errorf("source filter got %+v, want alert 1", got)
		}
		got, _ = s.ListAlerts(ctx, AlertFilter{Username: "alice"})
		if len(got) != 1 || got[0].ID != 1 {
			t.Errorf("username filter got %+v, want alert 1", got)
		}
	})

	t.Run("negative skip treated as zero", func(t *testing.T) {
		got, err := s.ListAlerts(ctx, AlertFilter{Skip: -1})
		if err != nil {
			t.Fatalf("ListAlerts() error = %v", err)
		}
		if len(got) != 3 {
			t.Errorf("len = %d, want 3", len(got))
		}
	})

	t.Run("filter suppressed", func(t *testing.T) {
		got, _ := s.ListAlerts(ctx, AlertFilter{Suppressed: &suppressed})
		if len(got) != 1 || got[0].ID != 3 {
			t.Errorf("got %+v, want alert 3", got)
		}
	})

	t.Run("counts", func(t *testing.T) {
		total, _ := s.CountAlerts(ctx, false)
		supp, _ := s.CountAlerts(ctx, true)
		if total != 3 || supp != 1 {
			t.Errorf("counts = %d/%d, want 3/1", total, supp)
		}
	})
}

func TestMemoryStore_FeedbackAppendOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	alert := &schema.Alert{ID: 1, Timestamp: now, EventType: "failed_login", Severity: schema.SeverityHigh, LogEventID: 1}
	if err := s.InsertAlert(ctx, alert); err != nil {
		t.Fatalf("InsertAlert() error = %v", err)
	}

	updated, err := s.SetAlertFeedback(ctx, 1, schema.VerdictFalsePositive, now)
	if err != nil {
		t.Fatalf("SetAlertFeedback() error = %v", err)
	}
	if updated.AIFeedback != schema.VerdictFalsePositive || updated.AIFeedbackAt == nil {
		t.Errorf("feedback not recorded: %+v", updated)
	}

	if _, err := s.SetAlertFeedback(ctx, 1, schema.VerdictTruePositive, now); !errors.Is(err, ErrFeedbackRecorded) {
		t.Errorf("second feedback error = %v, want ErrFeedbackRecorded", err)
	}

	// Original verdict untouched.
	got, _ := s.GetAlert(ctx, 1)
	if got.AIFeedback != schema.VerdictFalsePositive {
		t.Errorf("verdict = %q, want original false_positive", got.AIFeedback)
	}

	if _, err := s.SetAlertFeedback(ctx, 42, schema.VerdictTruePositive, now); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_DashboardQueries(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	seedEvents(t, s,
		&schema.LogEvent{ID: 1, Timestamp: now, EventType: "login"},
		&schema.LogEvent{ID: 2, Timestamp: now, EventType: "login"},
		&schema.LogEvent{ID: 3, Timestamp: now.AddDate(0, 0, -1), EventType: "failed_login"},
		&schema.LogEvent{ID: 4, Timestamp: now.AddDate(0, 0, -30), EventType: "login"},
	)

	counts, err := s.EventTypeCounts(ctx)
	if err != nil {
		t.Fatalf("EventTypeCounts() error = %v", err)
	}
	if counts["login"] != 3 || counts["failed_login"] != 1 {
		t.Errorf("counts = %v", counts)
	}

	daily, err := s.DailyLogCounts(ctx, 7)
	if err != nil {
		t.Fatalf("DailyLogCounts() error = %v", err)
	}
	if len(daily) != 7 {
		t.Fatalf("len(daily) = %d, want 7", len(daily))
	}
	if daily[6].Count != 2 {
		t.Errorf("today count = %d, want 2", daily[6].Count)
	}
	if daily[5].Count != 1 {
		t.Errorf("yesterday count = %d, want 1", daily[5].Count)
	}

	var total int64
	for _, d := range daily {
		total += d.Count
	}
	if total != 3 {
		t.Errorf("7-day total = %d, want 3 (30-day-old event excluded)", total)
	}
}

func TestMemoryStore_Actions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.AppendAction(ctx, &schema.SOARAction{
			ID:         string(rune('a' + i)),
			Timestamp:  time.Now().UTC(),
			ActionType: schema.ActionBlockIP,
			Target:     "10.0.0.1",
			Success:    true,
		}); err != nil {
			t.Fatalf("AppendAction() error = %v", err)
		}
	}

	got, err := s.ListActions(ctx, 3)
	if err != nil {
		t.Fatalf("ListActions() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ID != "e" {
		t.Errorf("most recent first: got %q, want e", got[0].ID)
	}
}

func TestMemoryStore_SuppressionState(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	st := schema.NewSuppressionState("failed_login")
	st.FalsePositives = 4
	st.Threshold = 45
	if err := s.SaveSuppressionState(ctx, st); err != nil {
		t.Fatalf("SaveSuppressionState() error = %v", err)
	}

	states, err := s.LoadSuppressionStates(ctx)
	if err != nil {
		t.Fatalf("LoadSuppressionStates() error = %v", err)
	}
	if len(states) != 1 || states[0].Threshold != 45 || states[0].FalsePositives != 4 {
		t.Errorf("states = %+v", states)
	}
}

func TestMemoryStore_MaxIDs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	maxE, maxA, err := s.MaxIDs(ctx)
	if err != nil || maxE != 0 || maxA != 0 {
		t.Fatalf("MaxIDs() on empty store = %d/%d/%v", maxE, maxA, err)
	}

	seedEvents(t, s, &schema.LogEvent{ID: 7, Timestamp: now, EventType: "login"})
	if err := s.InsertAlert(ctx, &schema.Alert{ID: 12, Timestamp: now, EventType: "x", Severity: schema.SeverityLow, LogEventID: 7}); err != nil {
		t.Fatal(err)
	}

	maxE, maxA, _ = s.MaxIDs(ctx)
	if maxE != 7 || maxA != 12 {
		t.Errorf("MaxIDs() = %d/%d, want 7/12", maxE, maxA)
	}
}
