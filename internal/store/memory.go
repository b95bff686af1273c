package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"argus-siem/internal/schema"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	events   map[int64]*schema.LogEvent
	alerts   map[int64]*schema.Alert
	actions  []*schema.SOARAction
	suppress map[string]*schema.SuppressionState
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:   make(map[int64]*schema.LogEvent),
		alerts:   make(map[int64]*schema.Alert),
		suppress: make(map[string]*schema.SuppressionState),
	}
}

func (s *MemoryStore) InsertLogEvents(ctx context.Context, events []*schema.LogEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		copied := *e
		s.events[e.ID] = &copied
	}
	return nil
}

func (s *MemoryStore) GetLogEvent(ctx context.Context, id int64) (*schema.LogEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *e
	return &copied, nil
}

func (s *MemoryStore) ListLogEvents(ctx context.Context, filter EventFilter) ([]*schema.LogEvent, error) {
	s.mu.RLock()
	matched := make([]*schema.LogEvent, 0)
	for _, e := range s.events {
		if filter.EventType != "" && e.EventType != filter.EventType {
			continue
		}
		if filter.SourceIP != "" && e.SourceIP != filter.SourceIP {
			continue
		}
		if filter.Username != "" && !strings.EqualFold(e.Username, filter.Username) {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && e.Timestamp.After(filter.Until) {
			continue
		}
		copied := *e
		matched = append(matched, &copied)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	return paginate(matched, filter.Skip, filter.Limit), nil
}

func (s *MemoryStore) CountLogEvents(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.events)), nil
}

func (s *MemoryStore) CountEventsByUser(ctx context.Context, username string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, e := range s.events {
		if strings.EqualFold(e.Username, username) && !e.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) InsertAlert(ctx context.Context, alert *schema.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *alert
	s.alerts[alert.ID] = &copied
	return nil
}

func (s *MemoryStore) GetAlert(ctx context.Context, id int64) (*schema.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (s *MemoryStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]*schema.Alert, error) {
	s.mu.RLock()
	matched := make([]*schema.Alert, 0)
	for _, a := range s.alerts {
		if filter.Severity != "" && a.Severity != filter.Severity {
			continue
		}
		if filter.EventType != "" && a.EventType != filter.EventType {
			continue
		}
		if filter.SourceIP != "" && a.SourceIP != filter.SourceIP {
			continue
		}
		if filter.Username != "" && a.Username != filter.Username {
			continue
		}
		if filter.Suppressed != nil && a.IsSuppressed != *filter.Suppressed {
			continue
		}
		if !filter.Since.IsZero() && a.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && a.Timestamp.After(filter.Until) {
			continue
		}
		copied := *a
		matched = append(matched, &copied)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	return paginateAlerts(matched, filter.Skip, filter.Limit), nil
}

func (s *MemoryStore) CountAlerts(ctx context.Context, suppressedOnly bool) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !suppressedOnly {
		return int64(len(s.alerts)), nil
	}
	var count int64
	for _, a := range s.alerts {
		if a.IsSuppressed {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) SetAlertFeedback(ctx context.Context, id int64, verdict schema.Verdict, at time.Time) (*schema.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if a.HasFeedback() {
		return nil, ErrFeedbackRecorded
	}
	a.AIFeedback = verdict
	a.AIFeedbackAt = &at
	copied := *a
	return &copied, nil
}

func (s *MemoryStore) EventTypeCounts(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int64)
	for _, e := range s.events {
		counts[e.EventType]++
	}
	return counts, nil
}

func (s *MemoryStore) DailyLogCounts(ctx context.Context, days int) ([]DailyCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byDay := make(map[string]int64)
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	for _, e := range s.events {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		byDay[e.Timestamp.UTC().Format("2006-01-02")]++
	}

	out := make([]DailyCount, 0, days)
	for i := days - 1; i >= 0; i-- {
		day := time.Now().UTC().AddDate(0, 0, -i).Format("2006-01-02")
		out = append(out, DailyCount{Date: day, Count: byDay[day]})
	}
	return out, nil
}

func (s *MemoryStore) AppendAction(ctx context.Context, action *schema.SOARAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *action
	s.actions = append(s.actions, &copied)
	return nil
}

func (s *MemoryStore) ListActions(ctx context.Context, limit int) ([]*schema.SOARAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = DefaultListLimit
	}

	out := make([]*schema.SOARAction, 0, limit)
	for i := len(s.actions) - 1; i >= 0 && len(out) < limit; i-- {
		copied := *s.actions[i]
		out = append(out, &copied)
	}
	return out, nil
}

func (s *MemoryStore) LoadSuppressionStates(ctx context.Context) ([]*schema.SuppressionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*schema.SuppressionState, 0, len(s.suppress))
	for _, st := range s.suppress {
		copied := *st
		out = append(out, &copied)
	}
	return out, nil
}

func (s *MemoryStore) SaveSuppressionState(ctx context.Context, state *schema.SuppressionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *state
	s.suppress[state.EventType] = &copied
	return nil
}

func (s *MemoryStore) MaxIDs(ctx context.Context) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var maxEvent, maxAlert int64
	for id := range s.events {
		if id > maxEvent {
			maxEvent = id
		}
	}
	for id := range s.alerts {
		if id > maxAlert {
			maxAlert = id
		}
	}
	return maxEvent, maxAlert, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func paginate(events []*schema.LogEvent, skip, limit int) []*schema.LogEvent {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if skip >= len(events) {
		return []*schema.LogEvent{}
	}
	end := skip + limit
	if end > len(events) {
		end = len(events)
	}
	return events[skip:end]
}

func paginateAlerts(alerts []*schema.Alert, skip, limit int) []*schema.Alert {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if skip >= len(alerts) {
		return []*schema.Alert{}
	}
	end := skip + limit
	if end > len(alerts) {
		end = len(alerts)
	}
	return alerts[skip:end]
}
