// Package query is the read-only surface over persisted events and
// alerts: filtered listings and dashboard aggregates.
package query

import (
	"context"
	"fmt"

	"argus-siem/internal/schema"
	"argus-siem/internal/store"
)

// DashboardStats are the aggregates backing the overview dashboard.
type DashboardStats struct {
	TotalLogs        int64              `json:"total_logs"`
	TotalAlerts      int64              `json:"total_alerts"`
	SuppressedAlerts int64              `json:"suppressed_alerts"`
	EventTypes       map[string]int64   `json:"event_types"`
	DailyLogCounts   []store.DailyCount `json:"daily_log_counts"`
}

// Service answers read queries. It never mutates.
type Service struct {
	store store.Store
	days  int
}

// NewService creates a query service. days controls the daily-count
// window; zero means the default of 7.
func NewService(s store.Store, days int) *Service {
	if days <= 0 {
		days = 7
	}
	return &Service{store: s, days: days}
}

// ListLogs returns events matching the filter, newest first.
func (s *Service) ListLogs(ctx context.Context, filter store.EventFilter) ([]*schema.LogEvent, error) {
	return s.store.ListLogEvents(ctx, filter)
}

// GetLog returns one event by id.
func (s *Service) GetLog(ctx context.Context, id int64) (*schema.LogEvent, error) {
	return s.store.GetLogEvent(ctx, id)
}

// ListAlerts returns alerts matching the filter, newest first.
func (s *Service) ListAlerts(ctx context.Context, filter store.AlertFilter) ([]*schema.Alert, error) {
	return s.store.ListAlerts(ctx, filter)
}

// GetAlert returns one alert by id.
func (s *Service) GetAlert(ctx context.Context, id int64) (*schema.Alert, error) {
	return s.store.GetAlert(ctx, id)
}

// RecentActions returns the latest audit records, newest first.
func (s *Service) RecentActions(ctx context.Context, limit int) ([]*schema.SOARAction, error) {
	return s.store.ListActions(ctx, limit)
}

// Dashboard computes the overview aggregates.
func (s *Service) Dashboard(ctx context.Context) (*DashboardStats, error) {
	totalLogs, err := s.store.CountLogEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("count logs: %w", err)
	}
	totalAlerts, err := s.store.CountAlerts(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("count alerts: %w", err)
	}
	suppressed, err := s.store.CountAlerts(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("count suppressed alerts: %w", err)
	}
	eventTypes, err := s.store.EventTypeCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("event type counts: %w", err)
	}
	daily, err := s.store.DailyLogCounts(ctx, s.days)
	if err != nil {
		return nil, fmt.Errorf("daily counts: %w", err)
	}

	return &DashboardStats{
		TotalLogs:        totalLogs,
		TotalAlerts:      totalAlerts,
		SuppressedAlerts: suppressed,
		EventTypes:       eventTypes,
		DailyLogCounts:   daily,
	}, nil
}
