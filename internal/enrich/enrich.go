// Package enrich derives geo location and risk context for normalized
// events. All lookups are table-driven and deterministic so replaying the
// same input always yields the same scores.
package enrich

import (
	"context"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"argus-siem/internal/schema"
)

// UnknownLocation is recorded when no geo table entry matches.
const UnknownLocation = "unknown"

// geoEntry maps a network range to a location label.
type geoEntry struct {
	prefix   netip.Prefix
	location string
}

// assetEntry maps a network range to a criticality score.
type assetEntry struct {
	prefix      netip.Prefix
	criticality float64
}

// EventCounter reports how many events a username produced since a cutoff.
// Used to boost risk for accounts with heavy recent activity.
type EventCounter interface {
	CountEventsByUser(ctx context.Context, username string, since time.Time) (int64, error)
}

// Config holds enricher tuning.
type Config struct {
	// PrivilegedScore is the base risk for known privileged accounts.
	PrivilegedScore float64 `yaml:"privileged_score"`
	// ServiceScore is the base risk for service accounts (svc_ prefix).
	ServiceScore float64 `yaml:"service_score"`
	// DefaultUserScore is the base risk for any other named account.
	DefaultUserScore float64 `yaml:"default_user_score"`
	// HistoryWindow bounds the activity lookback for the history boost.
	HistoryWindow time.Duration `yaml:"history_window"`
	// HistoryBoostMax caps the activity-derived boost.
	HistoryBoostMax float64 `yaml:"history_boost_max"`
}

// DefaultConfig returns the default enricher configuration.
func DefaultConfig() Config {
	return Config{
		PrivilegedScore:  85,
		ServiceScore:     40,
		DefaultUserScore: 20,
		HistoryWindow:    24 * time.Hour,
		HistoryBoostMax:  15,
	}
}

// privilegedAccounts are usernames that always carry elevated risk.
var privilegedAccounts = map[string]bool{
	"root":          true,
	"admin":         true,
	"administrator": true,
	"sa":            true,
	"operator":      true,
	"superuser":     true,
}

// defaultGeoTable covers RFC1918 space plus documentation ranges; anything
// else resolves to UnknownLocation.
var defaultGeoTable = []geoEntry{
	{netip.MustParsePrefix("10.0.0.0/8"), "internal"},
	{netip.MustParsePrefix("172.16.0.0/12"), "internal"},
	{netip.MustParsePrefix("192.168.0.0/16"), "internal"},
	{netip.MustParsePrefix("127.0.0.0/8"), "localhost"},
	{netip.MustParsePrefix("203.0.113.0/24"), "external/test-net-3"},
	{netip.MustParsePrefix("198.51.100.0/24"), "external/test-net-2"},
	{netip.MustParsePrefix("192.0.2.0/24"), "external/test-net-1"},
}

// defaultAssetTable scores destination networks. Narrower prefixes are
// listed first and win.
var defaultAssetTable = []assetEntry{
	{netip.MustParsePrefix("10.0.0.0/24"), 90},
	{netip.MustParsePrefix("10.0.1.0/24"), 75},
	{netip.MustParsePrefix("10.0.0.0/8"), 60},
	{netip.MustParsePrefix("172.16.0.0/12"), 55},
	{netip.MustParsePrefix("192.168.0.0/16"), 40},
}

// publicAssetScore applies to routable destinations outside the tables.
const publicAssetScore = 25

// Enricher fills geo and risk fields on normalized events.
type Enricher struct {
	config     Config
	geoTable   []geoEntry
	assetTable []assetEntry
	counter    EventCounter
	logger     *slog.Logger
}

// New creates an Enricher. counter may be nil; the history boost is then
// skipped.
func New(cfg Config, counter EventCounter, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		config:     cfg,
		geoTable:   defaultGeoTable,
		assetTable: defaultAssetTable,
		counter:    counter,
		logger:     logger,
	}
}

// Enrich fills GeoLocation, UserRiskScore and AssetCriticality on the
// event. Fields already populated by the producer are left alone. Missing
// inputs produce neutral defaults, never an error.
func (e *Enricher) Enrich(ctx context.Context, event *schema.LogEvent) {
	if event.GeoLocation == "" {
		event.GeoLocation = e.lookupGeo(event.SourceIP)
	}
	if event.UserRiskScore == 0 {
		event.UserRiskScore = e.scoreUser(ctx, event.Username)
	}
	if event.AssetCriticality == 0 {
		event.AssetCriticality = e.scoreAsset(event.DestinationIP)
	}
}

func (e *Enricher) lookupGeo(sourceIP string) string {
	if sourceIP == "" {
		return ""
	}
	addr, err := netip.ParseAddr(sourceIP)
	if err != nil {
		return UnknownLocation
	}
	for _, entry := range e.geoTable {
		if entry.prefix.Contains(addr) {
			return entry.location
		}
	}
	return UnknownLocation
}

func (e *Enricher) scoreUser(ctx context.Context, username string) float64 {
	if username == "" {
		return 0
	}

	name := strings.ToLower(username)
	score := e.config.DefaultUserScore
	switch {
	case privilegedAccounts[name]:
		score = e.config.PrivilegedScore
	case strings.HasPrefix(name, "svc_") || strings.HasPrefix(name, "svc-"):
		score = e.config.ServiceScore
	}

	if e.counter != nil {
		since := time.Now().UTC().Add(-e.config.HistoryWindow)
		count, err := e.counter.CountEventsByUser(ctx, username, since)
		if err != nil {
			e.logger.Debug("history lookup failed, skipping boost",
				"username", username, "error", err)
		} else {
			boost := float64(count) / 10
			if boost > e.config.HistoryBoostMax {
				boost = e.config.HistoryBoostMax
			}
			score += boost
		}
	}

	return clamp(score)
}

func (e *Enricher) scoreAsset(destIP string) float64 {
	if destIP == "" {
		return 0
	}
	addr, err := netip.ParseAddr(destIP)
	if err != nil {
		return 0
	}
	for _, entry := range e.assetTable {
		if entry.prefix.Contains(addr) {
			return entry.criticality
		}
	}
	return publicAssetScore
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
