// Package suppress decides whether an alert is noise. Two mechanisms
// apply in order: duplicate suppression over a sliding window, then an
// adaptive per-event-type score threshold tuned by analyst feedback.
package suppress

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"argus-siem/internal/schema"
)

// Config holds suppression engine configuration.
type Config struct {
	// DuplicateWindow is how long a prior unsuppressed alert with the
	// same (event_type, source_ip, username) keeps newer ones quiet.
	DuplicateWindow time.Duration `yaml:"duplicate_window"`
	// LearningRate controls how far the threshold moves per verdict.
	LearningRate float64 `yaml:"learning_rate"`
	// Stripes is the number of lock shards for suppression state.
	Stripes int `yaml:"stripes"`
}

// DefaultConfig returns the default suppression configuration.
func DefaultConfig() Config {
	return Config{
		DuplicateWindow: 5 * time.Minute,
		LearningRate:    0.2,
		Stripes:         32,
	}
}

type recentAlert struct {
	alertID int64
	seenAt  time.Time
}

// stripe shards state so feedback for different event types does not
// contend on one lock.
type stripe struct {
	mu     sync.Mutex
	states map[string]*schema.SuppressionState
	recent map[string]recentAlert
}

// Engine applies suppression decisions and maintains adaptive thresholds.
type Engine struct {
	config  Config
	logger  *slog.Logger
	stripes []*stripe

	duplicates     uint64
	belowThreshold uint64
	passed         uint64
}

// NewEngine creates a suppression engine.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if cfg.Stripes <= 0 {
		cfg.Stripes = DefaultConfig().Stripes
	}
	if cfg.LearningRate <= 0 || cfg.LearningRate > 1 {
		cfg.LearningRate = DefaultConfig().LearningRate
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = DefaultConfig().DuplicateWindow
	}
	if logger == nil {
		logger = slog.Default()
	}

	stripes := make([]*stripe, cfg.Stripes)
	for i := range stripes {
		stripes[i] = &stripe{
			states: make(map[string]*schema.SuppressionState),
			recent: make(map[string]recentAlert),
		}
	}

	return &Engine{
		config:  cfg,
		logger:  logger.With("component", "suppress"),
		stripes: stripes,
	}
}

// Seed loads persisted suppression state, typically at startup.
func (e *Engine) Seed(states []*schema.SuppressionState) {
	for _, st := range states {
		s := e.stripeFor(st.EventType)
		s.mu.Lock()
		copied := *st
		s.states[st.EventType] = &copied
		s.mu.Unlock()
	}
}

// Apply evaluates suppression for the alert, mutating IsSuppressed and
// SuppressionReason in place. Re-applying to an already-suppressed alert
// is a no-op. It returns true when the alert ends up suppressed.
func (e *Engine) Apply(alert *schema.Alert) bool {
	if alert.IsSuppressed {
		return true
	}

	s := e.stripeFor(alert.EventType)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	key := dupKey(alert)
	if prior, ok := s.recent[key]; ok {
		if now.Sub(prior.seenAt) <= e.config.DuplicateWindow && prior.alertID != alert.ID {
			alert.IsSuppressed = true
			alert.SuppressionReason = fmt.Sprintf(
				"duplicate of alert %d within %s window", prior.alertID, e.config.DuplicateWindow)
			atomic.AddUint64(&e.duplicates, 1)
			return true
		}
		delete(s.recent, key)
	}

	threshold := schema.DefaultSuppressionThreshold
	if st, ok := s.states[alert.EventType]; ok {
		threshold = st.Threshold
	}
	if alert.AIScore < threshold {
		alert.IsSuppressed = true
		alert.SuppressionReason = fmt.Sprintf(
			"ai_score %.1f below adaptive threshold %.1f for %s", alert.AIScore, threshold, alert.EventType)
		atomic.AddUint64(&e.belowThreshold, 1)
		return true
	}

	// Unsuppressed alerts open the duplicate window for their key.
	s.recent[key] = recentAlert{alertID: alert.ID, seenAt: now}
	e.pruneLocked(s, now)
	atomic.AddUint64(&e.passed, 1)
	return false
}

// RecordVerdict folds one analyst verdict into the event type's state
// and returns a copy of the updated state for persistence.
//
// A false positive pulls the threshold toward the offending score so
// similar low-value alerts stop surfacing. A true positive pushes the
// threshold the opposite way so similar alerts keep surfacing.
func (e *Engine) RecordVerdict(eventType string, score float64, verdict schema.Verdict) *schema.SuppressionState {
	s := e.stripeFor(eventType)
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[eventType]
	if !ok {
		st = schema.NewSuppressionState(eventType)
		s.states[eventType] = st
	}

	delta := e.config.LearningRate * (score - st.Threshold)
	switch verdict {
	case schema.VerdictFalsePositive:
		st.FalsePositives++
		st.Threshold = clampThreshold(st.Threshold + delta)
	case schema.VerdictTruePositive:
		st.TruePositives++
		st.Threshold = clampThreshold(st.Threshold - delta)
	}
	st.UpdatedAt = time.Now().UTC()

	e.logger.Debug("threshold updated",
		"event_type", eventType,
		"verdict", string(verdict),
		"score", score,
		"threshold", st.Threshold,
	)

	copied := *st
	return &copied
}

// Threshold returns the current threshold for an event type.
func (e *Engine) Threshold(eventType string) float64 {
	s := e.stripeFor(eventType)
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[eventType]; ok {
		return st.Threshold
	}
	return schema.DefaultSuppressionThreshold
}

// State returns a copy of the suppression state for an event type, or
// nil when no feedback has been recorded for it.
func (e *Engine) State(eventType string) *schema.SuppressionState {
	s := e.stripeFor(eventType)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[eventType]
	if !ok {
		return nil
	}
	copied := *st
	return &copied
}

// Stats holds suppression engine counters.
type Stats struct {
	Duplicates     uint64 `json:"duplicates"`
	BelowThreshold uint64 `json:"below_threshold"`
	Passed         uint64 `json:"passed"`
}

// Stats returns suppression counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Duplicates:     atomic.LoadUint64(&e.duplicates),
		BelowThreshold: atomic.LoadUint64(&e.belowThreshold),
		Passed:         atomic.LoadUint64(&e.passed),
	}
}

// pruneLocked drops expired duplicate-window entries. Caller holds the
// stripe lock.
func (e *Engine) pruneLocked(s *stripe, now time.Time) {
	for key, entry := range s.recent {
		if now.Sub(entry.seenAt) > e.config.DuplicateWindow {
			delete(s.recent, key)
		}
	}
}

func (e *Engine) stripeFor(eventType string) *stripe {
	h := fnv.New32a()
	h.Write([]byte(eventType))
	return e.stripes[h.Sum32()%uint32(len(e.stripes))]
}

func dupKey(alert *schema.Alert) string {
	return alert.EventType + "|" + alert.SourceIP + "|" + alert.Username
}

func clampThreshold(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
