package detect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"argus-siem/internal/schema"
)

// Severity band cut points over the combined risk score.
const (
	bandCritical = 85.0
	bandHigh     = 65.0
	bandMedium   = 40.0
)

// Config holds engine tuning.
type Config struct {
	// ScorerTimeout bounds each scorer invocation.
	ScorerTimeout time.Duration `yaml:"scorer_timeout"`
	// ScorerRetries is the number of retries after a transient scorer failure.
	ScorerRetries int `yaml:"scorer_retries"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		ScorerTimeout: 2 * time.Second,
		ScorerRetries: 2,
	}
}

// Engine evaluates events against the rule set.
type Engine struct {
	config Config
	rules  []*Rule
	scorer Scorer
	logger *slog.Logger

	evaluated uint64
	alerted   uint64
	unscored  uint64
}

// NewEngine creates an Engine. A nil scorer falls back to the heuristic
// scorer; nil rules fall back to the builtin set.
func NewEngine(cfg Config, rules []*Rule, scorer Scorer, logger *slog.Logger) *Engine {
	if rules == nil {
		rules = BuiltinRules()
	}
	if scorer == nil {
		scorer = NewHeuristicScorer()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		config: cfg,
		rules:  rules,
		scorer: scorer,
		logger: logger,
	}
}

// Match returns the rules matching the event at the highest severity
// band, in rule order, with that band. An empty slice means no match.
func (e *Engine) Match(event *schema.LogEvent) ([]*Rule, schema.Severity) {
	var top []*Rule
	var topSeverity schema.Severity

	for _, rule := range e.rules {
		if !rule.Matches(event) {
			continue
		}
		severity := SeverityFor(event, rule)
		switch {
		case len(top) == 0 || severity.Rank() > topSeverity.Rank():
			top, topSeverity = []*Rule{rule}, severity
		case severity.Rank() == topSeverity.Rank():
			top = append(top, rule)
		}
	}

	return top, topSeverity
}

// Detect evaluates the event and, when a rule fires, builds the alert.
// Rules tied at the top severity are each scored and the highest
// ai_score wins; equal scores fall back to weight, then rule order.
// The returned alert has no id; the caller assigns one at persistence.
// A nil alert with nil error means no rule matched.
func (e *Engine) Detect(ctx context.Context, event *schema.LogEvent) (*schema.Alert, error) {
	atomic.AddUint64(&e.evaluated, 1)

	candidates, severity := e.Match(event)
	if len(candidates) == 0 {
		return nil, nil
	}

	rule := candidates[0]
	score, classification := e.score(ctx, event, rule, severity)
	for _, cand := range candidates[1:] {
		candScore, candClass := e.score(ctx, event, cand, severity)
		if candScore > score || (candScore == score && cand.Weight > rule.Weight) {
			rule, score, classification = cand, candScore, candClass
		}
	}

	alert := &schema.Alert{
		Timestamp:        time.Now().UTC(),
		EventType:        event.EventType,
		Severity:         severity,
		MITRETechniqueID: rule.MITRETechniqueID,
		Description:      buildDescription(rule, event),
		SourceIP:         event.SourceIP,
		Username:         event.Username,
		LogEventID:       event.ID,
		AIScore:          score,
		AIClassification: classification,
	}

	atomic.AddUint64(&e.alerted, 1)
	return alert, nil
}

// score invokes the scorer with a per-attempt timeout and bounded retries.
// Exhausted retries fall back to a neutral score rather than failing the
// event.
func (e *Engine) score(ctx context.Context, event *schema.LogEvent, rule *Rule, severity schema.Severity) (float64, string) {
	var lastErr error
	for attempt := 0; attempt <= e.config.ScorerRetries; attempt++ {
		scoreCtx := ctx
		var cancel context.CancelFunc
		if e.config.ScorerTimeout > 0 {
			scoreCtx, cancel = context.WithTimeout(ctx, e.config.ScorerTimeout)
		}
		score, classification, err := e.scorer.Score(scoreCtx, event, rule, severity)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return clampScore(score), classification
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	atomic.AddUint64(&e.unscored, 1)
	e.logger.Warn("scorer unavailable, using neutral score",
		"event_type", event.EventType, "error", lastErr)
	return NeutralScore, "unscored"
}

// SeverityFor computes the severity band for an event under a rule.
// The band is a pure function of the combined risk signals and the rule
// weight; event types naming a severity floor the band at that level.
func SeverityFor(event *schema.LogEvent, rule *Rule) schema.Severity {
	combined := 0.5*event.UserRiskScore + 0.35*event.AssetCriticality + rule.Weight

	var band schema.Severity
	switch {
	case combined >= bandCritical:
		band = schema.SeverityCritical
	case combined >= bandHigh:
		band = schema.SeverityHigh
	case combined >= bandMedium:
		band = schema.SeverityMedium
	default:
		band = schema.SeverityLow
	}

	if floor, ok := severityFloor(event.EventType); ok && floor.Rank() > band.Rank() {
		band = floor
	}
	return band
}

func severityFloor(eventType string) (schema.Severity, bool) {
	switch {
	case strings.Contains(eventType, "critical"):
		return schema.SeverityCritical, true
	case strings.Contains(eventType, "high"):
		return schema.SeverityHigh, true
	case strings.Contains(eventType, "medium"):
		return schema.SeverityMedium, true
	}
	return "", false
}

func buildDescription(rule *Rule, event *schema.LogEvent) string {
	desc := rule.Name
	if event.Username != "" {
		desc += fmt.Sprintf(" by %s", event.Username)
	}
	if event.SourceIP != "" {
		desc += fmt.Sprintf(" from %s", event.SourceIP)
	}
	return desc
}

// Stats returns engine counters.
func (e *Engine) Stats() map[string]uint64 {
	return map[string]uint64{
		"evaluated": atomic.LoadUint64(&e.evaluated),
		"alerted":   atomic.LoadUint64(&e.alerted),
		"unscored":  atomic.LoadUint64(&e.unscored),
	}
}
