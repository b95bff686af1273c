package detect

import (
	"context"

	"argus-siem/internal/schema"
)

// NeutralScore is assigned when no scorer verdict is available.
const NeutralScore = 50.0

// Scorer rates how likely an alert represents real malicious activity,
// on a 0-100 scale, with a short classification label. Implementations
// must honor the context deadline.
type Scorer interface {
	Score(ctx context.Context, event *schema.LogEvent, rule *Rule, severity schema.Severity) (float64, string, error)
}

// HeuristicScorer is the default scorer: a fixed weighting of severity,
// risk signals and rule weight. Same input, same output.
type HeuristicScorer struct{}

// NewHeuristicScorer creates the default scorer.
func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{}
}

// severityBonus weights the severity band contribution.
var severityBonus = map[schema.Severity]float64{
	schema.SeverityCritical: 40,
	schema.SeverityHigh:     25,
	schema.SeverityMedium:   10,
	schema.SeverityLow:      0,
}

// patternBonus applies when a pattern rule (not a bare threshold rule)
// matched the event type.
const patternBonus = 15.0

// Score implements Scorer.
func (s *HeuristicScorer) Score(ctx context.Context, event *schema.LogEvent, rule *Rule, severity schema.Severity) (float64, string, error) {
	if err := ctx.Err(); err != nil {
		return 0, "", err
	}

	score := NeutralScore
	score += severityBonus[severity]
	score += event.UserRiskScore * 0.2
	score += event.AssetCriticality * 0.15
	if rule != nil && rule.Pattern != "" {
		score += patternBonus
	}

	score = clampScore(score)
	return score, classify(score), nil
}

func classify(score float64) string {
	switch {
	case score >= 80:
		return "malicious"
	case score >= 60:
		return "suspicious"
	case score >= 40:
		return "anomalous"
	default:
		return "benign"
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
