// Package feedback records analyst verdicts on alerts and feeds them
// into the adaptive suppression thresholds. A verdict is ground truth:
// it is written exactly once and never overwritten.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"argus-siem/internal/schema"
	"argus-siem/internal/store"
	"argus-siem/internal/suppress"
)

// ErrInvalidVerdict indicates a verdict outside true_positive/false_positive.
var ErrInvalidVerdict = fmt.Errorf("invalid verdict")

// Tracker applies analyst verdicts to alerts and suppression state.
type Tracker struct {
	store    store.Store
	suppress *suppress.Engine
	logger   *slog.Logger
}

// NewTracker creates a feedback tracker.
func NewTracker(s store.Store, eng *suppress.Engine, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:    s,
		suppress: eng,
		logger:   logger.With("component", "feedback"),
	}
}

// Submit records a verdict for the alert. It returns the updated alert,
// store.ErrNotFound for unknown ids, and store.ErrFeedbackRecorded when
// the alert already carries a verdict.
func (t *Tracker) Submit(ctx context.Context, alertID int64, verdict schema.Verdict) (*schema.Alert, error) {
	if !verdict.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVerdict, verdict)
	}

	alert, err := t.store.SetAlertFeedback(ctx, alertID, verdict, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	state := t.suppress.RecordVerdict(alert.EventType, alert.AIScore, verdict)
	if err := t.store.SaveSuppressionState(ctx, state); err != nil {
		// The in-memory threshold already moved; the next successful
		// save persists it.
		t.logger.Warn("persist suppression state failed",
			"event_type", alert.EventType,
			"error", err,
		)
	}

	t.logger.Info("feedback recorded",
		"alert_id", alertID,
		"verdict", string(verdict),
		"event_type", alert.EventType,
		"threshold", state.Threshold,
	)

	return alert, nil
}
