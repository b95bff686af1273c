package suppress

import (
	"strings"
	"sync"
	"testing"
	"time"

	"argus-siem/internal/schema"
)

func newTestEngine() *Engine {
	return NewEngine(DefaultConfig(), nil)
}

func alertFixture(id int64, eventType string, score float64) *schema.Alert {
	return &schema.Alert{
		ID:        id,
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Severity:  schema.SeverityHigh,
		SourceIP:  "10.0.0.1",
		Username:  "alice",
		AIScore:   score,
	}
}

func TestEngine_DuplicateSuppression(t *testing.T) {
	e := newTestEngine()

	first := alertFixture(1, "failed_login", 80)
	if e.Apply(first) {
		t.Fatalf("first alert suppressed: %q", first.SuppressionReason)
	}

	second := alertFixture(2, "failed_login", 80)
	if !e.Apply(second) {
		t.Fatal("duplicate within window not suppressed")
	}
	if !strings.Contains(second.SuppressionReason, "alert 1") {
		t.Errorf("reason %q does not cite prior alert id", second.SuppressionReason)
	}

	// Different key dimensions are not duplicates.
	other := alertFixture(3, "failed_login", 80)
	other.Username = "bob"
	if e.Apply(other) {
		t.Errorf("alert for different user suppressed: %q", other.SuppressionReason)
	}
}

func TestEngine_DuplicateWindowExpiry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DuplicateWindow = 20 * time.Millisecond
	e := NewEngine(cfg, nil)

	if e.Apply(alertFixture(1, "failed_login", 80)) {
		t.Fatal("first alert suppressed")
	}
	time.Sleep(40 * time.Millisecond)

	later := alertFixture(2, "failed_login", 80)
	if e.Apply(later) {
		t.Errorf("alert after window expiry suppressed: %q", later.SuppressionReason)
	}
}

func TestEngine_ThresholdSuppression(t *testing.T) {
	e := newTestEngine()

	low := alertFixture(1, "port_scan", 10)
	if !e.Apply(low) {
		t.Fatal("score below default threshold not suppressed")
	}
	if !strings.Contains(low.SuppressionReason, "port_scan") ||
		!strings.Contains(low.SuppressionReason, "30.0") {
		t.Errorf("reason %q should name event type and threshold", low.SuppressionReason)
	}

	high := alertFixture(2, "port_scan", 50)
	if e.Apply(high) {
		t.Errorf("score above threshold suppressed: %q", high.SuppressionReason)
	}
}

func TestEngine_ApplyIdempotent(t *testing.T) {
	e := newTestEngine()

	a := alertFixture(1, "port_scan", 10)
	e.Apply(a)
	reason := a.SuppressionReason

	if !e.Apply(a) {
		t.Error("re-applying to suppressed alert returned false")
	}
	if a.SuppressionReason != reason {
		t.Errorf("reason changed on re-apply: %q -> %q", reason, a.SuppressionReason)
	}
}

func TestEngine_FalsePositivesRaiseThreshold(t *testing.T) {
	e := newTestEngine()

	for i := 0; i < 10; i++ {
		e.RecordVerdict("noisy_scan", 60, schema.VerdictFalsePositive)
	}

	threshold := e.Threshold("noisy_scan")
	if threshold <= 40 {
		t.Fatalf("threshold = %.1f, want well above default after 10 false positives", threshold)
	}

	a := alertFixture(1, "noisy_scan", 35)
	if !e.Apply(a) {
		t.Errorf("low-scoring alert not suppressed at threshold %.1f", threshold)
	}
	if !strings.Contains(a.SuppressionReason, "adaptive threshold") {
		t.Errorf("reason %q should name the adaptive threshold", a.SuppressionReason)
	}

	st := e.State("noisy_scan")
	if st == nil || st.FalsePositives != 10 || st.TruePositives != 0 {
		t.Errorf("state = %+v, want fp=10 tp=0", st)
	}
}

func TestEngine_TruePositivesLowerThreshold(t *testing.T) {
	e := newTestEngine()

	before := e.Threshold("intrusion")
	for i := 0; i < 5; i++ {
		e.RecordVerdict("intrusion", 80, schema.VerdictTruePositive)
	}
	after := e.Threshold("intrusion")
	if after >= before {
		t.Errorf("threshold %.1f -> %.1f, want lower after true positives scoring above it", before, after)
	}
}

func TestEngine_ThresholdBounds(t *testing.T) {
	e := newTestEngine()

	for i := 0; i < 100; i++ {
		e.RecordVerdict("flood", 100, schema.VerdictFalsePositive)
	}
	if th := e.Threshold("flood"); th > 100 {
		t.Errorf("threshold %.1f exceeds 100", th)
	}

	for i := 0; i < 100; i++ {
		e.RecordVerdict("quiet", 100, schema.VerdictTruePositive)
	}
	if th := e.Threshold("quiet"); th < 0 {
		t.Errorf("threshold %.1f below 0", th)
	}
}

func TestEngine_Seed(t *testing.T) {
	e := newTestEngine()
	e.Seed([]*schema.SuppressionState{
		{EventType: "failed_login", Threshold: 70, FalsePositives: 12, UpdatedAt: time.Now()},
	})

	if th := e.Threshold("failed_login"); th != 70 {
		t.Errorf("Threshold() = %.1f, want seeded 70", th)
	}

	a := alertFixture(1, "failed_login", 50)
	if !e.Apply(a) {
		t.Error("alert below seeded threshold not suppressed")
	}
}

func TestEngine_ConcurrentVerdicts(t *testing.T) {
	e := newTestEngine()
	types := []string{"a_type", "b_type", "c_type", "d_type"}

	var wg sync.WaitGroup
	for _, et := range types {
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(et string) {
				defer wg.Done()
				e.RecordVerdict(et, 60, schema.VerdictFalsePositive)
			}(et)
		}
	}
	wg.Wait()

	for _, et := range types {
		st := e.State(et)
		if st == nil || st.FalsePositives != 50 {
			t.Errorf("%s: state = %+v, want fp=50", et, st)
		}
	}
}

func TestEngine_Stats(t *testing.T) {
	e := newTestEngine()

	e.Apply(alertFixture(1, "failed_login", 80)) // passes
	e.Apply(alertFixture(2, "failed_login", 80)) // duplicate
	e.Apply(alertFixture(3, "port_scan", 5))     // below threshold

	s := e.Stats()
	if s.Passed != 1 || s.Duplicates != 1 || s.BelowThreshold != 1 {
		t.Errorf("stats = %+v, want 1/1/1", s)
	}
}
