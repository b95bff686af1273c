// Package pipeline runs the detection chain: normalize, enrich,
// validate, persist, detect, suppress. Records within a batch are
// independent; id assignment and suppression state are the only shared
// resources.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"argus-siem/internal/detect"
	"argus-siem/internal/enrich"
	"argus-siem/internal/normalize"
	"argus-siem/internal/schema"
	"argus-siem/internal/store"
	"argus-siem/internal/suppress"
)

// Config holds pipeline configuration.
type Config struct {
	// Workers bounds the parallel record processors for bulk batches.
	Workers int `yaml:"workers"`
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{Workers: 8}
}

// AlertSink receives unsuppressed alerts after persistence, typically a
// queue drained by the Kafka publisher. Publish must not block.
type AlertSink interface {
	Publish(alert *schema.Alert) error
}

// EventWriter receives collector-path events for buffered persistence.
// The batch writer implements it. Interactive ingest bypasses it so
// accepted records are queryable the moment the call returns.
type EventWriter interface {
	Write(event *schema.LogEvent) error
}

// BatchResult is the outcome of one bulk ingestion.
type BatchResult struct {
	Format   normalize.Format        `json:"format"`
	Accepted []*schema.LogEvent      `json:"accepted"`
	Errors   []normalize.RecordError `json:"errors,omitempty"`
}

// Pipeline wires the detection chain over a store.
type Pipeline struct {
	config     Config
	store      store.Store
	normalizer *normalize.Normalizer
	enricher   *enrich.Enricher
	detector   *detect.Engine
	suppressor *suppress.Engine
	validator  *schema.Validator
	logger     *slog.Logger

	sink   AlertSink
	writer EventWriter

	eventSeq atomic.Int64
	alertSeq atomic.Int64

	ingested   uint64
	rejected   uint64
	alerts     uint64
	suppressed uint64
}

// New creates a pipeline. sink and writer are optional.
func New(cfg Config, s store.Store, enricher *enrich.Enricher, detector *detect.Engine, suppressor *suppress.Engine, logger *slog.Logger) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		config:     cfg,
		store:      s,
		normalizer: normalize.NewNormalizer(),
		enricher:   enricher,
		detector:   detector,
		suppressor: suppressor,
		validator:  schema.NewValidator(),
		logger:     logger.With("component", "pipeline"),
	}
}

// SetSink attaches an alert sink for unsuppressed alerts.
func (p *Pipeline) SetSink(sink AlertSink) { p.sink = sink }

// SetWriter routes collector-line persistence through a batch writer.
// IngestOne and IngestBatch keep writing to the store directly.
func (p *Pipeline) SetWriter(w EventWriter) { p.writer = w }

// SetValidator replaces the default event validator.
func (p *Pipeline) SetValidator(v *schema.Validator) {
	if v != nil {
		p.validator = v
	}
}

// Start seeds the id sequences and suppression state from the store.
func (p *Pipeline) Start(ctx context.Context) error {
	maxEvent, maxAlert, err := p.store.MaxIDs(ctx)
	if err != nil {
		return fmt.Errorf("seed id sequences: %w", err)
	}
	p.eventSeq.Store(maxEvent)
	p.alertSeq.Store(maxAlert)

	states, err := p.store.LoadSuppressionStates(ctx)
	if err != nil {
		return fmt.Errorf("load suppression state: %w", err)
	}
	p.suppressor.Seed(states)

	p.logger.Info("pipeline started",
		"next_event_id", maxEvent+1,
		"next_alert_id", maxAlert+1,
		"suppression_states", len(states),
	)
	return nil
}

// IngestOne processes a single JSON event object through the full chain.
func (p *Pipeline) IngestOne(ctx context.Context, payload []byte) (*schema.LogEvent, error) {
	result, err := p.normalizer.Normalize(payload, normalize.FormatJSON, "")
	if err != nil {
		return nil, validationErr(err)
	}
	if len(result.Events) != 1 {
		if len(result.Errors) > 0 {
			return nil, validationErr(errors.New(result.Errors[0].Err))
		}
		return nil, validationErr(fmt.Errorf("expected one event, got %d", len(result.Events)))
	}

	event, _, err := p.processDraft(ctx, result.Events[0].Event, false)
	if err != nil {
		return nil, err
	}
	return event, nil
}

// IngestBatch normalizes and processes a bulk payload with a bounded
// worker pool. It returns a *PartialBatchError when some records failed
// while others committed; accepted records remain committed either way.
// A payload that is unreadable as a whole fails with ErrFatalParse and
// commits nothing.
func (p *Pipeline) IngestBatch(ctx context.Context, payload []byte, format normalize.Format, filename string) (*BatchResult, error) {
	normalized, err := p.normalizer.Normalize(payload, format, filename)
	if err != nil {
		return nil, fatalParseErr(err)
	}

	out := &BatchResult{
		Format: normalized.Format,
		Errors: append([]normalize.RecordError(nil), normalized.Errors...),
	}

	jobs := make(chan normalize.Draft)

	var mu sync.Mutex
	var wg sync.WaitGroup

	workers := p.config.Workers
	if workers > len(normalized.Events) {
		workers = len(normalized.Events)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for draft := range jobs {
				event, _, err := p.processDraft(ctx, draft.Event, false)
				mu.Lock()
				if err != nil {
					out.Errors = append(out.Errors, normalize.RecordError{
						Line: draft.Line,
						Err:  err.Error(),
					})
				} else {
					out.Accepted = append(out.Accepted, event)
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, draft := range normalized.Events {
		select {
		case jobs <- draft:
		case <-ctx.Done():
			// Records already committed stay committed.
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	sort.Slice(out.Accepted, func(i, j int) bool { return out.Accepted[i].ID < out.Accepted[j].ID })
	sort.Slice(out.Errors, func(i, j int) bool { return out.Errors[i].Line < out.Errors[j].Line })

	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	if len(out.Errors) > 0 {
		return out, &PartialBatchError{Accepted: len(out.Accepted), Errors: out.Errors}
	}
	return out, nil
}

// IngestLine processes one collector line with format auto-detection.
func (p *Pipeline) IngestLine(ctx context.Context, line []byte) error {
	result, err := p.normalizer.Normalize(line, normalize.FormatAuto, "")
	if err != nil {
		return fatalParseErr(err)
	}
	if len(result.Events) == 0 {
		if len(result.Errors) > 0 {
			return validationErr(errors.New(result.Errors[0].Err))
		}
		return validationErr(errors.New("no event in line"))
	}
	_, _, err = p.processDraft(ctx, result.Events[0].Event, true)
	return err
}

// processDraft runs one draft through enrich, validate, persist, detect
// and suppress. buffered persistence goes through the batch writer when
// one is attached; the collector path is the only caller that sets it.
// The returned alert is nil when no rule fired.
func (p *Pipeline) processDraft(ctx context.Context, draft *schema.LogEvent, buffered bool) (*schema.LogEvent, *schema.Alert, error) {
	p.enricher.Enrich(ctx, draft)

	if err := p.validator.ValidateEvent(draft); err != nil {
		atomic.AddUint64(&p.rejected, 1)
		return nil, nil, validationErr(err)
	}

	draft.ID = p.eventSeq.Add(1)

	if buffered && p.writer != nil {
		if err := p.writer.Write(draft); err != nil {
			atomic.AddUint64(&p.rejected, 1)
			return nil, nil, fmt.Errorf("%w: persist event: %v", ErrTransient, err)
		}
	} else {
		if err := p.store.InsertLogEvents(ctx, []*schema.LogEvent{draft}); err != nil {
			atomic.AddUint64(&p.rejected, 1)
			return nil, nil, fmt.Errorf("%w: persist event: %v", ErrTransient, err)
		}
	}
	atomic.AddUint64(&p.ingested, 1)

	alert, err := p.detector.Detect(ctx, draft)
	if err != nil {
		// The event is committed; detection failure does not undo it.
		p.logger.Warn("detection failed", "event_id", draft.ID, "error", err)
		return draft, nil, nil
	}
	if alert == nil {
		return draft, nil, nil
	}

	alert.ID = p.alertSeq.Add(1)
	if p.suppressor.Apply(alert) {
		atomic.AddUint64(&p.suppressed, 1)
	}

	if err := p.store.InsertAlert(ctx, alert); err != nil {
		p.logger.Error("persist alert failed", "alert_id", alert.ID, "error", err)
		return draft, nil, nil
	}
	atomic.AddUint64(&p.alerts, 1)

	if p.sink != nil && !alert.IsSuppressed {
		if err := p.sink.Publish(alert); err != nil {
			p.logger.Warn("alert publish failed", "alert_id", alert.ID, "error", err)
		}
	}

	return draft, alert, nil
}

// Metrics returns pipeline counters.
func (p *Pipeline) Metrics() map[string]uint64 {
	return map[string]uint64{
		"ingested":   atomic.LoadUint64(&p.ingested),
		"rejected":   atomic.LoadUint64(&p.rejected),
		"alerts":     atomic.LoadUint64(&p.alerts),
		"suppressed": atomic.LoadUint64(&p.suppressed),
	}
}
