package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"argus-siem/internal/schema"
)

// ErrWriterClosed is returned by Write after Close.
var ErrWriterClosed = errors.New("batch writer is closed")

// BatchWriterConfig holds configuration for the batch writer.
type BatchWriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

// DefaultBatchWriterConfig returns the default batch writer configuration.
func DefaultBatchWriterConfig() BatchWriterConfig {
	return BatchWriterConfig{
		BatchSize:     1000,
		FlushInterval: 5 * time.Second,
		MaxRetries:    3,
		RetryDelay:    time.Second,
		WriteTimeout:  30 * time.Second,
	}
}

// BatchWriter buffers log events and writes them to the store in
// batches, either when the buffer fills or on a flush interval. It
// fronts the high-volume collector path; interactive ingest writes
// through the store directly.
type BatchWriter struct {
	store Store
	cfg   BatchWriterConfig

	mu     sync.Mutex
	events []*schema.LogEvent
	timer  *time.Timer
	closed bool

	written atomic.Uint64
	failed  atomic.Uint64
	batches atomic.Uint64
}

// NewBatchWriter creates a new BatchWriter over the given store.
func NewBatchWriter(s Store, cfg BatchWriterConfig) *BatchWriter {
	w := &BatchWriter{
		store:  s,
		cfg:    cfg,
		events: make([]*schema.LogEvent, 0, cfg.BatchSize),
	}
	w.timer = time.AfterFunc(cfg.FlushInterval, w.intervalFlush)
	return w
}

// Write adds an event to the batch, flushing when the batch is full.
func (w *BatchWriter) Write(event *schema.LogEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	w.events = append(w.events, event)
	if len(w.events) < w.cfg.BatchSize {
		return nil
	}
	return w.insertWithRetry(w.take())
}

// Flush forces a flush of the current buffer.
func (w *BatchWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.insertWithRetry(w.take())
}

// Close stops the flush timer and drains remaining events.
func (w *BatchWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	remaining := w.take()
	w.mu.Unlock()

	w.timer.Stop()

	if len(remaining) == 0 {
		return nil
	}
	if err := w.insert(remaining); err != nil {
		w.failed.Add(uint64(len(remaining)))
		return fmt.Errorf("final flush: %w", err)
	}
	w.written.Add(uint64(len(remaining)))
	return nil
}

// take swaps out the buffer. Caller holds the lock.
func (w *BatchWriter) take() []*schema.LogEvent {
	events := w.events
	if w.closed {
		w.events = nil
	} else {
		w.events = make([]*schema.LogEvent, 0, w.cfg.BatchSize)
	}
	return events
}

func (w *BatchWriter) intervalFlush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if err := w.insertWithRetry(w.take()); err != nil {
		slog.Error("interval flush failed", "error", err)
	}
	w.timer.Reset(w.cfg.FlushInterval)
}

// insertWithRetry writes a batch with bounded retries and linear
// backoff. Caller holds the lock.
func (w *BatchWriter) insertWithRetry(events []*schema.LogEvent) error {
	if len(events) == 0 {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(w.cfg.RetryDelay * time.Duration(attempt))
		}

		if lastErr = w.insert(events); lastErr == nil {
			w.written.Add(uint64(len(events)))
			w.batches.Add(1)
			return nil
		}
		slog.Warn("batch insert failed, retrying",
			"attempt", attempt+1,
			"max_retries", w.cfg.MaxRetries,
			"error", lastErr,
		)
	}

	w.failed.Add(uint64(len(events)))
	return fmt.Errorf("batch insert failed after %d retries: %w", w.cfg.MaxRetries, lastErr)
}

func (w *BatchWriter) insert(events []*schema.LogEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.WriteTimeout)
	defer cancel()
	return w.store.InsertLogEvents(ctx, events)
}

// BatchWriterMetrics holds batch writer statistics.
type BatchWriterMetrics struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
	Batches uint64 `json:"batches"`
	Pending int    `json:"pending"`
}

// Metrics returns batch writer statistics.
func (w *BatchWriter) Metrics() BatchWriterMetrics {
	w.mu.Lock()
	pending := len(w.events)
	w.mu.Unlock()

	return BatchWriterMetrics{
		Written: w.written.Load(),
		Failed:  w.failed.Load(),
		Batches: w.batches.Load(),
		Pending: pending,
	}
}
