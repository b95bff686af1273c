package kafka

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"argus-siem/internal/queue"
)

// Publisher drains the alert queue and produces each alert to Kafka.
// Messages are keyed by alert id so replays of the topic preserve
// per-alert ordering.
type Publisher struct {
	producer *Producer
	queue    *queue.AlertQueue
	logger   *slog.Logger

	wg   sync.WaitGroup
	stop chan struct{}
}

// NewPublisher creates a publisher over the producer and queue.
func NewPublisher(producer *Producer, q *queue.AlertQueue, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		producer: producer,
		queue:    q,
		logger:   logger.With("component", "alert-publisher"),
		stop:     make(chan struct{}),
	}
}

// Start launches the drain loop.
func (p *Publisher) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

func (p *Publisher) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		default:
		}

		alert, err := p.queue.PopWithTimeout(500 * time.Millisecond)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) {
				return
			}
			continue
		}

		if err := p.producer.ProduceJSON(ctx, strconv.FormatInt(alert.ID, 10), alert); err != nil {
			// The alert is already persisted; delivery is best effort.
			p.logger.Error("alert publish failed", "alert_id", alert.ID, "error", err)
		}
	}
}

// Stop halts the drain loop and waits for it to finish.
func (p *Publisher) Stop() {
	close(p.stop)
	p.wg.Wait()
}
