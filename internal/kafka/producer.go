package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// ErrProducerClosed is returned for writes after Close.
var ErrProducerClosed = errors.New("kafka: producer is closed")

// Producer writes alert messages to the configured topic.
type Producer struct {
	writer *kafka.Writer
	config *Config
	logger *slog.Logger
	closed atomic.Bool

	produced atomic.Int64
	bytes    atomic.Int64
	errs     atomic.Int64
	retries  atomic.Int64
}

// NewProducer validates the configuration and builds a writer.
func NewProducer(config *Config, logger *slog.Logger) (*Producer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	dialer, err := config.Dialer()
	if err != nil {
		return nil, err
	}

	p := &Producer{
		config: config,
		logger: logger,
	}

	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    config.ProducerBatchSize,
		BatchTimeout: config.ProducerBatchTimeout,
		MaxAttempts:  config.ProducerMaxRetries,
		WriteTimeout: config.WriteTimeout,
		ReadTimeout:  config.ReadTimeout,
		RequiredAcks: kafka.RequiredAcks(config.RequiredAcks),
		Compression:  config.Compression(),
		Transport: &kafka.Transport{
			Dial: dialer.DialFunc,
			TLS:  dialer.TLS,
			SASL: dialer.SASLMechanism,
		},
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
	}

	logger.Info("kafka producer initialized",
		"brokers", config.Brokers,
		"topic", config.Topic,
		"compression", config.CompressionType,
	)

	return p, nil
}

// Produce sends one message, retrying transient failures with doubling
// backoff up to the configured attempt budget.
func (p *Producer) Produce(ctx context.Context, key, value []byte) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	msg := kafka.Message{
		Key:   key,
		Value: value,
		Time:  time.Now(),
	}

	var lastErr error
	backoff := p.config.ProducerRetryBackoff

	for attempt := 0; attempt <= p.config.ProducerMaxRetries; attempt++ {
		if attempt > 0 {
			p.retries.Add(1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		if err := p.writer.WriteMessages(ctx, msg); err != nil {
			lastErr = err
			p.errs.Add(1)
			p.logger.Warn("kafka produce failed",
				"error", err,
				"attempt", attempt+1,
				"max_attempts", p.config.ProducerMaxRetries+1,
			)
			if isTerminal(err) {
				return fmt.Errorf("kafka: non-retryable error: %w", err)
			}
			continue
		}

		p.produced.Add(1)
		p.bytes.Add(int64(len(msg.Value) + len(msg.Key)))
		return nil
	}

	return fmt.Errorf("kafka: failed after %d attempts: %w", p.config.ProducerMaxRetries+1, lastErr)
}

// ProduceJSON marshals the value and sends it under key.
func (p *Producer) ProduceJSON(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kafka: failed to marshal message: %w", err)
	}
	return p.Produce(ctx, []byte(key), data)
}

// Metrics returns produced/error counters.
func (p *Producer) Metrics() Metrics {
	return Metrics{
		MessagesProduced: p.produced.Load(),
		BytesProduced:    p.bytes.Load(),
		Errors:           p.errs.Load(),
		Retries:          p.retries.Load(),
	}
}

// Close flushes buffered messages and releases the writer.
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	p.logger.Info("closing kafka producer", "messages_produced", p.produced.Load())

	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("kafka: failed to close producer: %w", err)
	}
	return nil
}

// isTerminal reports broker responses that will not succeed on retry.
func isTerminal(err error) bool {
	switch {
	case errors.Is(err, kafka.MessageSizeTooLarge),
		errors.Is(err, kafka.InvalidTopic),
		errors.Is(err, kafka.TopicAuthorizationFailed),
		errors.Is(err, kafka.ClusterAuthorizationFailed):
		return true
	}
	return false
}
