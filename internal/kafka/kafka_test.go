package kafka

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"no brokers", func(c *Config) { c.Brokers = nil }, true},
		{"no topic", func(c *Config) { c.Topic = "" }, true},
		{"unknown protocol", func(c *Config) { c.SecurityProtocol = "QUIC" }, true},
		{"sasl missing credentials", func(c *Config) {
			c.SecurityProtocol = "SASL_PLAINTEXT"
			c.SASLMechanism = "PLAIN"
		}, true},
		{"sasl unknown mechanism", func(c *Config) {
			c.SecurityProtocol = "SASL_PLAINTEXT"
			c.SASLMechanism = "GSSAPI"
			c.SASLUsername = "user"
			c.SASLPassword = "pass"
		}, true},
		{"sasl plain", func(c *Config) {
			c.SecurityProtocol = "SASL_PLAINTEXT"
			c.SASLMechanism = "PLAIN"
			c.SASLUsername = "user"
			c.SASLPassword = "pass"
		}, false},
		{"sasl scram over tls", func(c *Config) {
			c.SecurityProtocol = "SASL_SSL"
			c.SASLMechanism = "SCRAM-SHA-512"
			c.SASLUsername = "user"
			c.SASLPassword = "pass"
			c.TLSSkipVerify = true
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCompressionCodec(t *testing.T) {
	for _, name := range []string{"gzip", "snappy", "lz4", "zstd"} {
		cfg := DefaultConfig()
		cfg.CompressionType = name
		if cfg.Compression() == 0 {
			t.Errorf("Compression() = 0 for %q, want a codec", name)
		}
	}

	cfg := DefaultConfig()
	cfg.CompressionType = "none"
	if cfg.Compression() != 0 {
		t.Errorf("Compression() != 0 for %q", cfg.CompressionType)
	}
}

func TestDialerPlaintext(t *testing.T) {
	cfg := DefaultConfig()

	d, err := cfg.Dialer()
	if err != nil {
		t.Fatalf("Dialer() error = %v", err)
	}
	if d.Timeout != cfg.DialTimeout {
		t.Errorf("dialer timeout = %v, want %v", d.Timeout, cfg.DialTimeout)
	}
	if d.TLS != nil {
		t.Error("plaintext dialer should not carry TLS config")
	}
	if d.SASLMechanism != nil {
		t.Error("plaintext dialer should not carry SASL mechanism")
	}
}

func TestDialerTLS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TLSEnabled = true
	cfg.TLSSkipVerify = true

	d, err := cfg.Dialer()
	if err != nil {
		t.Fatalf("Dialer() error = %v", err)
	}
	if d.TLS == nil {
		t.Fatal("expected TLS config on dialer")
	}
	if !d.TLS.InsecureSkipVerify {
		t.Error("skip-verify flag not propagated")
	}
}

func TestDialerSASL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SecurityProtocol = "SASL_PLAINTEXT"
	cfg.SASLMechanism = "PLAIN"
	cfg.SASLUsername = "user"
	cfg.SASLPassword = "pass"

	d, err := cfg.Dialer()
	if err != nil {
		t.Fatalf("Dialer() error = %v", err)
	}
	if d.SASLMechanism == nil {
		t.Fatal("expected SASL mechanism on dialer")
	}
}

func TestProducerClosed(t *testing.T) {
	producer := &Producer{
		config: DefaultConfig(),
		logger: testLogger(),
	}
	producer.closed.Store(true)

	err := producer.Produce(context.Background(), []byte("key"), []byte("value"))
	if err != ErrProducerClosed {
		t.Errorf("Produce() on closed producer = %v, want ErrProducerClosed", err)
	}
}

// Exercised only when a broker is reachable via KAFKA_BROKERS.
func TestProducerRoundTrip(t *testing.T) {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("KAFKA_BROKERS not set")
	}

	cfg := DefaultConfig()
	cfg.Brokers = []string{brokers}
	cfg.Topic = "argus-test-" + time.Now().Format("20060102150405")

	producer, err := NewProducer(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewProducer() error = %v", err)
	}
	defer producer.Close()

	if err := producer.Produce(context.Background(), []byte("key"), []byte("value")); err != nil {
		t.Fatalf("Produce() error = %v", err)
	}
	if got := producer.Metrics().MessagesProduced; got != 1 {
		t.Errorf("MessagesProduced = %d, want 1", got)
	}
}
