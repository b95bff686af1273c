// Package config handles configuration loading for Argus-SIEM.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"argus-siem/internal/archive"
	"argus-siem/internal/collector"
	"argus-siem/internal/kafka"
	"argus-siem/internal/pipeline"
	"argus-siem/internal/schema"
	"argus-siem/internal/soar"
	"argus-siem/internal/store"
	"argus-siem/internal/suppress"
)

// Config holds the complete application configuration.
type Config struct {
	Server       Server             `yaml:"server"`
	Ingest       Ingest             `yaml:"ingest"`
	Validation   Validation         `yaml:"validation"`
	Auth         Auth               `yaml:"auth"`
	CORS         CORS               `yaml:"cors"`
	RateLimit    RateLimit          `yaml:"rate_limit"`
	Headers      SecurityHeaders    `yaml:"security_headers"`
	Logging      Logging            `yaml:"logging"`
	Pipeline     pipeline.Config    `yaml:"pipeline"`
	Suppression  suppress.Config    `yaml:"suppression"`
	SOAR         SOAR               `yaml:"soar"`
	Queue        Queue              `yaml:"queue"`
	Storage      Storage            `yaml:"storage"`
	Kafka        *kafka.Config      `yaml:"kafka"`
	Collector    Collector          `yaml:"collector"`
	Archive      archive.Config     `yaml:"archive"`
	Integrations IntegrationsConfig `yaml:"integrations"`
}

// Server holds HTTP server configuration.
type Server struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Ingest holds ingestion settings.
type Ingest struct {
	MaxBatchSize   int `yaml:"max_batch_size"`
	MaxPayloadSize int `yaml:"max_payload_size"`
}

// Validation holds event validation settings.
type Validation struct {
	MaxEventAge time.Duration `yaml:"max_event_age"`
	MaxFuture   time.Duration `yaml:"max_future"`
}

// ToValidatorConfig converts to the schema validator's configuration.
func (v Validation) ToValidatorConfig() schema.ValidatorConfig {
	return schema.ValidatorConfig{
		MaxAge:    v.MaxEventAge,
		MaxFuture: v.MaxFuture,
	}
}

// Auth holds authentication settings.
type Auth struct {
	Enabled      bool     `yaml:"enabled"`
	APIKeyHeader string   `yaml:"api_key_header"`
	APIKeys      []string `yaml:"api_keys"`
}

// CORS holds CORS settings.
type CORS struct {
	Enabled          bool     `yaml:"enabled"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	ExposedHeaders   []string `yaml:"exposed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"`
}

// RateLimit holds rate limiting settings.
type RateLimit struct {
	Enabled       bool          `yaml:"enabled"`
	RequestsPerIP int           `yaml:"requests_per_ip"`
	WindowSize    time.Duration `yaml:"window_size"`
	BurstSize     int           `yaml:"burst_size"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
	ExemptPaths   []string      `yaml:"exempt_paths"`
	TrustProxy    bool          `yaml:"trust_proxy"`
}

// SecurityHeaders holds hardening headers for API responses.
type SecurityHeaders struct {
	Enabled        bool   `yaml:"enabled"`
	HSTSEnabled    bool   `yaml:"hsts_enabled"`
	HSTSMaxAge     int    `yaml:"hsts_max_age"`
	FrameOptions   string `yaml:"frame_options"`
	ReferrerPolicy string `yaml:"referrer_policy"`
}

// Logging holds logging settings.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SOAR holds dispatch settings.
type SOAR struct {
	Dispatcher soar.Config `yaml:"dispatcher"`
	// StateBackend selects the idempotency store: memory or redis.
	StateBackend string           `yaml:"state_backend"`
	Redis        soar.RedisConfig `yaml:"redis"`
}

// Queue holds alert queue settings.
type Queue struct {
	Size int `yaml:"size"`
}

// Storage holds persistence settings.
type Storage struct {
	// Enabled selects ClickHouse; when false the in-memory store is used.
	Enabled     bool                    `yaml:"enabled"`
	ClickHouse  store.ClickHouseConfig  `yaml:"clickhouse"`
	BatchWriter store.BatchWriterConfig `yaml:"batch_writer"`
}

// Collector holds network collector settings.
type Collector struct {
	TCP  collector.TCPConfig  `yaml:"tcp"`
	DTLS collector.DTLSConfig `yaml:"dtls"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	tcp := collector.DefaultTCPConfig()
	tcp.Enabled = true

	return &Config{
		Server: Server{
			HTTPPort:     8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Ingest: Ingest{
			MaxBatchSize:   1000,
			MaxPayloadSize: 10 * 1024 * 1024, // 10MB
		},
		Validation: Validation{
			MaxEventAge: 30 * 24 * time.Hour,
			MaxFuture:   5 * time.Minute,
		},
		Auth: Auth{
			APIKeyHeader: "X-API-Key",
			Enabled:      false,
		},
		CORS: CORS{
			Enabled:        true,
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
			AllowedHeaders: []string{
				"Accept",
				"Authorization",
				"Content-Type",
				"X-API-Key",
				"X-Request-ID",
			},
			ExposedHeaders: []string{
				"X-Request-ID",
				"X-RateLimit-Limit",
				"X-RateLimit-Remaining",
				"X-RateLimit-Reset",
			},
			AllowCredentials: false,
			MaxAge:           86400,
		},
		RateLimit: RateLimit{
			Enabled:       true,
			RequestsPerIP: 1000,
			WindowSize:    time.Minute,
			BurstSize:     50,
			CleanupPeriod: 5 * time.Minute,
			ExemptPaths:   []string{"/health", "/metrics"},
			TrustProxy:    false,
		},
		Headers: SecurityHeaders{
			Enabled:        true,
			HSTSEnabled:    false,
			HSTSMaxAge:     31536000,
			FrameOptions:   "DENY",
			ReferrerPolicy: "no-referrer",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Pipeline:    pipeline.DefaultConfig(),
		Suppression: suppress.DefaultConfig(),
		SOAR: SOAR{
			Dispatcher:   soar.DefaultConfig(),
			StateBackend: "memory",
			Redis:        soar.DefaultRedisConfig(),
		},
		Queue: Queue{
			Size: 10000,
		},
		Storage: Storage{
			Enabled:     false,
			ClickHouse:  store.DefaultClickHouseConfig(),
			BatchWriter: store.DefaultBatchWriterConfig(),
		},
		Kafka:        kafka.DefaultConfig(),
		Collector:    Collector{TCP: tcp, DTLS: collector.DefaultDTLSConfig()},
		Archive:      archive.DefaultConfig(),
		Integrations: DefaultIntegrationsConfig(),
	}
}

// Load loads configuration from a file or returns defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("ARGUS_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("ARGUS_HTTP_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.HTTPPort)
	}

	if level := os.Getenv("ARGUS_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if apiKey := os.Getenv("ARGUS_API_KEY"); apiKey != "" {
		c.Auth.APIKeys = append(c.Auth.APIKeys, apiKey)
		c.Auth.Enabled = true
	}

	if enabled := os.Getenv("ARGUS_STORAGE_ENABLED"); enabled == "true" {
		c.Storage.Enabled = true
	}

	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Storage.ClickHouse.Hosts = []string{host}
	}
	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.Storage.ClickHouse.Database = db
	}
	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.Storage.ClickHouse.Username = user
	}
	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Storage.ClickHouse.Password = pass
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Enabled = true
		c.Kafka.Brokers = splitAndTrim(brokers, ",")
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.SOAR.StateBackend = "redis"
		c.SOAR.Redis.Addr = addr
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		c.SOAR.Redis.Password = pass
	}

	if bucket := os.Getenv("ARGUS_ARCHIVE_BUCKET"); bucket != "" {
		c.Archive.Enabled = true
		c.Archive.Bucket = bucket
	}
}

// splitAndTrim splits a string by separator and trims whitespace from
// each part, dropping empty entries.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}

	if c.Queue.Size <= 0 {
		return fmt.Errorf("queue size must be positive")
	}

	if c.Ingest.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be positive")
	}

	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline workers must be positive")
	}

	if c.Suppression.LearningRate <= 0 || c.Suppression.LearningRate >= 1 {
		return fmt.Errorf("suppression learning_rate must be in (0, 1)")
	}

	switch c.SOAR.StateBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid soar state_backend: %s", c.SOAR.StateBackend)
	}

	if c.Kafka != nil && c.Kafka.Enabled {
		if err := c.Kafka.Validate(); err != nil {
			return err
		}
	}

	if err := c.Archive.Validate(); err != nil {
		return err
	}

	return nil
}
