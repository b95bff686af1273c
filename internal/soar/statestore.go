package soar

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStateNotFound indicates no outcome has been recorded for the key.
var ErrStateNotFound = errors.New("action state not found")

// ActionState is the most recent outcome for one (action_type, target).
type ActionState struct {
	ActionID  string    `json:"action_id"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StateStore keeps per-(action_type, target) outcomes for idempotency.
type StateStore interface {
	Get(ctx context.Context, key string) (*ActionState, error)
	Set(ctx context.Context, key string, state *ActionState) error
	Close() error
}

// MemoryStateStore is an in-process StateStore for single-node
// deployments and tests.
type MemoryStateStore struct {
	mu    sync.RWMutex
	state map[string]*ActionState
}

// NewMemoryStateStore creates an empty MemoryStateStore.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{state: make(map[string]*ActionState)}
}

func (m *MemoryStateStore) Get(ctx context.Context, key string) (*ActionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.state[key]
	if !ok {
		return nil, ErrStateNotFound
	}
	copied := *st
	return &copied, nil
}

func (m *MemoryStateStore) Set(ctx context.Context, key string, state *ActionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *state
	m.state[key] = &copied
	return nil
}

func (m *MemoryStateStore) Close() error { return nil }

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	MaxRetries   int           `yaml:"max_retries"`
	TLSEnabled   bool          `yaml:"tls_enabled"`
	// StateTTL bounds how long an outcome stays authoritative. Zero
	// means no expiry.
	StateTTL time.Duration `yaml:"state_ttl"`
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		StateTTL:     24 * time.Hour,
	}
}

// RedisStateStore shares action state across dispatcher replicas.
type RedisStateStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStateStore connects to Redis and verifies the connection.
func NewRedisStateStore(cfg RedisConfig) (*RedisStateStore, error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
	}

	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStateStore{client: client, ttl: cfg.StateTTL}, nil
}

func (r *RedisStateStore) Get(ctx context.Context, key string) (*ActionState, error) {
	val, err := r.client.Get(ctx, redisKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStateNotFound
		}
		return nil, err
	}

	var state ActionState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, fmt.Errorf("decode action state: %w", err)
	}
	return &state, nil
}

func (r *RedisStateStore) Set(ctx context.Context, key string, state *ActionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode action state: %w", err)
	}
	return r.client.Set(ctx, redisKey(key), data, r.ttl).Err()
}

func (r *RedisStateStore) Close() error {
	return r.client.Close()
}

func redisKey(key string) string {
	return "soar:state:" + key
}
