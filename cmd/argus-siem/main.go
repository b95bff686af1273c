// Package main is the entry point for the Argus-SIEM telemetry service.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"argus-siem/internal/api"
	"argus-siem/internal/archive"
	"argus-siem/internal/collector"
	"argus-siem/internal/config"
	"argus-siem/internal/detect"
	"argus-siem/internal/enrich"
	siemerrors "argus-siem/internal/errors"
	"argus-siem/internal/feedback"
	"argus-siem/internal/kafka"
	"argus-siem/internal/logging"
	"argus-siem/internal/pipeline"
	"argus-siem/internal/query"
	"argus-siem/internal/queue"
	"argus-siem/internal/schema"
	"argus-siem/internal/soar"
	"argus-siem/internal/store"
	"argus-siem/internal/suppress"
)

func main() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if os.Getenv("ARGUS_LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       logLevel,
		ReplaceAttr: logging.RedactAttr,
	}))
	slog.SetDefault(logger)

	if os.Getenv("ARGUS_ENV") == "production" {
		siemerrors.SetProductionMode(true)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_enabled", cfg.Auth.Enabled,
		"storage_enabled", cfg.Storage.Enabled,
		"kafka_enabled", cfg.Kafka != nil && cfg.Kafka.Enabled,
		"archive_enabled", cfg.Archive.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Select the backing store
	var (
		st          store.Store
		chClient    *store.ClickHouseClient
		batchWriter *store.BatchWriter
	)

	if cfg.Storage.Enabled {
		slog.Info("initializing ClickHouse storage",
			"hosts", cfg.Storage.ClickHouse.Hosts,
			"database", cfg.Storage.ClickHouse.Database,
		)

		chClient, err = store.NewClickHouseClient(cfg.Storage.ClickHouse)
		if err != nil {
			slog.Error("failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}

		slog.Info("running database migrations")
		migrator := store.NewMigrator(chClient)
		if err := migrator.Run(ctx); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		chStore := store.NewClickHouseStore(chClient)
		batchWriter = store.NewBatchWriter(chStore, cfg.Storage.BatchWriter)
		st = chStore

		slog.Info("storage initialized successfully")
	} else {
		slog.Info("storage disabled, using in-memory store")
		st = store.NewMemoryStore()
	}

	// Detection chain
	enricher := enrich.New(enrich.DefaultConfig(), st, logger)
	detector := detect.NewEngine(detect.DefaultConfig(), detect.BuiltinRules(), detect.NewHeuristicScorer(), logger)
	suppressor := suppress.NewEngine(cfg.Suppression, logger)

	p := pipeline.New(cfg.Pipeline, st, enricher, detector, suppressor, logger)
	p.SetValidator(schema.NewValidatorWithConfig(cfg.Validation.ToValidatorConfig()))
	if batchWriter != nil {
		// Buffers collector lines only; API ingest stays synchronous.
		p.SetWriter(batchWriter)
	}

	// Alert queue feeds the Kafka publisher when one is configured
	alertQueue := queue.NewAlertQueue(cfg.Queue.Size)
	p.SetSink(alertQueue)

	var (
		producer  *kafka.Producer
		publisher *kafka.Publisher
	)
	if cfg.Kafka != nil && cfg.Kafka.Enabled {
		producer, err = kafka.NewProducer(cfg.Kafka, logger)
		if err != nil {
			slog.Error("failed to create kafka producer", "error", err)
			os.Exit(1)
		}
		publisher = kafka.NewPublisher(producer, alertQueue, logger)
		publisher.Start(ctx)
		slog.Info("kafka alert publisher started", "brokers", cfg.Kafka.Brokers)
	}

	if err := p.Start(ctx); err != nil {
		slog.Error("failed to start pipeline", "error", err)
		os.Exit(1)
	}

	// SOAR dispatcher
	var states soar.StateStore
	switch cfg.SOAR.StateBackend {
	case "redis":
		redisStates, err := soar.NewRedisStateStore(cfg.SOAR.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		states = redisStates
		slog.Info("soar state backend: redis", "addr", cfg.SOAR.Redis.Addr)
	default:
		states = soar.NewMemoryStateStore()
	}

	enforcer := buildEnforcer(cfg.Integrations.Enforcement, logger)
	dispatcher := soar.NewDispatcher(cfg.SOAR.Dispatcher, enforcer, states, st, logger)

	// Query and feedback services
	querySvc := query.NewService(st, 7)
	tracker := feedback.NewTracker(st, suppressor, logger)

	// Raw payload archive
	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		archiver, err = archive.NewArchiver(ctx, cfg.Archive, logger)
		if err != nil {
			slog.Error("failed to initialize archive", "error", err)
			os.Exit(1)
		}
		slog.Info("raw payload archive enabled", "bucket", cfg.Archive.Bucket)
	}

	// HTTP API
	handler := api.NewHandler(p, querySvc, tracker, dispatcher, suppressor, logger).
		WithMaxPayload(cfg.Ingest.MaxPayloadSize)
	if archiver != nil {
		handler = handler.WithArchiver(archiver)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      api.WithMiddleware(handler.Router(), cfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Line-oriented collectors
	var tcpCollector *collector.TCPCollector
	if cfg.Collector.TCP.Enabled {
		tcpCollector = collector.NewTCPCollector(cfg.Collector.TCP, p, logger)
		if err := tcpCollector.Start(ctx); err != nil {
			slog.Error("failed to start TCP collector", "error", err)
			os.Exit(1)
		}
	}

	var dtlsCollector *collector.DTLSCollector
	if cfg.Collector.DTLS.Enabled {
		dtlsCollector, err = collector.NewDTLSCollector(cfg.Collector.DTLS, p, logger)
		if err != nil {
			slog.Error("failed to create DTLS collector", "error", err)
			os.Exit(1)
		}
		if err := dtlsCollector.Start(ctx); err != nil {
			slog.Error("failed to start DTLS collector", "error", err)
			os.Exit(1)
		}
	}

	// Start HTTP server
	go func() {
		slog.Info("starting API server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received", "signal", sig.String())

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting new requests
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if tcpCollector != nil {
		tcpCollector.Stop()
	}
	if dtlsCollector != nil {
		dtlsCollector.Stop()
	}

	cancel()

	if publisher != nil {
		publisher.Stop()
	}
	alertQueue.Close()
	if producer != nil {
		if err := producer.Close(); err != nil {
			slog.Error("kafka producer close error", "error", err)
		}
	}

	if batchWriter != nil {
		if err := batchWriter.Close(); err != nil {
			slog.Error("batch writer close error", "error", err)
		}
	}
	if chClient != nil {
		if err := chClient.Close(); err != nil {
			slog.Error("clickhouse close error", "error", err)
		}
	}
	if err := states.Close(); err != nil {
		slog.Error("state store close error", "error", err)
	}

	// Log final metrics
	slog.Info("shutdown complete", "pipeline", p.Metrics())

	if batchWriter != nil {
		bwMetrics := batchWriter.Metrics()
		slog.Info("storage metrics",
			"events_written", bwMetrics.Written,
			"events_failed", bwMetrics.Failed,
			"batches", bwMetrics.Batches,
		)
	}
}

// buildEnforcer returns the enforcement backend for dispatched actions.
// With no endpoint configured, actions are acknowledged and logged so
// the full dispatch chain (idempotency, audit, retries) still runs.
func buildEnforcer(cfg config.EnforcementConfig, logger *slog.Logger) soar.Enforcer {
	if !cfg.Enabled {
		return soar.EnforcerFunc(func(ctx context.Context, action schema.ActionType, target, reason string) error {
			logger.Info("enforcement action (log-only mode)",
				"action", action,
				"target", target,
				"reason", reason,
			)
			return nil
		})
	}

	client := &http.Client{Timeout: cfg.Timeout}
	return soar.EnforcerFunc(func(ctx context.Context, action schema.ActionType, target, reason string) error {
		body, err := json.Marshal(map[string]string{
			"action": string(action),
			"target": target,
			"reason": reason,
		})
		if err != nil {
			return fmt.Errorf("marshal enforcement request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/v1/enforce", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build enforcement request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if cfg.APIKey != "" {
			req.Header.Set("X-API-Key", cfg.APIKey)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("enforcement call: %w", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if resp.StatusCode >= 300 {
			return fmt.Errorf("enforcement endpoint returned %d", resp.StatusCode)
		}
		return nil
	})
}
