// Package archive writes compressed copies of raw ingest payloads to
// object storage so original evidence survives normalization.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

var ErrArchiveDisabled = errors.New("archive: disabled")

// Config holds object storage configuration for raw payload archival.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Region is the AWS region.
	Region string `yaml:"region"`

	// Bucket is the S3 bucket name.
	Bucket string `yaml:"bucket"`

	// Prefix is the key prefix for all archived objects.
	Prefix string `yaml:"prefix"`

	// Endpoint is an optional custom endpoint (for S3-compatible storage).
	Endpoint string `yaml:"endpoint,omitempty"`

	// AccessKeyID for static credentials (optional, uses IAM if not set).
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	SessionToken    string `yaml:"session_token,omitempty"`

	// StorageClass for uploaded objects.
	StorageClass string `yaml:"storage_class"`

	// UsePathStyle forces path-style addressing (for MinIO, etc.).
	UsePathStyle bool `yaml:"use_path_style"`

	// RetryMaxAttempts for failed uploads.
	RetryMaxAttempts int `yaml:"retry_max_attempts"`

	// Timeout per upload.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns archival defaults. Archival is off until a
// bucket is configured.
func DefaultConfig() Config {
	return Config{
		Enabled:          false,
		Region:           "us-east-1",
		Bucket:           "argus-siem-archive",
		Prefix:           "raw/",
		StorageClass:     "INTELLIGENT_TIERING",
		RetryMaxAttempts: 3,
		Timeout:          30 * time.Second,
	}
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Region == "" {
		return errors.New("archive: region is required")
	}
	if c.Bucket == "" {
		return errors.New("archive: bucket is required")
	}
	return nil
}

// GetStorageClass returns the S3 storage class type.
func (c *Config) GetStorageClass() types.StorageClass {
	switch strings.ToUpper(c.StorageClass) {
	case "STANDARD":
		return types.StorageClassStandard
	case "STANDARD_IA":
		return types.StorageClassStandardIa
	case "ONEZONE_IA":
		return types.StorageClassOnezoneIa
	case "INTELLIGENT_TIERING":
		return types.StorageClassIntelligentTiering
	case "GLACIER":
		return types.StorageClassGlacier
	case "DEEP_ARCHIVE":
		return types.StorageClassDeepArchive
	case "GLACIER_IR":
		return types.StorageClassGlacierIr
	default:
		return types.StorageClassStandard
	}
}

// objectStore is the slice of the S3 API the archiver uses.
type objectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Archiver stores gzipped raw payloads in object storage.
type Archiver struct {
	client objectStore
	config Config
	logger *slog.Logger

	uploaded      atomic.Int64
	bytesIn       atomic.Int64
	bytesUploaded atomic.Int64
	errs          atomic.Int64
}

// NewArchiver creates an archiver backed by S3.
func NewArchiver(ctx context.Context, cfg Config, logger *slog.Logger) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			cfg.SessionToken,
		)
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	if cfg.RetryMaxAttempts > 0 {
		opts = append(opts, awsconfig.WithRetryMaxAttempts(cfg.RetryMaxAttempts))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	a := &Archiver{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		config: cfg,
		logger: logger,
	}

	logger.Info("archive client initialized",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"storage_class", cfg.StorageClass,
	)

	return a, nil
}

// newWithStore builds an archiver around an existing store, for tests.
func newWithStore(store objectStore, cfg Config, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{client: store, config: cfg, logger: logger}
}

// Store compresses and uploads one raw ingest payload. The format tag
// becomes part of the object key so archived batches can be replayed
// through the right parser later. Returns the object key.
func (a *Archiver) Store(ctx context.Context, payload []byte, format string) (string, error) {
	if !a.config.Enabled {
		return "", ErrArchiveDisabled
	}
	if format == "" {
		format = "unknown"
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		a.errs.Add(1)
		return "", fmt.Errorf("archive: compress: %w", err)
	}
	if err := gz.Close(); err != nil {
		a.errs.Add(1)
		return "", fmt.Errorf("archive: compress: %w", err)
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("%s%s/%s.%s.gz",
		a.config.Prefix,
		now.Format("2006/01/02"),
		uuid.New().String(),
		format,
	)

	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(a.config.Bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(buf.Bytes()),
		ContentType:  aws.String("application/gzip"),
		StorageClass: a.config.GetStorageClass(),
		Metadata: map[string]string{
			"format":            format,
			"uncompressed-size": strconv.Itoa(len(payload)),
		},
	})
	if err != nil {
		a.errs.Add(1)
		return "", fmt.Errorf("archive: failed to upload %s: %w", key, err)
	}

	a.uploaded.Add(1)
	a.bytesIn.Add(int64(len(payload)))
	a.bytesUploaded.Add(int64(buf.Len()))

	a.logger.Debug("archived raw payload",
		"key", key,
		"format", format,
		"raw_bytes", len(payload),
		"stored_bytes", buf.Len(),
	)

	return key, nil
}

// Fetch downloads and decompresses an archived payload by key.
func (a *Archiver) Fetch(ctx context.Context, key string) ([]byte, error) {
	result, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		a.errs.Add(1)
		return nil, fmt.Errorf("archive: failed to download %s: %w", key, err)
	}
	defer result.Body.Close()

	gz, err := gzip.NewReader(result.Body)
	if err != nil {
		a.errs.Add(1)
		return nil, fmt.Errorf("archive: decompress %s: %w", key, err)
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		a.errs.Add(1)
		return nil, fmt.Errorf("archive: decompress %s: %w", key, err)
	}
	return data, nil
}

// Enabled reports whether archival is configured on.
func (a *Archiver) Enabled() bool {
	return a.config.Enabled
}

// Metrics contains archiver counters.
type Metrics struct {
	Uploaded      int64 `json:"uploaded"`
	BytesIn       int64 `json:"bytes_in"`
	BytesUploaded int64 `json:"bytes_uploaded"`
	Errors        int64 `json:"errors"`
}

// GetMetrics returns current archiver metrics.
func (a *Archiver) GetMetrics() Metrics {
	return Metrics{
		Uploaded:      a.uploaded.Load(),
		BytesIn:       a.bytesIn.Load(),
		BytesUploaded: a.bytesUploaded.Load(),
		Errors:        a.errs.Load(),
	}
}
