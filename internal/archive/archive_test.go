package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// fakeStore captures uploaded objects in memory.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
	putErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects: make(map[string][]byte),
		meta:    make(map[string]map[string]string),
	}
}

func (f *fakeStore) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(params.Key)] = data
	f.meta[aws.ToString(params.Key)] = params.Metadata
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeStore) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	data, ok := f.objects[aws.ToString(params.Key)]
	f.mu.Unlock()
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func enabledConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"disabled skips checks", func(c *Config) { c.Enabled = false; c.Bucket = "" }, false},
		{"enabled defaults valid", func(c *Config) {}, false},
		{"missing region", func(c *Config) { c.Region = "" }, true},
		{"missing bucket", func(c *Config) { c.Bucket = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := enabledConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStore_KeyPatternAndCompression(t *testing.T) {
	store := newFakeStore()
	a := newWithStore(store, enabledConfig(), nil)

	payload := []byte(`{"event_type":"port_scan","source_ip":"10.0.0.5"}`)
	key, err := a.Store(context.Background(), payload, "ndjson")
	if err != nil {
		t.Fatalf("Store() error: %v", err)
	}

	// raw/YYYY/MM/DD/<uuid>.<format>.gz
	keyPattern := regexp.MustCompile(`^raw/\d{4}/\d{2}/\d{2}/[0-9a-f-]{36}\.ndjson\.gz$`)
	if !keyPattern.MatchString(key) {
		t.Errorf("key %q does not match expected layout", key)
	}

	stored, ok := store.objects[key]
	if !ok {
		t.Fatalf("object %q was not uploaded", key)
	}

	gz, err := gzip.NewReader(bytes.NewReader(stored))
	if err != nil {
		t.Fatalf("stored object is not gzip: %v", err)
	}
	decompressed, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("decompress error: %v", err)
	}
	if !bytes.Equal(decompressed, payload) {
		t.Errorf("decompressed = %q, want original payload", decompressed)
	}

	meta := store.meta[key]
	if meta["format"] != "ndjson" {
		t.Errorf("metadata format = %q, want ndjson", meta["format"])
	}
}

func TestStore_FetchRoundTrip(t *testing.T) {
	store := newFakeStore()
	a := newWithStore(store, enabledConfig(), nil)

	payload := []byte("ts,event_type,source_ip\n2026-01-01T00:00:00Z,login_failure,10.0.0.9\n")
	key, err := a.Store(context.Background(), payload, "csv")
	if err != nil {
		t.Fatalf("Store() error: %v", err)
	}

	got, err := a.Fetch(context.Background(), key)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Fetch() = %q, want original payload", got)
	}
}

func TestStore_Disabled(t *testing.T) {
	store := newFakeStore()
	a := newWithStore(store, DefaultConfig(), nil)

	_, err := a.Store(context.Background(), []byte("x"), "json")
	if !errors.Is(err, ErrArchiveDisabled) {
		t.Errorf("Store() error = %v, want ErrArchiveDisabled", err)
	}
	if len(store.objects) != 0 {
		t.Error("disabled archiver should not upload")
	}
}

func TestStore_EmptyFormatTag(t *testing.T) {
	store := newFakeStore()
	a := newWithStore(store, enabledConfig(), nil)

	key, err := a.Store(context.Background(), []byte("x"), "")
	if err != nil {
		t.Fatalf("Store() error: %v", err)
	}
	if !strings.HasSuffix(key, ".unknown.gz") {
		t.Errorf("key %q should carry the unknown format tag", key)
	}
}

func TestStore_UploadFailureCountsError(t *testing.T) {
	store := newFakeStore()
	store.putErr = errors.New("AccessDenied")
	a := newWithStore(store, enabledConfig(), nil)

	if _, err := a.Store(context.Background(), []byte("x"), "json"); err == nil {
		t.Fatal("Store() should fail when upload fails")
	}

	m := a.GetMetrics()
	if m.Errors != 1 {
		t.Errorf("Errors = %d, want 1", m.Errors)
	}
	if m.Uploaded != 0 {
		t.Errorf("Uploaded = %d, want 0", m.Uploaded)
	}
}

func TestMetrics(t *testing.T) {
	store := newFakeStore()
	a := newWithStore(store, enabledConfig(), nil)

	payload := []byte(strings.Repeat("telemetry line\n", 100))
	if _, err := a.Store(context.Background(), payload, "syslog"); err != nil {
		t.Fatalf("Store() error: %v", err)
	}

	m := a.GetMetrics()
	if m.Uploaded != 1 {
		t.Errorf("Uploaded = %d, want 1", m.Uploaded)
	}
	if m.BytesIn != int64(len(payload)) {
		t.Errorf("BytesIn = %d, want %d", m.BytesIn, len(payload))
	}
	if m.BytesUploaded <= 0 || m.BytesUploaded >= m.BytesIn {
		t.Errorf("BytesUploaded = %d, want compressed size below %d", m.BytesUploaded, m.BytesIn)
	}
}
