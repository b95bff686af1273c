package collector

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestDefaultDTLSConfig(t *testing.T) {
	cfg := DefaultDTLSConfig()

	if cfg.Enabled {
		t.Error("Enabled should be false by default")
	}
	if cfg.Address != ":5516" {
		t.Errorf("Address = %q, want %q", cfg.Address, ":5516")
	}
	if cfg.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Workers)
	}
	if cfg.MaxMessageSize != 65535 {
		t.Errorf("MaxMessageSize = %d, want 65535", cfg.MaxMessageSize)
	}
	if cfg.ConnectionTimeout != 30*time.Second {
		t.Errorf("ConnectionTimeout = %v, want 30s", cfg.ConnectionTimeout)
	}
	if cfg.IdleTimeout != 5*time.Minute {
		t.Errorf("IdleTimeout = %v, want 5m", cfg.IdleTimeout)
	}
	if cfg.AllowInsecure {
		t.Error("AllowInsecure should be false by default")
	}
	if cfg.RequireClientCert {
		t.Error("RequireClientCert should be false by default")
	}
}

func TestNewDTLSCollector_RequiresCertificate(t *testing.T) {
	cfg := DefaultDTLSConfig()

	_, err := NewDTLSCollector(cfg, &captureSink{}, nil)
	if !errors.Is(err, ErrDTLSCertRequired) {
		t.Errorf("NewDTLSCollector() error = %v, want ErrDTLSCertRequired", err)
	}
}

func TestNewDTLSCollector_MutualTLSRequiresCA(t *testing.T) {
	cfg := DefaultDTLSConfig()
	cfg.CertFile = "server.crt"
	cfg.KeyFile = "server.key"
	cfg.RequireClientCert = true

	_, err := NewDTLSCollector(cfg, &captureSink{}, nil)
	if !errors.Is(err, ErrDTLSClientCertRequired) {
		t.Errorf("NewDTLSCollector() error = %v, want ErrDTLSClientCertRequired", err)
	}
}

func TestNewDTLSCollector_AllowInsecureSkipsCertCheck(t *testing.T) {
	cfg := DefaultDTLSConfig()
	cfg.AllowInsecure = true

	col, err := NewDTLSCollector(cfg, &captureSink{}, nil)
	if err != nil {
		t.Fatalf("NewDTLSCollector() error: %v", err)
	}
	if col == nil {
		t.Fatal("NewDTLSCollector() returned nil collector")
	}
}

func TestDTLSCollector_InsecureUDPDelivery(t *testing.T) {
	cfg := DefaultDTLSConfig()
	cfg.AllowInsecure = true
	cfg.Address = "127.0.0.1:0"
	cfg.Workers = 2

	sink := &captureSink{}
	col, err := NewDTLSCollector(cfg, sink, nil)
	if err != nil {
		t.Fatalf("NewDTLSCollector() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := col.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer col.Stop()

	if col.IsSecure() {
		t.Error("IsSecure() should be false in plain UDP mode")
	}
	if !col.Metrics().InsecureWarned {
		t.Error("InsecureWarned should be set in plain UDP mode")
	}

	conn, err := net.Dial("udp", col.udpConn.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(`{"event_type":"port_scan","source_ip":"10.1.1.1"}`)); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	ok := waitForCondition(2*time.Second, func() bool {
		return sink.count() == 1
	})
	if !ok {
		t.Fatalf("sink received %d datagrams, want 1", sink.count())
	}

	m := col.Metrics()
	if m.Received != 1 {
		t.Errorf("Received = %d, want 1", m.Received)
	}
	if m.Accepted != 1 {
		t.Errorf("Accepted = %d, want 1", m.Accepted)
	}
}

func TestDTLSCollector_InsecureRejectedDatagram(t *testing.T) {
	cfg := DefaultDTLSConfig()
	cfg.AllowInsecure = true
	cfg.Address = "127.0.0.1:0"
	cfg.Workers = 1

	sink := &captureSink{}
	col, err := NewDTLSCollector(cfg, sink, nil)
	if err != nil {
		t.Fatalf("NewDTLSCollector() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := col.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer col.Stop()

	conn, err := net.Dial("udp", col.udpConn.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("bad datagram")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	ok := waitForCondition(2*time.Second, func() bool {
		return col.Metrics().Errors == 1
	})
	if !ok {
		t.Fatalf("Errors = %d, want 1", col.Metrics().Errors)
	}
	if sink.count() != 0 {
		t.Errorf("sink received %d datagrams, want 0", sink.count())
	}
}
