package collector

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/dtls/v2"
)

var (
	ErrDTLSCertRequired       = errors.New("DTLS requires certificate and key")
	ErrDTLSClientCertRequired = errors.New("mutual TLS requires CA certificate")
)

// DTLSConfig holds configuration for the DTLS collector.
type DTLSConfig struct {
	Enabled bool `yaml:"enabled"`

	// Address to listen on (e.g., ":5516")
	Address string `yaml:"address"`

	// Certificate and key for DTLS
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// Optional: CA certificate for mutual TLS (client certificate validation)
	CAFile string `yaml:"ca_file"`

	// RequireClientCert enforces mutual TLS
	RequireClientCert bool `yaml:"require_client_cert"`

	// Workers for datagram processing
	Workers int `yaml:"workers"`

	// MaxMessageSize is the maximum UDP datagram size
	MaxMessageSize int `yaml:"max_message_size"`

	// ConnectionTimeout is the timeout for the DTLS handshake
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`

	// IdleTimeout is the timeout for idle connections
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// AllowInsecure allows fallback to plain UDP (NOT RECOMMENDED)
	AllowInsecure bool `yaml:"allow_insecure"`
}

// DefaultDTLSConfig returns secure default configuration.
func DefaultDTLSConfig() DTLSConfig {
	return DTLSConfig{
		Enabled:           false,
		Address:           ":5516",
		Workers:           8,
		MaxMessageSize:    65535,
		ConnectionTimeout: 30 * time.Second,
		IdleTimeout:       5 * time.Minute,
		AllowInsecure:     false,
		RequireClientCert: false,
	}
}

// DTLSMetrics holds metrics for the DTLS collector.
type DTLSMetrics struct {
	Connections    uint64
	Handshakes     uint64
	HandshakeErrs  uint64
	Received       uint64
	Accepted       uint64
	Errors         uint64
	InsecureWarned bool
}

// DTLSCollector receives log records over DTLS (secure UDP), one record
// per datagram, and feeds them to the ingestion sink.
type DTLSCollector struct {
	config     DTLSConfig
	listener   net.Listener
	dtlsConfig *dtls.Config
	sink       LineSink
	logger     *slog.Logger

	// For plain UDP fallback (insecure)
	udpConn *net.UDPConn

	wg   sync.WaitGroup
	done chan struct{}

	connections    uint64
	handshakes     uint64
	handshakeErrs  uint64
	received       uint64
	accepted       uint64
	errors         uint64
	insecureWarned bool
}

// NewDTLSCollector creates a new DTLS collector.
func NewDTLSCollector(cfg DTLSConfig, sink LineSink, logger *slog.Logger) (*DTLSCollector, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &DTLSCollector{
		config: cfg,
		sink:   sink,
		logger: logger,
		done:   make(chan struct{}),
	}

	if !cfg.AllowInsecure {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return nil, ErrDTLSCertRequired
		}
	}

	if cfg.RequireClientCert && cfg.CAFile == "" {
		return nil, ErrDTLSClientCertRequired
	}

	return c, nil
}

// Start starts the DTLS collector.
func (c *DTLSCollector) Start(ctx context.Context) error {
	if c.config.AllowInsecure && (c.config.CertFile == "" || c.config.KeyFile == "") {
		return c.startInsecure(ctx)
	}

	return c.startSecure(ctx)
}

// startSecure starts the collector with DTLS encryption.
func (c *DTLSCollector) startSecure(ctx context.Context) error {
	cert, err := tls.LoadX509KeyPair(c.config.CertFile, c.config.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load DTLS certificate: %w", err)
	}

	dtlsConfig := &dtls.Config{
		Certificates:         []tls.Certificate{cert},
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(ctx, c.config.ConnectionTimeout)
		},
	}

	if c.config.RequireClientCert {
		caData, err := os.ReadFile(c.config.CAFile)
		if err != nil {
			return fmt.Errorf("failed to load CA certificate: %w", err)
		}

		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caData) {
			return fmt.Errorf("failed to parse CA certificate")
		}

		dtlsConfig.ClientCAs = caPool
		dtlsConfig.ClientAuth = dtls.RequireAndVerifyClientCert
	}

	c.dtlsConfig = dtlsConfig

	addr, err := net.ResolveUDPAddr("udp", c.config.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve address: %w", err)
	}

	listener, err := dtls.Listen("udp", addr, dtlsConfig)
	if err != nil {
		return fmt.Errorf("failed to start DTLS listener: %w", err)
	}

	c.listener = listener

	c.logger.Info("DTLS collector started",
		"address", c.config.Address,
		"mutual_tls", c.config.RequireClientCert,
	)

	c.wg.Add(1)
	go c.acceptLoop(ctx)

	return nil
}

// startInsecure starts the collector in plain UDP mode (NOT RECOMMENDED).
func (c *DTLSCollector) startInsecure(ctx context.Context) error {
	c.logger.Warn("SECURITY WARNING: starting UDP collector WITHOUT encryption",
		"address", c.config.Address,
		"recommendation", "use DTLS with certificates for production",
	)
	c.logger.Warn("SECURITY WARNING: log records may contain sensitive data and will be transmitted in cleartext")
	c.insecureWarned = true

	addr, err := net.ResolveUDPAddr("udp", c.config.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to start UDP listener: %w", err)
	}

	c.udpConn = conn

	c.logger.Info("UDP collector started (INSECURE)",
		"address", c.config.Address,
	)

	messages := make(chan datagram, c.config.Workers*100)

	for i := 0; i < c.config.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, messages)
	}

	c.wg.Add(1)
	go c.insecureReceiver(ctx, messages)

	return nil
}

type datagram struct {
	data     []byte
	sourceIP string
	secure   bool
}

// acceptLoop accepts DTLS connections.
func (c *DTLSCollector) acceptLoop(ctx context.Context) {
	defer c.wg.Done()

	messages := make(chan datagram, c.config.Workers*100)

	for i := 0; i < c.config.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, messages)
	}

	for {
		select {
		case <-ctx.Done():
			close(messages)
			return
		case <-c.done:
			close(messages)
			return
		default:
		}

		// Accept with deadline so shutdown is observed
		if dl, ok := c.listener.(interface{ SetDeadline(time.Time) error }); ok {
			dl.SetDeadline(time.Now().Add(100 * time.Millisecond))
		}

		conn, err := c.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-c.done:
				return
			default:
				c.logger.Debug("DTLS accept error", "error", err)
				atomic.AddUint64(&c.handshakeErrs, 1)
				continue
			}
		}

		atomic.AddUint64(&c.connections, 1)
		atomic.AddUint64(&c.handshakes, 1)

		c.wg.Add(1)
		go c.handleConnection(ctx, conn, messages)
	}
}

// handleConnection handles a single DTLS connection.
func (c *DTLSCollector) handleConnection(ctx context.Context, conn net.Conn, messages chan<- datagram) {
	defer c.wg.Done()
	defer conn.Close()

	var sourceIP string
	if addr := conn.RemoteAddr(); addr != nil {
		if udpAddr, ok := addr.(*net.UDPAddr); ok {
			sourceIP = udpAddr.IP.String()
		} else {
			sourceIP = addr.String()
		}
	}

	c.logger.Debug("new DTLS connection",
		"remote", conn.RemoteAddr(),
	)

	buffer := make([]byte, c.config.MaxMessageSize)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(c.config.IdleTimeout))

		n, err := conn.Read(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				c.logger.Debug("DTLS connection idle timeout", "remote", sourceIP)
				return
			}
			c.logger.Debug("DTLS read error", "error", err, "remote", sourceIP)
			return
		}

		atomic.AddUint64(&c.received, 1)

		data := make([]byte, n)
		copy(data, buffer[:n])

		select {
		case messages <- datagram{data: data, sourceIP: sourceIP, secure: true}:
		default:
			atomic.AddUint64(&c.errors, 1)
			c.logger.Debug("message channel full, dropping datagram")
		}
	}
}

// insecureReceiver receives datagrams on plain UDP.
func (c *DTLSCollector) insecureReceiver(ctx context.Context, messages chan<- datagram) {
	defer c.wg.Done()
	defer close(messages)

	buffer := make([]byte, c.config.MaxMessageSize)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		c.udpConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, remoteAddr, err := c.udpConn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-c.done:
				return
			default:
				c.logger.Debug("UDP read error", "error", err)
				continue
			}
		}

		atomic.AddUint64(&c.received, 1)

		data := make([]byte, n)
		copy(data, buffer[:n])

		select {
		case messages <- datagram{data: data, sourceIP: remoteAddr.IP.String(), secure: false}:
		default:
			atomic.AddUint64(&c.errors, 1)
		}
	}
}

// worker hands datagrams to the sink.
func (c *DTLSCollector) worker(ctx context.Context, messages <-chan datagram) {
	defer c.wg.Done()

	for msg := range messages {
		if err := c.sink.IngestLine(ctx, msg.data); err != nil {
			atomic.AddUint64(&c.errors, 1)
			c.logger.Debug("ingest error",
				"error", err,
				"source", msg.sourceIP,
				"secure", msg.secure,
			)
			continue
		}
		atomic.AddUint64(&c.accepted, 1)
	}
}

// Stop stops the DTLS collector gracefully.
func (c *DTLSCollector) Stop() {
	close(c.done)

	if c.listener != nil {
		c.listener.Close()
	}
	if c.udpConn != nil {
		c.udpConn.Close()
	}

	c.wg.Wait()

	c.logger.Info("DTLS collector stopped",
		"connections", atomic.LoadUint64(&c.connections),
		"handshakes", atomic.LoadUint64(&c.handshakes),
		"handshake_errors", atomic.LoadUint64(&c.handshakeErrs),
		"received", atomic.LoadUint64(&c.received),
		"accepted", atomic.LoadUint64(&c.accepted),
		"errors", atomic.LoadUint64(&c.errors),
	)
}

// Metrics returns the current collector metrics.
func (c *DTLSCollector) Metrics() DTLSMetrics {
	return DTLSMetrics{
		Connections:    atomic.LoadUint64(&c.connections),
		Handshakes:     atomic.LoadUint64(&c.handshakes),
		HandshakeErrs:  atomic.LoadUint64(&c.handshakeErrs),
		Received:       atomic.LoadUint64(&c.received),
		Accepted:       atomic.LoadUint64(&c.accepted),
		Errors:         atomic.LoadUint64(&c.errors),
		InsecureWarned: c.insecureWarned,
	}
}

// IsSecure returns true if the collector is running with DTLS encryption.
func (c *DTLSCollector) IsSecure() bool {
	return c.listener != nil && c.udpConn == nil
}
