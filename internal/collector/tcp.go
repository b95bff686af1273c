// Package collector receives raw log lines over the network and feeds
// them into the detection pipeline. TCP carries newline-delimited
// syslog/CEF/JSON; DTLS covers lossy-network senders that need
// confidentiality without TCP head-of-line blocking.
package collector

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// LineSink consumes one raw line. The pipeline implements it.
type LineSink interface {
	IngestLine(ctx context.Context, line []byte) error
}

// TCPConfig holds configuration for the TCP collector.
type TCPConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Address        string        `yaml:"address"`
	TLSEnabled     bool          `yaml:"tls_enabled"`
	TLSCertFile    string        `yaml:"tls_cert_file"`
	TLSKeyFile     string        `yaml:"tls_key_file"`
	MaxConnections int           `yaml:"max_connections"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxLineLength  int           `yaml:"max_line_length"`
}

// DefaultTCPConfig returns the default TCP collector configuration.
func DefaultTCPConfig() TCPConfig {
	return TCPConfig{
		Address:        ":5515",
		MaxConnections: 1000,
		IdleTimeout:    5 * time.Minute,
		MaxLineLength:  65535,
	}
}

// Metrics holds collector counters.
type Metrics struct {
	Connections uint64 `json:"connections"`
	Received    uint64 `json:"received"`
	Accepted    uint64 `json:"accepted"`
	Errors      uint64 `json:"errors"`
}

// TCPCollector receives newline-delimited log lines over TCP.
type TCPCollector struct {
	config   TCPConfig
	sink     LineSink
	logger   *slog.Logger
	listener net.Listener

	connCount int32
	wg        sync.WaitGroup
	done      chan struct{}

	connections uint64
	received    uint64
	accepted    uint64
	errors      uint64
}

// NewTCPCollector creates a TCP collector feeding the sink.
func NewTCPCollector(cfg TCPConfig, sink LineSink, logger *slog.Logger) *TCPCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &TCPCollector{
		config: cfg,
		sink:   sink,
		logger: logger.With("component", "tcp-collector"),
		done:   make(chan struct{}),
	}
}

// Start begins accepting connections.
func (c *TCPCollector) Start(ctx context.Context) error {
	var listener net.Listener
	var err error

	if c.config.TLSEnabled {
		cert, err := tls.LoadX509KeyPair(c.config.TLSCertFile, c.config.TLSKeyFile)
		if err != nil {
			return err
		}
		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		listener, err = tls.Listen("tcp", c.config.Address, tlsConfig)
		if err != nil {
			return err
		}
	} else {
		listener, err = net.Listen("tcp", c.config.Address)
		if err != nil {
			return err
		}
	}

	c.listener = listener

	c.logger.Info("tcp collector started",
		"address", listener.Addr().String(),
		"tls", c.config.TLSEnabled,
	)

	c.wg.Add(1)
	go c.acceptLoop(ctx)

	return nil
}

// Addr returns the bound listener address, for tests using ":0".
func (c *TCPCollector) Addr() net.Addr {
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

func (c *TCPCollector) acceptLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		// Accept deadlines allow periodic context checks.
		if tcpListener, ok := c.listener.(*net.TCPListener); ok {
			tcpListener.SetDeadline(time.Now().Add(100 * time.Millisecond))
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
				c.logger.Debug("accept error", "error", err)
				continue
			}
		}

		if atomic.LoadInt32(&c.connCount) >= int32(c.config.MaxConnections) {
			c.logger.Warn("max connections reached, rejecting")
			conn.Close()
			continue
		}

		atomic.AddInt32(&c.connCount, 1)
		atomic.AddUint64(&c.connections, 1)

		c.wg.Add(1)
		go c.handleConnection(ctx, conn)
	}
}

func (c *TCPCollector) handleConnection(ctx context.Context, conn net.Conn) {
	defer c.wg.Done()
	defer atomic.AddInt32(&c.connCount, -1)
	defer conn.Close()

	c.logger.Debug("new connection", "remote", conn.RemoteAddr())

	reader := bufio.NewReaderSize(conn, c.config.MaxLineLength)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(c.config.IdleTimeout))

		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return
			}
			c.logger.Debug("read error", "error", err)
			return
		}

		c.processLine(ctx, []byte(line))
	}
}

func (c *TCPCollector) processLine(ctx context.Context, line []byte) {
	atomic.AddUint64(&c.received, 1)

	if err := c.sink.IngestLine(ctx, line); err != nil {
		atomic.AddUint64(&c.errors, 1)
		c.logger.Debug("line rejected", "error", err)
		return
	}
	atomic.AddUint64(&c.accepted, 1)
}

// Stop shuts the collector down gracefully.
func (c *TCPCollector) Stop() {
	close(c.done)
	if c.listener != nil {
		c.listener.Close()
	}
	c.wg.Wait()
	c.logger.Info("tcp collector stopped",
		"connections", atomic.LoadUint64(&c.connections),
		"received", atomic.LoadUint64(&c.received),
		"accepted", atomic.LoadUint64(&c.accepted),
		"errors", atomic.LoadUint64(&c.errors),
	)
}

// Metrics returns collector counters.
func (c *TCPCollector) Metrics() Metrics {
	return Metrics{
		Connections: atomic.LoadUint64(&c.connections),
		Received:    atomic.LoadUint64(&c.received),
		Accepted:    atomic.LoadUint64(&c.accepted),
		Errors:      atomic.LoadUint64(&c.errors),
	}
}

// ActiveConnections returns the number of open connections.
func (c *TCPCollector) ActiveConnections() int {
	return int(atomic.LoadInt32(&c.connCount))
}
