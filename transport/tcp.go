package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/network"
)

type TCPServerConfig struct {
	Host string
	Port int
	Options
}

type TCPClientConfig struct {
	Host           string
	Port           int
	RetryDelay     time.Duration
	MaxRetryDelay  time.Duration
	ConnectTimeout time.Duration
	Options
}

// NewTCPServer accepts one session at a time on Host:Port.
func NewTCPServer(cfg *TCPServerConfig) *Core {
	host := cfg.Host
	if host == "" {
		host = DefaultServerHost
	}

	opts := cfg.Options
	if opts.Logger == nil {
		opts.Logger = logging.New("transport", "tcp-server")
	}

	return newCore("tcp-server", &tcpServer{
		host:   host,
		port:   cfg.Port,
		logger: opts.Logger,
	}, opts)
}

// NewTCPClient dials Host:Port and redials after failures and session loss.
func NewTCPClient(cfg *TCPClientConfig) *Core {
	opts := cfg.Options
	if opts.Logger == nil {
		opts.Logger = logging.New("transport", "tcp-client")
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	return newCore("tcp-client", &tcpClient{
		host:          cfg.Host,
		port:          cfg.Port,
		retryDelay:    cfg.RetryDelay,
		maxRetryDelay: cfg.MaxRetryDelay,
		timeout:       timeout,
		logger:        opts.Logger,
	}, opts)
}

type tcpServer struct {
	host   string
	port   int
	logger logging.Logger

	mu       sync.Mutex
	listener net.Listener
}

func (s *tcpServer) Open(ctx context.Context) error {
	listener, err := network.Listen(&network.ServeConfig{
		Type: "tcp",
		Host: s.host,
		Port: s.port,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	return nil
}

func (s *tcpServer) Run(ctx context.Context, link Linker) {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warnf("failed to accept: %s", network.Describe(err))
			continue
		}

		peer := fmt.Sprintf("%s -- %s", conn.LocalAddr(), conn.RemoteAddr())
		if _, ok := link.Link(conn, peer); !ok {
			s.logger.Warnf("drop connection %s: session already established", peer)
			conn.Close()
		}
	}
}

func (s *tcpServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.listener = nil
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *tcpServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

type tcpClient struct {
	host          string
	port          int
	retryDelay    time.Duration
	maxRetryDelay time.Duration
	timeout       time.Duration
	logger        logging.Logger
}

func (c *tcpClient) Open(ctx context.Context) error {
	if c.host == "" {
		return fmt.Errorf("host is required")
	}
	if c.port <= 0 || c.port > 65535 {
		return fmt.Errorf("invalid port: %d", c.port)
	}
	return nil
}

func (c *tcpClient) Run(ctx context.Context, link Linker) {
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))

	redial(ctx, link, c.logger, newBackoff(c.retryDelay, c.maxRetryDelay), func(ctx context.Context) (io.ReadWriteCloser, string, error) {
		c.logger.Debugf("connecting to %s", addr)

		conn, err := network.Connect(ctx, &network.ConnectTarget{
			Type:    "tcp",
			Host:    c.host,
			Port:    c.port,
			Timeout: c.timeout,
		})
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("%s -- %s", conn.LocalAddr(), conn.RemoteAddr()), nil
	})
}

func (c *tcpClient) Close() error {
	return nil
}
