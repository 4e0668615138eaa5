package connection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"

	"github.com/armon/go-socks5"
	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/multiplexer"
	"github.com/go-zoox/ntun/network"
	"github.com/go-zoox/ntun/protocol"
)

const (
	DefaultInputHost = "127.0.0.1"
	DefaultInputPort = 8080
)

type Socks5InputConfig struct {
	Host string
	// Port 0 picks a free port, see Connection.Addr.
	Port   int
	Logger logging.Logger
}

// NewSocks5Input accepts SOCKS5 CONNECT requests and sends them through
// the tunnel. Requests are denied while no session is live.
func NewSocks5Input(cfg *Socks5InputConfig) *Connection {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("connection", "socks5")
	}

	host := cfg.Host
	if host == "" {
		host = DefaultInputHost
	}

	return newConnection("socks5", &socks5Input{
		host:   host,
		port:   cfg.Port,
		logger: logger,
	}, logger)
}

type clientAddrKey struct{}

type socks5Input struct {
	host   string
	port   int
	logger logging.Logger

	mu       sync.Mutex
	conn     *Connection
	listener net.Listener
	clients  map[net.Conn]struct{}
	wg       sync.WaitGroup
}

func (s *socks5Input) open(c *Connection) error {
	server, err := socks5.New(&socks5.Config{
		Rules:    &sessionRule{input: s},
		Resolver: remoteResolver{},
		Dial:     s.dial,
		Logger:   log.New(&logWriter{logger: s.logger}, "", 0),
	})
	if err != nil {
		return fmt.Errorf("failed to create socks5 server: %w", err)
	}

	listener, err := network.Listen(&network.ServeConfig{
		Type: "tcp",
		Host: s.host,
		Port: s.port,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = c
	s.listener = listener
	s.clients = map[net.Conn]struct{}{}
	s.mu.Unlock()

	s.logger.Infof("socks5 listening at %s", listener.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serve(listener, server)
	}()
	return nil
}

func (s *socks5Input) serve(listener net.Listener, server *socks5.Server) {
	for {
		client, err := listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Warnf("failed to accept: %s", network.Describe(err))
			}
			return
		}

		s.mu.Lock()
		s.clients[client] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.clients, client)
				s.mu.Unlock()
				client.Close()
			}()

			if err := server.ServeConn(client); err != nil {
				s.logger.Debugf("socks5 client %s: %v", client.RemoteAddr(), err)
			}
		}()
	}
}

// dial is called by the socks5 server for an allowed CONNECT. The returned
// pipe end is proxied to the client; the other end feeds the tunnel.
func (s *socks5Input) dial(ctx context.Context, _, addr string) (net.Conn, error) {
	s.mu.Lock()
	c, listener := s.conn, s.listener
	s.mu.Unlock()
	if c == nil || listener == nil {
		return nil, fmt.Errorf("socks5 input is stopped")
	}

	mux := c.multiplexer()
	if mux == nil {
		return nil, multiplexer.ErrNotConnected
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %v", portStr, err)
	}

	client, _ := ctx.Value(clientAddrKey{}).(string)
	id := NewID(listener.Addr().String(), client)

	local, remote := net.Pipe()
	lc := c.newLogical(id, mux)
	if !c.conns.SetIfAbsent(id, lc) {
		local.Close()
		remote.Close()
		return nil, fmt.Errorf("connection %s already exists", id)
	}

	if err := mux.SendConnect(id, host, uint16(port)); err != nil {
		c.conns.Remove(id)
		local.Close()
		remote.Close()
		return nil, fmt.Errorf("failed to send connect: %w", err)
	}

	s.logger.Infof("[connection: %s] %s -> %s", id, client, addr)
	lc.Attach(local)
	return &pipeConn{Conn: remote}, nil
}

func (s *socks5Input) close() error {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.conn = nil
	clients := make([]net.Conn, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	for _, client := range clients {
		client.Close()
	}
	s.wg.Wait()
	return err
}

func (s *socks5Input) connect(c *Connection, mux *multiplexer.Multiplexer, id protocol.ConnectionID, host string, port uint16) {
	s.logger.Warnf("[connection: %s] ignore connect to %s:%d on an input connection", id, host, port)
}

func (s *socks5Input) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// sessionRule allows CONNECT only while a session is live and remembers
// the client address for the connection id.
type sessionRule struct {
	input *socks5Input
}

func (r *sessionRule) Allow(ctx context.Context, req *socks5.Request) (context.Context, bool) {
	if req.Command != socks5.ConnectCommand {
		r.input.logger.Infof("deny socks5 command %d: only CONNECT is supported", req.Command)
		return ctx, false
	}

	r.input.mu.Lock()
	c := r.input.conn
	r.input.mu.Unlock()
	if c == nil || !c.IsConnected() {
		r.input.logger.Infof("deny %s: transport is not connected", req.DestAddr)
		return ctx, false
	}

	client := ""
	if req.RemoteAddr != nil {
		client = req.RemoteAddr.String()
	}
	return context.WithValue(ctx, clientAddrKey{}, client), true
}

// remoteResolver leaves host names alone; the output side resolves them.
type remoteResolver struct{}

func (remoteResolver) Resolve(ctx context.Context, name string) (context.Context, net.IP, error) {
	return ctx, nil, nil
}

// pipeConn is the socks5 server's view of a tunnelled target.
type pipeConn struct {
	net.Conn
}

func (p *pipeConn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4zero, Port: 0}
}

func (p *pipeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4zero, Port: 0}
}

// CloseWrite ends the pipe once the client stopped sending; there is no
// half-close across the tunnel.
func (p *pipeConn) CloseWrite() error {
	return p.Conn.Close()
}

type logWriter struct {
	logger logging.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.logger.Debugf("%s", bytes.TrimSpace(p))
	return len(p), nil
}
