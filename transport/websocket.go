package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/network"
	"github.com/gorilla/websocket"
)

const heartbeatInterval = 15 * time.Second

type WebSocketServerConfig struct {
	Host string
	Port int
	Path string
	Options
}

type WebSocketClientConfig struct {
	URL            string
	RetryDelay     time.Duration
	MaxRetryDelay  time.Duration
	ConnectTimeout time.Duration
	Options
}

func NewWebSocketServer(cfg *WebSocketServerConfig) *Core {
	host := cfg.Host
	if host == "" {
		host = DefaultServerHost
	}
	path := cfg.Path
	if path == "" {
		path = "/"
	}

	opts := cfg.Options
	if opts.Logger == nil {
		opts.Logger = logging.New("transport", "ws-server")
	}

	return newCore("ws-server", &wsServer{
		host:   host,
		port:   cfg.Port,
		path:   path,
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}, opts)
}

func NewWebSocketClient(cfg *WebSocketClientConfig) *Core {
	opts := cfg.Options
	if opts.Logger == nil {
		opts.Logger = logging.New("transport", "ws-client")
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	return newCore("ws-client", &wsClient{
		url:           cfg.URL,
		retryDelay:    cfg.RetryDelay,
		maxRetryDelay: cfg.MaxRetryDelay,
		logger:        opts.Logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
			ReadBufferSize:   32 * 1024,
			WriteBufferSize:  32 * 1024,
		},
	}, opts)
}

type wsServer struct {
	host     string
	port     int
	path     string
	logger   logging.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func (s *wsServer) Open(ctx context.Context) error {
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

func (s *wsServer) Run(ctx context.Context, link Linker) {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warnf("failed to upgrade %s: %v", r.RemoteAddr, err)
			return
		}

		ws := newWSStream(conn)
		peer := fmt.Sprintf("%s -- %s", conn.LocalAddr(), conn.RemoteAddr())
		if _, ok := link.Link(ws, peer); !ok {
			s.logger.Warnf("drop connection %s: session already established", peer)
			ws.Close()
		}
	})

	server := &http.Server{Handler: mux}

	s.mu.Lock()
	listener := s.listener
	s.server = server
	s.mu.Unlock()
	if listener == nil {
		return
	}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		link.Fail(fmt.Errorf("websocket server failed: %w", err))
	}
}

func (s *wsServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		s.server.Close()
		s.server = nil
	}
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
	return nil
}

func (s *wsServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

type wsClient struct {
	url           string
	retryDelay    time.Duration
	maxRetryDelay time.Duration
	logger        logging.Logger
	dialer        *websocket.Dialer
}

func (c *wsClient) Open(ctx context.Context) error {
	if c.url == "" {
		return fmt.Errorf("url is required")
	}
	return nil
}

func (c *wsClient) Run(ctx context.Context, link Linker) {
	redial(ctx, link, c.logger, newBackoff(c.retryDelay, c.maxRetryDelay), func(ctx context.Context) (io.ReadWriteCloser, string, error) {
		c.logger.Debugf("connecting to %s", c.url)

		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			return nil, "", err
		}
		return newWSStream(conn), fmt.Sprintf("%s -- %s", conn.LocalAddr(), c.url), nil
	})
}

func (c *wsClient) Close() error {
	return nil
}

// wsStream reads websocket messages as one byte stream and writes every
// chunk as a binary message, pinging the peer while open.
type wsStream struct {
	conn   *websocket.Conn
	reader io.Reader

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

func newWSStream(conn *websocket.Conn) *wsStream {
	s := &wsStream{
		conn: conn,
		done: make(chan struct{}),
	}
	go s.heartbeat()
	return s
}

func (s *wsStream) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(heartbeatInterval)); err != nil {
				return
			}
		}
	}
}

func (s *wsStream) Read(b []byte) (int, error) {
	for {
		if s.reader == nil {
			typ, r, err := s.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if typ != websocket.BinaryMessage && typ != websocket.TextMessage {
				continue
			}
			s.reader = r
		}

		n, err := s.reader.Read(b)
		if errors.Is(err, io.EOF) {
			s.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(b []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (s *wsStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = s.conn.Close()
	})
	return err
}
