package connection

import (
	"context"
	"sync"
	"time"

	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/multiplexer"
	"github.com/go-zoox/ntun/network"
	"github.com/go-zoox/ntun/protocol"
)

const DefaultDialTimeout = 10 * time.Second

type DirectOutputConfig struct {
	DialTimeout time.Duration
	Logger      logging.Logger
}

// NewDirectOutput opens an outbound TCP connection for every CONNECT.
func NewDirectOutput(cfg *DirectOutputConfig) *Connection {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("connection", "direct")
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	return newConnection("direct", &directOutput{
		timeout: timeout,
		logger:  logger,
	}, logger)
}

type directOutput struct {
	timeout time.Duration
	logger  logging.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (d *directOutput) open(c *Connection) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ctx, d.cancel = context.WithCancel(context.Background())
	return nil
}

func (d *directOutput) connect(c *Connection, mux *multiplexer.Multiplexer, id protocol.ConnectionID, host string, port uint16) {
	d.mu.Lock()
	ctx := d.ctx
	d.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	lc := c.newLogical(id, mux)
	if !c.conns.SetIfAbsent(id, lc) {
		d.logger.Warnf("[connection: %s] duplicate connect to %s:%d", id, host, port)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		d.logger.Infof("[connection: %s] connecting to %s:%d", id, host, port)
		conn, err := network.Connect(ctx, &network.ConnectTarget{
			Type:    "tcp",
			Host:    host,
			Port:    int(port),
			Timeout: d.timeout,
			ID:      id.String(),
		})
		if err != nil {
			reason := network.Describe(err)
			d.logger.Warnf("[connection: %s] failed to connect %s:%d: %s", id, host, port, reason)
			lc.Close(reason, true)
			return
		}

		lc.Attach(conn)
	}()
}

func (d *directOutput) close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	return nil
}
