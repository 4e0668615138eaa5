package connection

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/go-zoox/ntun/lifecycle"
	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/manager"
	"github.com/go-zoox/ntun/multiplexer"
	"github.com/go-zoox/ntun/protocol"
	"github.com/go-zoox/ntun/socket"
	"github.com/go-zoox/ntun/transport"
)

var ErrNoTransport = errors.New("connection has no transport")

const closeReasonSessionLost = "session closed"

// role is what differs between input and output connections.
type role interface {
	open(c *Connection) error
	connect(c *Connection, mux *multiplexer.Multiplexer, id protocol.ConnectionID, host string, port uint16)
	close() error
}

// Connection fans logical connections in and out of the current transport
// session through one multiplexer per session.
type Connection struct {
	name    string
	role    role
	logger  logging.Logger
	machine *lifecycle.Machine
	conns   *manager.Manager[protocol.ConnectionID, *LogicalConnection]

	mu          sync.RWMutex
	transport   transport.Transport
	session     *socket.Socket
	mux         *multiplexer.Multiplexer
	unsubscribe func()
}

func newConnection(name string, r role, logger logging.Logger) *Connection {
	if logger == nil {
		logger = logging.New("connection", name)
	}

	return &Connection{
		name:    name,
		role:    r,
		logger:  logger,
		machine: lifecycle.New(name + " connection"),
		conns:   manager.New[protocol.ConnectionID, *LogicalConnection](),
	}
}

func (c *Connection) Name() string {
	return c.name
}

func (c *Connection) State() lifecycle.State {
	return c.machine.State()
}

func (c *Connection) Lifecycle() *lifecycle.Machine {
	return c.machine
}

// SetTransport binds the transport whose sessions carry this connection.
func (c *Connection) SetTransport(t transport.Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = t
}

func (c *Connection) Transport() transport.Transport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transport
}

// IsConnected reports whether a session is bound.
func (c *Connection) IsConnected() bool {
	return c.multiplexer() != nil
}

// Len is the number of live logical connections.
func (c *Connection) Len() int {
	return c.conns.Len()
}

func (c *Connection) Get(id protocol.ConnectionID) (*LogicalConnection, error) {
	return c.conns.Get(id)
}

// Addr is the listening address of input connections, nil otherwise.
func (c *Connection) Addr() net.Addr {
	if a, ok := c.role.(interface{ Addr() net.Addr }); ok {
		return a.Addr()
	}
	return nil
}

func (c *Connection) Start() error {
	if _, err := c.machine.Transition(lifecycle.EventStart); err != nil {
		return err
	}

	t := c.Transport()
	if t == nil {
		_, _ = c.machine.Transition(lifecycle.EventStopped)
		return ErrNoTransport
	}

	unsubscribe := t.Subscribe(&transport.Observer{
		OnConnected:    c.attach,
		OnDisconnected: c.detach,
	})
	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	if session := t.Session(); session != nil {
		c.attach(session)
	}

	if err := c.role.open(c); err != nil {
		unsubscribe()
		c.release()
		_, _ = c.machine.Transition(lifecycle.EventStopped)
		return fmt.Errorf("failed to start %s connection: %w", c.name, err)
	}

	if _, err := c.machine.Transition(lifecycle.EventStarted); err != nil {
		return err
	}

	c.logger.Infof("started")
	return nil
}

func (c *Connection) Stop() error {
	if _, err := c.machine.Transition(lifecycle.EventStop); err != nil {
		return err
	}

	aborted := c.conns.Clear()
	for _, lc := range aborted {
		lc.Close(protocol.CloseReasonAbort, true)
	}
	if len(aborted) > 0 {
		c.logger.Infof("aborted %d connection(s)", len(aborted))
	}

	err := c.role.close()

	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	c.release()

	if _, terr := c.machine.Transition(lifecycle.EventStopped); terr != nil {
		return terr
	}

	c.logger.Infof("stopped")
	return err
}

func (c *Connection) attach(session *socket.Socket) {
	var mux *multiplexer.Multiplexer
	mux = multiplexer.New(session, &multiplexer.Handlers{
		OnConnect: func(id protocol.ConnectionID, host string, port uint16) {
			c.role.connect(c, mux, id, host, port)
		},
		OnClose: c.handleClose,
		OnData:  c.handleData,
	}, logging.With(c.logger, "multiplexer"))

	c.mu.Lock()
	previous := c.mux
	c.session, c.mux = session, mux
	c.mu.Unlock()

	if previous != nil {
		previous.Detach()
		c.purge()
	}

	session.SetHandler(mux.HandleBuffer)
	c.logger.Debugf("session attached")
}

func (c *Connection) detach(session *socket.Socket) {
	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return
	}
	mux := c.mux
	c.session, c.mux = nil, nil
	c.mu.Unlock()

	mux.Detach()
	c.purge()
	c.logger.Debugf("session detached")
}

// release detaches without waiting for the transport.
func (c *Connection) release() {
	c.mu.Lock()
	mux := c.mux
	c.session, c.mux = nil, nil
	c.mu.Unlock()

	if mux != nil {
		mux.Detach()
	}
	c.purge()
}

func (c *Connection) purge() {
	for _, lc := range c.conns.Clear() {
		lc.Close(closeReasonSessionLost, false)
	}
}

func (c *Connection) multiplexer() *multiplexer.Multiplexer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mux
}

func (c *Connection) newLogical(id protocol.ConnectionID, mux *multiplexer.Multiplexer) *LogicalConnection {
	return newLogicalConnection(id, mux, c.logger, func(lc *LogicalConnection) {
		c.conns.RemoveIf(lc.ID, func(current *LogicalConnection) bool {
			return current == lc
		})
	})
}

func (c *Connection) handleClose(id protocol.ConnectionID, reason string) {
	lc, ok := c.conns.Remove(id)
	if !ok {
		c.logger.Debugf("close for unknown connection %s", id)
		return
	}
	lc.Finish(reason)
}

func (c *Connection) handleData(id protocol.ConnectionID, data []byte) {
	lc, err := c.conns.Get(id)
	if err != nil {
		c.logger.Debugf("data for unknown connection %s", id)
		return
	}
	lc.Push(data)
}
