package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-zoox/ntun/connection"
	"github.com/go-zoox/ntun/lifecycle"
	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/transport"
	nanoid "github.com/matoous/go-nanoid/v2"
)

type NodeConfig struct {
	Name       string
	Connection *connection.Connection
	Transport  transport.Transport
	Logger     logging.Logger
}

// Node composes one connection with one transport and drives both.
type Node struct {
	ID   string
	Name string

	logger  logging.Logger
	machine *lifecycle.Machine

	mu         sync.RWMutex
	connection *connection.Connection
	transport  transport.Transport
	failed     chan error
	cleanup    []func()
}

func New(cfg *NodeConfig) (*Node, error) {
	id, err := nanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate node id: %w", err)
	}

	name := cfg.Name
	if name == "" {
		name = DefaultNodeName
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("node", name)
	}

	return &Node{
		ID:         id,
		Name:       name,
		logger:     logger,
		machine:    lifecycle.New("node " + name),
		connection: cfg.Connection,
		transport:  cfg.Transport,
	}, nil
}

func (n *Node) State() lifecycle.State {
	return n.machine.State()
}

func (n *Node) Lifecycle() *lifecycle.Machine {
	return n.machine
}

func (n *Node) SetConnection(c *connection.Connection) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connection = c
}

func (n *Node) SetTransport(t transport.Transport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transport = t
}

func (n *Node) Connection() *connection.Connection {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.connection
}

func (n *Node) Transport() transport.Transport {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.transport
}

func (n *Node) Start() error {
	n.mu.RLock()
	c, t := n.connection, n.transport
	n.mu.RUnlock()

	switch {
	case c == nil:
		return ErrNoConnection
	case t == nil:
		return ErrNoTransport
	}

	if _, err := n.machine.Transition(lifecycle.EventStart); err != nil {
		return err
	}

	failed := make(chan error, 1)
	var lastErr error
	var errMu sync.Mutex
	unsubscribeErrors := t.Subscribe(&transport.Observer{
		OnError: func(err error) {
			errMu.Lock()
			lastErr = err
			errMu.Unlock()
		},
	})
	unsubscribeState := t.Lifecycle().Subscribe(func(ev lifecycle.Event, s lifecycle.State) {
		if s != lifecycle.Idle {
			return
		}
		if state := n.State(); state == lifecycle.Stopping || state == lifecycle.Idle {
			return
		}

		errMu.Lock()
		err := lastErr
		errMu.Unlock()
		if err == nil {
			err = fmt.Errorf("%s transport stopped", t.Name())
		}

		select {
		case failed <- err:
		default:
		}
	})

	c.SetTransport(t)
	if err := c.Start(); err != nil {
		unsubscribeErrors()
		unsubscribeState()
		_, _ = n.machine.Transition(lifecycle.EventStopped)
		return err
	}
	if err := t.Start(); err != nil {
		unsubscribeErrors()
		unsubscribeState()
		if serr := c.Stop(); serr != nil {
			n.logger.Warnf("failed to stop connection: %v", serr)
		}
		_, _ = n.machine.Transition(lifecycle.EventStopped)
		return err
	}

	n.mu.Lock()
	n.failed = failed
	n.cleanup = []func(){unsubscribeErrors, unsubscribeState}
	n.mu.Unlock()

	if _, err := n.machine.Transition(lifecycle.EventStarted); err != nil {
		return err
	}

	n.logger.Infof("started %s connection over %s transport (id: %s)", c.Name(), t.Name(), n.ID)
	return nil
}

// Stop stops the connection first so peers receive CLOSE while the session
// is still live, then the transport.
func (n *Node) Stop() error {
	if _, err := n.machine.Transition(lifecycle.EventStop); err != nil {
		return err
	}

	n.mu.Lock()
	c, t := n.connection, n.transport
	cleanup := n.cleanup
	n.cleanup = nil
	n.mu.Unlock()

	for _, fn := range cleanup {
		fn()
	}

	var errs []error
	if err := c.Stop(); err != nil && !errors.Is(err, lifecycle.ErrIllegalTransition) {
		errs = append(errs, err)
	}
	if err := t.Stop(); err != nil && !errors.Is(err, lifecycle.ErrIllegalTransition) {
		errs = append(errs, err)
	}

	if _, err := n.machine.Transition(lifecycle.EventStopped); err != nil {
		errs = append(errs, err)
	}

	n.logger.Infof("stopped")
	return errors.Join(errs...)
}

// Failed receives the error that stopped the transport on its own.
func (n *Node) Failed() <-chan error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.failed
}

// Run starts the node and stops it when ctx is done or the transport stops
// on a fatal error, which is then returned.
func (n *Node) Run(ctx context.Context) error {
	if err := n.Start(); err != nil {
		return err
	}

	var cause error
	select {
	case <-ctx.Done():
	case cause = <-n.Failed():
		n.logger.Errorf("transport failed: %v", cause)
	}

	if err := n.Stop(); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
