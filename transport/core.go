package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/go-zoox/ntun/lifecycle"
	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/network"
	"github.com/go-zoox/ntun/socket"
)

// Core is the session-oriented transport shared by every variant.
type Core struct {
	name     string
	opts     Options
	strategy Strategy
	logger   logging.Logger
	machine  *lifecycle.Machine

	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	session   *socket.Socket
	observers []*observerEntry
	nextID    int
	wg        sync.WaitGroup
}

type observerEntry struct {
	id int
	o  *Observer
}

func newCore(name string, strategy Strategy, opts Options) *Core {
	logger := opts.Logger
	if logger == nil {
		logger = logging.New("transport", name)
	}

	return &Core{
		name:     name,
		opts:     opts,
		strategy: strategy,
		logger:   logger,
		machine:  lifecycle.New(name + " transport"),
	}
}

func (c *Core) Name() string {
	return c.name
}

func (c *Core) State() lifecycle.State {
	return c.machine.State()
}

func (c *Core) Lifecycle() *lifecycle.Machine {
	return c.machine
}

func (c *Core) Session() *socket.Socket {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Core) IsConnected() bool {
	return c.Session() != nil
}

// Addr is the listening address of server transports, nil otherwise.
func (c *Core) Addr() net.Addr {
	if a, ok := c.strategy.(interface{ Addr() net.Addr }); ok {
		return a.Addr()
	}
	return nil
}

func (c *Core) Start() error {
	if _, err := c.machine.Transition(lifecycle.EventStart); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.strategy.Open(ctx); err != nil {
		cancel()
		_, _ = c.machine.Transition(lifecycle.EventStopped)
		return fmt.Errorf("failed to start %s transport: %w", c.name, err)
	}

	c.mu.Lock()
	c.ctx, c.cancel = ctx, cancel
	c.mu.Unlock()

	if _, err := c.machine.Transition(lifecycle.EventStarted); err != nil {
		return err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.strategy.Run(ctx, c)
	}()

	c.logger.Infof("started")
	return nil
}

func (c *Core) Stop() error {
	if _, err := c.machine.Transition(lifecycle.EventStop); err != nil {
		return err
	}

	c.mu.Lock()
	cancel, session := c.cancel, c.session
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := c.strategy.Close()
	if session != nil {
		session.Close()
	}

	c.wg.Wait()

	if _, terr := c.machine.Transition(lifecycle.EventStopped); terr != nil {
		return terr
	}

	c.logger.Infof("stopped")
	return err
}

func (c *Core) Link(raw io.ReadWriteCloser, peer string) (<-chan struct{}, bool) {
	c.mu.Lock()
	if c.ctx == nil || c.ctx.Err() != nil || c.session != nil {
		c.mu.Unlock()
		return nil, false
	}

	session := socket.New(raw, c.socketOptions())
	c.session = session
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Infof("connected %s", peer)
	c.each(func(o *Observer) {
		if o.OnConnected != nil {
			o.OnConnected(session)
		}
	})

	done := make(chan struct{})
	go func() {
		defer c.wg.Done()
		defer close(done)

		if err := session.Serve(); err != nil {
			c.logger.Warnf("session with %s ended: %s", peer, network.Describe(err))
		} else {
			c.logger.Infof("disconnected %s", peer)
		}

		c.mu.Lock()
		if c.session == session {
			c.session = nil
		}
		c.mu.Unlock()
		session.Close()

		c.each(func(o *Observer) {
			if o.OnDisconnected != nil {
				o.OnDisconnected(session)
			}
		})
	}()

	return done, true
}

func (c *Core) Fail(err error) {
	c.logger.Errorf("%v", err)
	c.report(err)

	go func() {
		if serr := c.Stop(); serr != nil && !errors.Is(serr, lifecycle.ErrIllegalTransition) {
			c.logger.Warnf("failed to stop: %v", serr)
		}
	}()
}

func (c *Core) report(err error) {
	c.each(func(o *Observer) {
		if o.OnError != nil {
			o.OnError(err)
		}
	})
}

func (c *Core) socketOptions() *socket.Options {
	var middlewares []socket.Middleware
	if c.opts.Cipher != nil {
		middlewares = append(middlewares, socket.NewCipherMiddleware(c.opts.Cipher))
	}
	middlewares = append(middlewares, c.opts.Middlewares...)

	return &socket.Options{
		ChunkSize:         c.opts.ChunkSize,
		MaxFrameSize:      c.opts.MaxFrameSize,
		Middlewares:       middlewares,
		RateLimit:         c.opts.RateLimit,
		RateLimitInterval: c.opts.RateLimitInterval,
		Logger:            logging.With(c.logger, "socket"),
		OnError: func(err error) {
			if errors.Is(err, socket.ErrEncryption) {
				c.Fail(err)
				return
			}
			c.report(err)
		},
	}
}

func (c *Core) Subscribe(o *Observer) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.observers = append(c.observers, &observerEntry{id: id, o: o})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		for i, e := range c.observers {
			if e.id == id {
				c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
				return
			}
		}
	}
}

func (c *Core) each(fn func(o *Observer)) {
	c.mu.RLock()
	entries := append([]*observerEntry(nil), c.observers...)
	c.mu.RUnlock()

	for _, e := range entries {
		fn(e.o)
	}
}
