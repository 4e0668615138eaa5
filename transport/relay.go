package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-zoox/ntun/cipher"
	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/signal"
)

const DefaultRelayChunkSize = 16 * 1024

type RelayConfig struct {
	JoinID string
	Dial   signal.Dialer
	// Cipher seals participant messages; defaults to cipher.Default().
	Cipher cipher.Cipher
	Options
}

// NewRelay carries session bytes as BUFFER messages through the relay.
func NewRelay(cfg *RelayConfig) *Core {
	opts := cfg.Options
	if opts.Logger == nil {
		opts.Logger = logging.New("transport", "relay")
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultRelayChunkSize
	}

	r := newRelay(cfg, opts.Logger)
	r.carrier = &bufferCarrier{relay: r}
	return newCore("relay", r, opts)
}

// carrier moves session bytes once the election bound an opponent.
type carrier interface {
	// prepare runs after the signal server is ready, before the election.
	prepare(ctx context.Context) error
	connected(opponent string, accepted bool)
	message(from string, msg *ParticipantMessage)
	disconnected(opponent string)
	close()
}

type relay struct {
	joinID  string
	dial    signal.Dialer
	cipher  cipher.Cipher
	logger  logging.Logger
	carrier carrier

	election *Election

	mu     sync.Mutex
	server signal.SignalServer
	ctx    context.Context
	link   Linker
}

func newRelay(cfg *RelayConfig, logger logging.Logger) *relay {
	c := cfg.Cipher
	if c == nil {
		c = cipher.Default()
	}

	r := &relay{
		joinID: cfg.JoinID,
		dial:   cfg.Dial,
		cipher: c,
		logger: logger,
	}
	r.election = NewElection(&ElectionConfig{
		Send:           r.sendTo,
		OnConnected:    func(opponent string, accepted bool) { r.carrier.connected(opponent, accepted) },
		OnDisconnected: func(opponent string) { r.carrier.disconnected(opponent) },
		OnMessage:      func(from string, msg *ParticipantMessage) { r.carrier.message(from, msg) },
		Logger:         logging.With(logger, "election"),
	})
	return r
}

func (r *relay) Open(ctx context.Context) error {
	if r.joinID == "" {
		return fmt.Errorf("join id is required")
	}
	if r.dial == nil {
		return fmt.Errorf("signal server dialer is required")
	}

	server, err := r.dial(ctx, r.joinID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.server = server
	r.mu.Unlock()
	return nil
}

func (r *relay) Run(ctx context.Context, link Linker) {
	r.mu.Lock()
	server := r.server
	r.ctx, r.link = ctx, link
	r.mu.Unlock()
	if server == nil {
		return
	}

	server.SetHandlers(&signal.Handlers{
		OnStarted: func() {
			r.logger.Debugf("signal server started")
		},
		OnReady: func() {
			if err := r.carrier.prepare(ctx); err != nil {
				link.Fail(err)
				return
			}

			var roster []string
			for _, p := range server.Participants() {
				roster = append(roster, p.ID)
			}
			r.logger.Infof("joined %s as %s, %d participant(s) in room", r.joinID, server.ParticipantID(), len(roster))
			r.election.Reset(server.ParticipantID(), roster)
		},
		OnNotification: func(n *signal.Notification) {
			switch n.Type {
			case signal.NotificationRegisteredPeer:
				r.election.Join(n.ParticipantID)
			case signal.NotificationHungup:
				r.election.Leave(n.ParticipantID)
			case signal.NotificationCustomData:
				msg, err := r.open(n.Data)
				if err != nil {
					r.logger.Infof("bad message from participant %s: %v", n.ParticipantID, err)
					return
				}
				r.election.Receive(n.ParticipantID, msg)
			}
		},
		OnError: func(err error) {
			r.logger.Warnf("signal server error: %v", err)
		},
		OnStopped: func(err error) {
			r.election.Stop()
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				err = fmt.Errorf("connection closed")
			}
			link.Fail(fmt.Errorf("signal server stopped: %w", err))
		},
	})

	if err := server.Start(); err != nil {
		link.Fail(fmt.Errorf("failed to start signal server: %w", err))
		return
	}

	<-ctx.Done()
}

func (r *relay) Close() error {
	r.mu.Lock()
	server := r.server
	r.server = nil
	r.mu.Unlock()

	r.election.Stop()
	r.carrier.close()

	if server != nil {
		if err := server.Stop(); err != nil && !errors.Is(err, signal.ErrNotStarted) {
			return err
		}
	}
	return nil
}

func (r *relay) sendTo(to string, msg *ParticipantMessage) error {
	r.mu.Lock()
	server := r.server
	r.mu.Unlock()
	if server == nil {
		return signal.ErrNotStarted
	}

	data, err := r.seal(msg)
	if err != nil {
		return err
	}
	return server.SendCommand(signal.CommandCustomData, &signal.CustomData{
		ParticipantID: to,
		Data:          data,
	})
}

func (r *relay) seal(msg *ParticipantMessage) (string, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode participant message: %w", err)
	}

	sealed, err := r.cipher.Encrypt(raw)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt participant message: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (r *relay) open(data string) (*ParticipantMessage, error) {
	sealed, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}

	raw, err := r.cipher.Decrypt(sealed)
	if err != nil {
		return nil, err
	}

	var msg ParticipantMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid participant message: %w", err)
	}
	return &msg, nil
}

func (r *relay) linker() Linker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.link
}

// bufferCarrier sends session bytes as base64 BUFFER messages.
type bufferCarrier struct {
	relay *relay

	mu     sync.Mutex
	stream *stream
}

func (c *bufferCarrier) prepare(ctx context.Context) error {
	return nil
}

func (c *bufferCarrier) connected(opponent string, accepted bool) {
	election := c.relay.election
	st := newStream(func(b []byte) error {
		return election.SendTo(opponent, &ParticipantMessage{
			Type:   MessageBuffer,
			Buffer: base64.StdEncoding.EncodeToString(b),
		})
	}, nil)

	c.mu.Lock()
	previous := c.stream
	c.stream = st
	c.mu.Unlock()
	if previous != nil {
		previous.Close()
	}

	link := c.relay.linker()
	if link == nil {
		st.Close()
		return
	}
	if _, ok := link.Link(st, "participant "+opponent); !ok {
		c.relay.logger.Warnf("drop opponent %s: session already established", opponent)
		st.Close()
	}
}

func (c *bufferCarrier) message(from string, msg *ParticipantMessage) {
	if msg.Type != MessageBuffer {
		c.relay.logger.Debugf("ignore %s from %s", msg.Type, from)
		return
	}

	data, err := base64.StdEncoding.DecodeString(msg.Buffer)
	if err != nil {
		c.relay.logger.Infof("bad buffer from participant %s: %v", from, err)
		return
	}

	c.mu.Lock()
	st := c.stream
	c.mu.Unlock()
	if st != nil {
		st.Push(data)
	}
}

func (c *bufferCarrier) disconnected(opponent string) {
	c.close()
}

func (c *bufferCarrier) close() {
	c.mu.Lock()
	st := c.stream
	c.stream = nil
	c.mu.Unlock()

	if st != nil {
		st.Close()
	}
}
