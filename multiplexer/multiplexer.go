package multiplexer

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/protocol"
)

// ErrNotConnected is returned once the multiplexer's session has ended.
var ErrNotConnected = errors.New("multiplexer is not connected")

// Sender is the session a multiplexer writes to.
type Sender interface {
	WriteBuffer(buf []byte) error
}

type Handlers struct {
	OnConnect func(id protocol.ConnectionID, host string, port uint16)
	OnClose   func(id protocol.ConnectionID, reason string)
	OnData    func(id protocol.ConnectionID, data []byte)
}

// Multiplexer encodes logical connection messages onto one session and
// dispatches decoded inbound messages to its handlers.
type Multiplexer struct {
	session  Sender
	handlers Handlers
	logger   logging.Logger
	detached atomic.Bool
}

func New(session Sender, handlers *Handlers, logger logging.Logger) *Multiplexer {
	m := &Multiplexer{
		session: session,
		logger:  logger,
	}
	if handlers != nil {
		m.handlers = *handlers
	}
	if m.logger == nil {
		m.logger = logging.New("multiplexer")
	}
	return m
}

func (m *Multiplexer) IsConnected() bool {
	return !m.detached.Load()
}

// Detach ends the binding; later sends fail with ErrNotConnected and inbound
// buffers are ignored.
func (m *Multiplexer) Detach() {
	m.detached.Store(true)
}

func (m *Multiplexer) SendConnect(id protocol.ConnectionID, host string, port uint16) error {
	return m.send(protocol.NewConnect(id, host, port))
}

func (m *Multiplexer) SendClose(id protocol.ConnectionID, reason string) error {
	return m.send(protocol.NewClose(id, reason))
}

func (m *Multiplexer) SendData(id protocol.ConnectionID, data []byte) error {
	return m.send(protocol.NewData(id, data))
}

func (m *Multiplexer) send(msg *protocol.Message) error {
	if !m.IsConnected() {
		return ErrNotConnected
	}

	buf, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Type, err)
	}

	m.logger.Debugf("send %s", msg)
	return m.session.WriteBuffer(buf)
}

// HandleBuffer decodes one inbound frame and dispatches it.
func (m *Multiplexer) HandleBuffer(buf []byte) {
	if !m.IsConnected() {
		return
	}

	msg, err := protocol.Decode(buf)
	if err != nil {
		m.logger.Warnf("drop message: %v", err)
		return
	}

	m.logger.Debugf("receive %s", msg)

	switch msg.Type {
	case protocol.MessageTypeConnect:
		if m.handlers.OnConnect != nil {
			m.handlers.OnConnect(msg.ConnectionID, msg.Host, msg.Port)
		}
	case protocol.MessageTypeClose:
		if m.handlers.OnClose != nil {
			m.handlers.OnClose(msg.ConnectionID, msg.Reason)
		}
	case protocol.MessageTypeData:
		if m.handlers.OnData != nil {
			m.handlers.OnData(msg.ConnectionID, msg.Data)
		}
	}
}
