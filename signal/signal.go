package signal

import (
	"context"
	"errors"
)

var (
	ErrNotStarted         = errors.New("signal server is not started")
	ErrUnsupportedCommand = errors.New("unsupported signal command")
)

type Handlers struct {
	OnStarted func()
	// OnStopped receives nil after Stop and the cause otherwise.
	OnStopped func(err error)
	// OnReady fires once the own participant id and roster are known.
	OnReady        func()
	OnNotification func(n *Notification)
	OnError        func(err error)
}

// SignalServer is a relay participant: an authenticated mailbox shared by
// everyone who joined the same room.
type SignalServer interface {
	Start() error
	Stop() error
	SetHandlers(h *Handlers)
	ParticipantID() string
	// Participants is the roster known at ready time, without self.
	Participants() []Participant
	ICEServers() []ICEServer
	SendCommand(name string, payload interface{}) error
}

// Dialer creates an unstarted SignalServer for a join id.
type Dialer func(ctx context.Context, joinID string) (SignalServer, error)

func (h *Handlers) started() {
	if h != nil && h.OnStarted != nil {
		h.OnStarted()
	}
}

func (h *Handlers) stopped(err error) {
	if h != nil && h.OnStopped != nil {
		h.OnStopped(err)
	}
}

func (h *Handlers) ready() {
	if h != nil && h.OnReady != nil {
		h.OnReady()
	}
}

func (h *Handlers) notify(n *Notification) {
	if h != nil && h.OnNotification != nil {
		h.OnNotification(n)
	}
}

func (h *Handlers) fail(err error) {
	if h != nil && h.OnError != nil {
		h.OnError(err)
	}
}
