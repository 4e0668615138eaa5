package transport

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/go-zoox/ntun/cipher"
	"github.com/go-zoox/ntun/lifecycle"
	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/socket"
)

const (
	DefaultRetryDelay     = 3 * time.Second
	DefaultConnectTimeout = 3 * time.Second
	DefaultServerHost     = "0.0.0.0"
)

var ErrNoTurnServers = errors.New("no TURN servers")

// Transport owns at most one live session at a time. Sessions come and go
// while the transport stays WORKING; observers hear about each of them.
type Transport interface {
	Name() string
	Start() error
	Stop() error
	State() lifecycle.State
	Lifecycle() *lifecycle.Machine
	Session() *socket.Socket
	IsConnected() bool
	Subscribe(o *Observer) (unsubscribe func())
}

type Observer struct {
	// OnConnected runs before the first frame of the session is read.
	OnConnected    func(session *socket.Socket)
	OnDisconnected func(session *socket.Socket)
	OnError        func(err error)
}

// Options shape the sessions of every transport variant.
type Options struct {
	// Cipher encrypts every frame when set.
	Cipher            cipher.Cipher
	Middlewares       []socket.Middleware
	RateLimit         int64
	RateLimitInterval time.Duration
	ChunkSize         int
	MaxFrameSize      int
	Logger            logging.Logger
}

// Strategy is what varies between transports: how raw links are obtained.
type Strategy interface {
	// Open prepares resources such as listeners; errors fail Start.
	Open(ctx context.Context) error
	// Run produces raw links and hands them to link until ctx is done.
	Run(ctx context.Context, link Linker)
	Close() error
}

type Linker interface {
	// Link publishes raw as the session. ok is false when a session is
	// already live or the transport is stopping; the caller drops raw.
	Link(raw io.ReadWriteCloser, peer string) (done <-chan struct{}, ok bool)
	// Fail reports an error fatal for this transport and stops it.
	Fail(err error)
}
