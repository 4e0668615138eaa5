package socket

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/ratelimit"
)

var (
	// ErrEncryption wraps outbound middleware failures; it is fatal for the
	// owning transport.
	ErrEncryption = errors.New("failed to perform out buffer")
	ErrClosed     = errors.New("socket closed")
)

const readBufferSize = 32 * 1024

type Options struct {
	ChunkSize    int
	MaxFrameSize int
	Middlewares  []Middleware
	// RateLimit paces raw writes in bytes per second, 0 disables it.
	RateLimit         int64
	RateLimitInterval time.Duration
	// OnError receives errors that cannot be returned to a caller: dropped
	// inbound frames and ErrEncryption.
	OnError func(err error)
	Logger  logging.Logger
}

// Socket frames payloads over one raw duplex and runs them through the
// middleware chain.
type Socket struct {
	raw      io.ReadWriteCloser
	opts     Options
	logger   logging.Logger
	limiter  *ratelimit.Limiter
	handler  atomic.Pointer[func([]byte)]
	writeMu  sync.Mutex
	closed   chan struct{}
	closeErr error
	once     sync.Once
}

func New(raw io.ReadWriteCloser, opts *Options) *Socket {
	s := &Socket{
		raw:    raw,
		closed: make(chan struct{}),
	}
	if opts != nil {
		s.opts = *opts
	}
	if s.opts.ChunkSize <= 0 {
		s.opts.ChunkSize = DefaultChunkSize
	}
	if s.opts.MaxFrameSize <= 0 {
		s.opts.MaxFrameSize = DefaultMaxFrameSize
	}
	s.logger = s.opts.Logger
	if s.logger == nil {
		s.logger = logging.New("socket")
	}

	s.limiter = ratelimit.New(s.opts.RateLimit, s.writeRaw, &ratelimit.Options{
		Interval: s.opts.RateLimitInterval,
		Logger:   s.logger,
		OnError: func(err error) {
			s.logger.Warnf("paced write failed: %v", err)
			s.Close()
		},
	})

	return s
}

// SetHandler sets the receiver of decoded inbound payloads.
func (s *Socket) SetHandler(fn func(buf []byte)) {
	if fn == nil {
		s.handler.Store(nil)
		return
	}
	s.handler.Store(&fn)
}

// WriteBuffer runs buf through the middlewares and writes it as one frame.
func (s *Socket) WriteBuffer(buf []byte) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	payload := buf
	for _, m := range s.opts.Middlewares {
		var err error
		if payload, err = m.PerformOutBuffer(payload); err != nil {
			err = fmt.Errorf("%w: %v", ErrEncryption, err)
			s.report(err)
			return err
		}
	}

	header, err := EncodeHeader(len(payload))
	if err != nil {
		return err
	}

	if err := s.limiter.Send(header); err != nil {
		s.Close()
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	for _, chunk := range Split(payload, s.opts.ChunkSize) {
		if err := s.limiter.Send(chunk); err != nil {
			s.Close()
			return fmt.Errorf("failed to write frame chunk: %w", err)
		}
	}

	return nil
}

func (s *Socket) writeRaw(chunk []byte) error {
	_, err := s.raw.Write(chunk)
	return err
}

// Serve reads frames until the raw link fails or the socket is closed. It
// returns nil on a clean close.
func (s *Socket) Serve() error {
	defer s.Close()

	decoder := NewDecoder(s.opts.MaxFrameSize)
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.raw.Read(buf)
		if n > 0 {
			frames, ferr := decoder.Feed(buf[:n])
			for _, frame := range frames {
				s.dispatch(frame)
			}
			if ferr != nil {
				return fmt.Errorf("malformed stream: %w", ferr)
			}
		}

		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (s *Socket) dispatch(frame []byte) {
	payload := frame
	for i := len(s.opts.Middlewares) - 1; i >= 0; i-- {
		var err error
		if payload, err = s.opts.Middlewares[i].PerformInBuffer(payload); err != nil {
			err = fmt.Errorf("drop frame of %d bytes: %w", len(frame), err)
			s.logger.Warnf("%v", err)
			s.report(err)
			return
		}
	}

	if fn := s.handler.Load(); fn != nil {
		(*fn)(payload)
	}
}

func (s *Socket) report(err error) {
	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}

// Close releases the raw link; it is safe to call more than once.
func (s *Socket) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.limiter.Close()
		s.closeErr = s.raw.Close()
	})
	return s.closeErr
}

// Done is closed once the socket is closed.
func (s *Socket) Done() <-chan struct{} {
	return s.closed
}
