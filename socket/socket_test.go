package socket

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-zoox/ntun/cipher"
	"github.com/go-zoox/ntun/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	sync.Mutex
	frames [][]byte
}

func (c *collector) add(buf []byte) {
	c.Lock()
	defer c.Unlock()
	c.frames = append(c.frames, append([]byte(nil), buf...))
}

func (c *collector) count() int {
	c.Lock()
	defer c.Unlock()
	return len(c.frames)
}

func pair(t *testing.T, a, b *Options) (*Socket, *Socket, *collector) {
	left, right := net.Pipe()

	sa := New(left, a)
	sb := New(right, b)
	got := &collector{}
	sb.SetHandler(got.add)

	go sa.Serve()
	go sb.Serve()

	t.Cleanup(func() {
		sa.Close()
		sb.Close()
	})
	return sa, sb, got
}

func TestSocketDeliversInOrder(t *testing.T) {
	sa, _, got := pair(t, &Options{ChunkSize: 7, Logger: logging.Discard()}, &Options{Logger: logging.Discard()})

	payloads := []string{"CONNECT", "", "a longer payload than one chunk", "CLOSE"}
	go func() {
		for _, p := range payloads {
			_ = sa.WriteBuffer([]byte(p))
		}
	}()

	require.Eventually(t, func() bool { return got.count() == len(payloads) }, 2*time.Second, 5*time.Millisecond)
	for i, p := range payloads {
		assert.Equal(t, p, string(got.frames[i]))
	}
}

func TestSocketWithCipherAndRateLimit(t *testing.T) {
	c := cipher.Default()
	opts := func() *Options {
		return &Options{
			Middlewares:       []Middleware{NewCipherMiddleware(c)},
			RateLimit:         2 * 1024 * 1024,
			RateLimitInterval: 5 * time.Millisecond,
			ChunkSize:         4096,
			Logger:            logging.Discard(),
		}
	}
	sa, _, got := pair(t, opts(), opts())

	payload := bytes.Repeat([]byte("0123456789"), 10000)
	go func() { _ = sa.WriteBuffer(payload) }()

	require.Eventually(t, func() bool { return got.count() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, payload, got.frames[0])
}

func TestSocketDropsUndecryptableFrame(t *testing.T) {
	a, err := cipher.NewAESGCM(cipher.DeriveKey("a"))
	require.NoError(t, err)
	b, err := cipher.NewAESGCM(cipher.DeriveKey("b"))
	require.NoError(t, err)

	errs := make(chan error, 1)
	sa, sb, got := pair(t,
		&Options{Middlewares: []Middleware{NewCipherMiddleware(a)}, Logger: logging.Discard()},
		&Options{Middlewares: []Middleware{NewCipherMiddleware(b)}, Logger: logging.Discard(), OnError: func(err error) { errs <- err }},
	)

	go func() { _ = sa.WriteBuffer([]byte("garbled")) }()

	select {
	case err := <-errs:
		assert.True(t, errors.Is(err, cipher.ErrDecrypt))
	case <-time.After(2 * time.Second):
		t.Fatal("expect a decrypt error")
	}

	assert.Equal(t, 0, got.count())
	select {
	case <-sb.Done():
		t.Fatal("session must survive a bad frame")
	default:
	}
}

type failingMiddleware struct{}

func (failingMiddleware) PerformOutBuffer([]byte) ([]byte, error) { return nil, errors.New("no key") }
func (failingMiddleware) PerformInBuffer(b []byte) ([]byte, error) { return b, nil }

func TestSocketEncryptionErrorIsReported(t *testing.T) {
	var reported error
	sa, _, _ := pair(t, &Options{
		Middlewares: []Middleware{failingMiddleware{}},
		OnError:     func(err error) { reported = err },
		Logger:      logging.Discard(),
	}, nil)

	err := sa.WriteBuffer([]byte("x"))
	assert.True(t, errors.Is(err, ErrEncryption))
	assert.True(t, errors.Is(reported, ErrEncryption))
}

func TestServeEndsWhenPeerCloses(t *testing.T) {
	left, right := net.Pipe()
	s := New(left, &Options{Logger: logging.Discard()})

	done := make(chan error, 1)
	go func() { done <- s.Serve() }()

	right.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expect Serve to return")
	}

	assert.ErrorIs(t, s.WriteBuffer([]byte("x")), ErrClosed)
}
