package transport

import (
	"net"
	"testing"
	"time"

	"github.com/go-zoox/ntun/socket"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

type watcher struct {
	connected    chan *socket.Socket
	disconnected chan *socket.Socket
	errors       chan error
	received     chan string
}

func watch(tr Transport) *watcher {
	w := &watcher{
		connected:    make(chan *socket.Socket, 16),
		disconnected: make(chan *socket.Socket, 16),
		errors:       make(chan error, 16),
		received:     make(chan string, 64),
	}
	tr.Subscribe(&Observer{
		OnConnected: func(session *socket.Socket) {
			session.SetHandler(func(buf []byte) { w.received <- string(buf) })
			w.connected <- session
		},
		OnDisconnected: func(session *socket.Socket) { w.disconnected <- session },
		OnError:        func(err error) { w.errors <- err },
	})
	return w
}

func (w *watcher) session(t *testing.T) *socket.Socket {
	t.Helper()
	select {
	case s := <-w.connected:
		return s
	case <-time.After(waitTimeout):
		t.Fatal("expect a session")
		return nil
	}
}

func (w *watcher) lost(t *testing.T) *socket.Socket {
	t.Helper()
	select {
	case s := <-w.disconnected:
		return s
	case <-time.After(waitTimeout):
		t.Fatal("expect the session to end")
		return nil
	}
}

func (w *watcher) message(t *testing.T) string {
	t.Helper()
	select {
	case m := <-w.received:
		return m
	case <-time.After(waitTimeout):
		t.Fatal("expect a message")
		return ""
	}
}

func (w *watcher) failure(t *testing.T) error {
	t.Helper()
	select {
	case err := <-w.errors:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("expect an error")
		return nil
	}
}

func port(t *testing.T, c *Core) int {
	t.Helper()
	addr, ok := c.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}

func stopOnCleanup(t *testing.T, tr Transport) {
	t.Cleanup(func() { _ = tr.Stop() })
}
