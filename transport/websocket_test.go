package transport

import (
	"fmt"
	"testing"
	"time"

	"github.com/go-zoox/ntun/cipher"
	"github.com/go-zoox/ntun/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketTransportExchange(t *testing.T) {
	opts := Options{Cipher: cipher.Default(), ChunkSize: 5, Logger: logging.Discard()}

	server := NewWebSocketServer(&WebSocketServerConfig{Host: "127.0.0.1", Path: "/tunnel", Options: opts})
	ws := watch(server)
	require.NoError(t, server.Start())
	stopOnCleanup(t, server)

	client := NewWebSocketClient(&WebSocketClientConfig{
		URL:        fmt.Sprintf("ws://127.0.0.1:%d/tunnel", port(t, server)),
		RetryDelay: 50 * time.Millisecond,
		Options:    opts,
	})
	wc := watch(client)
	require.NoError(t, client.Start())
	stopOnCleanup(t, client)

	ss := ws.session(t)
	cs := wc.session(t)

	require.NoError(t, cs.WriteBuffer([]byte("hello over websocket")))
	assert.Equal(t, "hello over websocket", ws.message(t))

	require.NoError(t, ss.WriteBuffer([]byte("and back")))
	assert.Equal(t, "and back", wc.message(t))

	require.NoError(t, server.Stop())
	wc.lost(t)
	assert.False(t, server.IsConnected())
}

func TestWebSocketClientRequiresURL(t *testing.T) {
	client := NewWebSocketClient(&WebSocketClientConfig{Options: Options{Logger: logging.Discard()}})
	assert.Error(t, client.Start())
}
