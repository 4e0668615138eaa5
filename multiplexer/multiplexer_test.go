package multiplexer

import (
	"fmt"
	"testing"

	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopback hands every written frame to the peer multiplexer.
type loopback struct {
	peer *Multiplexer
}

func (l *loopback) WriteBuffer(buf []byte) error {
	l.peer.HandleBuffer(buf)
	return nil
}

func TestMessagesArriveInOrder(t *testing.T) {
	var events []string
	receiver := New(nil, &Handlers{
		OnConnect: func(id protocol.ConnectionID, host string, port uint16) {
			events = append(events, fmt.Sprintf("connect %d %s:%d", id, host, port))
		},
		OnData: func(id protocol.ConnectionID, data []byte) {
			events = append(events, fmt.Sprintf("data %d %s", id, data))
		},
		OnClose: func(id protocol.ConnectionID, reason string) {
			events = append(events, fmt.Sprintf("close %d %s", id, reason))
		},
	}, logging.Discard())
	sender := New(&loopback{peer: receiver}, nil, logging.Discard())

	require.NoError(t, sender.SendConnect(5, "example.com", 80))
	for i := 0; i < 3; i++ {
		require.NoError(t, sender.SendData(5, []byte(fmt.Sprintf("chunk-%d", i))))
	}
	require.NoError(t, sender.SendClose(5, "done"))

	assert.Equal(t, []string{
		"connect 5 example.com:80",
		"data 5 chunk-0",
		"data 5 chunk-1",
		"data 5 chunk-2",
		"close 5 done",
	}, events)
}

func TestDetachedMultiplexerRefusesToSend(t *testing.T) {
	m := New(&loopback{peer: New(nil, nil, logging.Discard())}, nil, logging.Discard())
	m.Detach()

	assert.False(t, m.IsConnected())
	assert.ErrorIs(t, m.SendData(1, []byte("x")), ErrNotConnected)
}

func TestMalformedBufferIsDropped(t *testing.T) {
	called := false
	m := New(nil, &Handlers{
		OnData: func(protocol.ConnectionID, []byte) { called = true },
	}, logging.Discard())

	m.HandleBuffer([]byte("not cbor"))
	assert.False(t, called)
}
