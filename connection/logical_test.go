package connection

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/multiplexer"
	"github.com/go-zoox/ntun/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	mu       sync.Mutex
	messages []*protocol.Message
}

func (s *sent) WriteBuffer(buf []byte) error {
	msg, err := protocol.Decode(buf)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *sent) types() []protocol.MessageType {
	s.mu.Lock()
	defer s.mu.Unlock()

	types := make([]protocol.MessageType, 0, len(s.messages))
	for _, m := range s.messages {
		types = append(types, m.Type)
	}
	return types
}

func TestLogicalConnectionFlushesQueuedDataInOrder(t *testing.T) {
	out := &sent{}
	mux := multiplexer.New(out, nil, logging.Discard())

	closed := make(chan *LogicalConnection, 1)
	lc := newLogicalConnection(7, mux, logging.Discard(), func(lc *LogicalConnection) { closed <- lc })
	lc.Push([]byte("one "))
	lc.Push([]byte("two "))

	local, peer := net.Pipe()
	defer peer.Close()
	require.True(t, lc.Attach(local))
	lc.Push([]byte("three"))
	lc.Finish("")

	peer.SetReadDeadline(time.Now().Add(waitTimeout))
	got, err := io.ReadAll(peer)
	require.NoError(t, err)
	assert.Equal(t, "one two three", string(got))

	select {
	case c := <-closed:
		assert.Same(t, lc, c)
	case <-time.After(waitTimeout):
		t.Fatal("expect the logical connection to close")
	}
	assert.Equal(t, int64(len("one two three")), lc.BytesReceived())
	assert.NotContains(t, out.types(), protocol.MessageTypeClose)
}

func TestLogicalConnectionSendsLocalData(t *testing.T) {
	out := &sent{}
	mux := multiplexer.New(out, nil, logging.Discard())
	lc := newLogicalConnection(9, mux, logging.Discard(), nil)

	local, peer := net.Pipe()
	require.True(t, lc.Attach(local))

	_, err := peer.Write([]byte("ping"))
	require.NoError(t, err)
	peer.Close()

	assert.Eventually(t, func() bool {
		types := out.types()
		return len(types) == 2 && types[0] == protocol.MessageTypeData && types[1] == protocol.MessageTypeClose
	}, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, int64(4), lc.BytesSent())
	assert.False(t, lc.IsConnected())
}

func TestLogicalConnectionAbortBeforeAttach(t *testing.T) {
	out := &sent{}
	mux := multiplexer.New(out, nil, logging.Discard())
	lc := newLogicalConnection(11, mux, logging.Discard(), nil)

	lc.Push([]byte("dropped"))
	lc.Close(protocol.CloseReasonAbort, true)

	local, peer := net.Pipe()
	defer peer.Close()
	assert.False(t, lc.Attach(local))
	assert.EqualError(t, lc.Err(), protocol.CloseReasonAbort)

	require.Len(t, out.messages, 1)
	assert.Equal(t, protocol.MessageTypeClose, out.messages[0].Type)
	assert.Equal(t, protocol.CloseReasonAbort, out.messages[0].Reason)
}
