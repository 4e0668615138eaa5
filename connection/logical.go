package connection

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/multiplexer"
	"github.com/go-zoox/ntun/network"
	"github.com/go-zoox/ntun/protocol"
	"github.com/jpillora/sizestr"
)

const readBufferSize = 32 * 1024

// LogicalConnection is one proxied stream inside a transport session.
type LogicalConnection struct {
	ID protocol.ConnectionID

	mux     *multiplexer.Multiplexer
	logger  logging.Logger
	onClose func(lc *LogicalConnection)

	mu        sync.Mutex
	cond      *sync.Cond
	local     net.Conn
	queue     [][]byte
	connected bool
	draining  bool
	closed    bool
	err       error
	once      sync.Once

	sent     atomic.Int64
	received atomic.Int64
}

func newLogicalConnection(id protocol.ConnectionID, mux *multiplexer.Multiplexer, logger logging.Logger, onClose func(lc *LogicalConnection)) *LogicalConnection {
	lc := &LogicalConnection{
		ID:      id,
		mux:     mux,
		logger:  logging.With(logger, "connection: "+id.String()),
		onClose: onClose,
	}
	lc.cond = sync.NewCond(&lc.mu)
	return lc
}

func (lc *LogicalConnection) IsConnected() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.connected
}

func (lc *LogicalConnection) Err() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.err
}

// BytesSent is what went from the local socket to the peer.
func (lc *LogicalConnection) BytesSent() int64 {
	return lc.sent.Load()
}

// BytesReceived is what went from the peer to the local socket.
func (lc *LogicalConnection) BytesReceived() int64 {
	return lc.received.Load()
}

// Attach binds the local socket and starts relaying. Data pushed before
// Attach is flushed first, in order.
func (lc *LogicalConnection) Attach(local net.Conn) bool {
	lc.mu.Lock()
	if lc.closed {
		lc.mu.Unlock()
		local.Close()
		return false
	}
	lc.local = local
	lc.connected = true
	lc.mu.Unlock()

	go lc.read(local)
	go lc.write(local)
	return true
}

// Push queues data for the local socket.
func (lc *LogicalConnection) Push(data []byte) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.closed || lc.draining {
		return
	}
	lc.queue = append(lc.queue, data)
	lc.cond.Signal()
}

// Finish closes the local socket once queued data is written; it is the
// reaction to CLOSE from the peer.
func (lc *LogicalConnection) Finish(reason string) {
	lc.mu.Lock()
	if lc.closed {
		lc.mu.Unlock()
		return
	}
	if reason != "" {
		lc.err = errors.New(reason)
	}
	if lc.local == nil && len(lc.queue) == 0 {
		lc.mu.Unlock()
		lc.Close(reason, false)
		return
	}
	lc.draining = true
	lc.cond.Signal()
	lc.mu.Unlock()
}

// Close releases the local socket, optionally telling the peer why.
func (lc *LogicalConnection) Close(reason string, notify bool) {
	lc.once.Do(func() {
		lc.mu.Lock()
		lc.closed = true
		lc.connected = false
		lc.queue = nil
		local := lc.local
		if lc.err == nil && reason != "" {
			lc.err = errors.New(reason)
		}
		lc.cond.Broadcast()
		lc.mu.Unlock()

		if notify {
			if err := lc.mux.SendClose(lc.ID, reason); err != nil && !errors.Is(err, multiplexer.ErrNotConnected) {
				lc.logger.Debugf("failed to send close: %v", err)
			}
		}
		if local != nil {
			local.Close()
		}

		if reason != "" {
			lc.logger.Infof("closed (%s), sent %s, received %s", reason, sizestr.ToString(lc.sent.Load()), sizestr.ToString(lc.received.Load()))
		} else {
			lc.logger.Infof("closed, sent %s, received %s", sizestr.ToString(lc.sent.Load()), sizestr.ToString(lc.received.Load()))
		}

		if lc.onClose != nil {
			lc.onClose(lc)
		}
	})
}

func (lc *LogicalConnection) read(local net.Conn) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := local.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if serr := lc.mux.SendData(lc.ID, data); serr != nil {
				lc.Close(network.Describe(serr), false)
				return
			}
			lc.sent.Add(int64(n))
		}

		if err != nil {
			reason := ""
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				reason = network.Describe(err)
			}
			lc.Close(reason, true)
			return
		}
	}
}

func (lc *LogicalConnection) write(local net.Conn) {
	for {
		lc.mu.Lock()
		for len(lc.queue) == 0 && !lc.closed && !lc.draining {
			lc.cond.Wait()
		}
		if lc.closed {
			lc.mu.Unlock()
			return
		}
		if len(lc.queue) == 0 {
			reason := ""
			if lc.err != nil {
				reason = lc.err.Error()
			}
			lc.mu.Unlock()
			lc.Close(reason, false)
			return
		}
		data := lc.queue[0]
		lc.queue[0] = nil
		lc.queue = lc.queue[1:]
		lc.mu.Unlock()

		if _, err := local.Write(data); err != nil {
			lc.Close(network.Describe(err), true)
			return
		}
		lc.received.Add(int64(len(data)))
	}
}
