package transport

import (
	"errors"
	"io"
	"sync"
)

var errStreamClosed = errors.New("stream closed")

// stream turns a message-oriented link (relay mailbox, data channel) into the
// byte stream a session expects. Inbound messages are queued without
// blocking the producer.
type stream struct {
	send    func(b []byte) error
	onClose func()

	mu       sync.Mutex
	cond     *sync.Cond
	queue    [][]byte
	leftover []byte
	closed   bool
	once     sync.Once
}

func newStream(send func(b []byte) error, onClose func()) *stream {
	s := &stream{send: send, onClose: onClose}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Push queues an inbound message.
func (s *stream) Push(data []byte) {
	if len(data) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.queue = append(s.queue, data)
	s.cond.Signal()
}

func (s *stream) Read(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.leftover) == 0 && len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}

	if s.closed {
		return 0, io.EOF
	}

	if len(s.leftover) == 0 {
		s.leftover = s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
	}

	n := copy(b, s.leftover)
	s.leftover = s.leftover[n:]
	return n, nil
}

func (s *stream) Write(b []byte) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, errStreamClosed
	}

	data := make([]byte, len(b))
	copy(data, b)
	if err := s.send(data); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close ends the stream; reads return EOF and queued messages are dropped.
func (s *stream) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.cond.Broadcast()
		s.mu.Unlock()

		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}
