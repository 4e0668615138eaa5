package ratelimit

import (
	"sync"
	"time"

	"github.com/go-zoox/ntun/logging"
	"github.com/jpillora/sizestr"
)

// DefaultInterval is the pacing window of a Limiter.
const DefaultInterval = 25 * time.Millisecond

// SendFunc writes one chunk to the underlying link.
type SendFunc func(chunk []byte) error

type Options struct {
	Interval time.Duration
	// OnError receives errors from chunks sent by the timer.
	OnError func(err error)
	Logger  logging.Logger
}

// Limiter paces chunks to at most rate bytes per second in fixed intervals.
// Chunks larger than the remaining budget of an interval are split; the
// remainder stays at the head of the queue so byte order is preserved.
type Limiter struct {
	mu sync.Mutex

	rate     int64
	interval time.Duration
	budget   int
	send     SendFunc
	onError  func(err error)

	queue         [][]byte
	queued        int
	intervalStart time.Time
	intervalSent  int
	processing    bool
	timer         *time.Timer
	closed        bool
}

// New returns a Limiter; a rate of 0 disables limiting.
func New(rate int64, send SendFunc, opts ...*Options) *Limiter {
	interval := DefaultInterval
	var onError func(error)
	log := logging.New("rate-limit")
	if len(opts) > 0 && opts[0] != nil {
		if opts[0].Interval > 0 {
			interval = opts[0].Interval
		}
		onError = opts[0].OnError
		if opts[0].Logger != nil {
			log = opts[0].Logger
		}
	}

	budget := int(rate * interval.Milliseconds() / 1000)
	if rate > 0 && budget < 1 {
		budget = 1
	}

	if rate > 0 {
		log.Debugf("pacing at %s/s, %s per %s", sizestr.ToString(rate), sizestr.ToString(int64(budget)), interval)
	}

	return &Limiter{
		rate:     rate,
		interval: interval,
		budget:   budget,
		send:     send,
		onError:  onError,
	}
}

func (l *Limiter) Enabled() bool {
	return l.rate > 0
}

// Budget is the number of bytes released per interval.
func (l *Limiter) Budget() int {
	return l.budget
}

// Send queues chunk. Without a rate the chunk is written directly and the
// write error is returned; otherwise errors go to Options.OnError.
func (l *Limiter) Send(chunk []byte) error {
	if !l.Enabled() {
		return l.send(chunk)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	if len(chunk) > 0 {
		l.queue = append(l.queue, chunk)
		l.queued += len(chunk)
	}
	l.mu.Unlock()

	l.process()
	return nil
}

// Pending returns the number of queued bytes.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queued
}

// Clear drops queued chunks.
func (l *Limiter) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.queue = nil
	l.queued = 0
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// Close drops queued chunks and stops pacing for good.
func (l *Limiter) Close() {
	l.Clear()

	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func (l *Limiter) process() {
	l.mu.Lock()
	if l.processing || l.closed || len(l.queue) == 0 {
		l.mu.Unlock()
		return
	}
	l.processing = true

	now := time.Now()
	if l.intervalStart.IsZero() || now.Sub(l.intervalStart) >= l.interval {
		l.intervalStart = now
		l.intervalSent = 0
	}

	var batch [][]byte
	for len(l.queue) > 0 && l.intervalSent < l.budget {
		head := l.queue[0]
		remaining := l.budget - l.intervalSent

		if len(head) <= remaining {
			batch = append(batch, head)
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.intervalSent += len(head)
			l.queued -= len(head)
			continue
		}

		batch = append(batch, head[:remaining])
		l.queue[0] = head[remaining:]
		l.intervalSent += remaining
		l.queued -= remaining
	}
	l.mu.Unlock()

	var err error
	for _, chunk := range batch {
		if err = l.send(chunk); err != nil {
			break
		}
	}

	l.mu.Lock()
	l.processing = false
	if err != nil {
		l.queue = nil
		l.queued = 0
	}
	if len(l.queue) > 0 && !l.closed && l.timer == nil {
		wait := l.interval - time.Since(l.intervalStart)
		if wait < 0 {
			wait = 0
		}
		l.timer = time.AfterFunc(wait, l.tick)
	}
	onError := l.onError
	l.mu.Unlock()

	if err != nil && onError != nil {
		onError(err)
	}
}

func (l *Limiter) tick() {
	l.mu.Lock()
	l.timer = nil
	l.mu.Unlock()

	l.process()
}
