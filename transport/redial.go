package transport

import (
	"context"
	"io"
	"time"

	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/network"
	"github.com/jpillora/backoff"
)

type dialFunc func(ctx context.Context) (raw io.ReadWriteCloser, peer string, err error)

func newBackoff(min, max time.Duration) *backoff.Backoff {
	if min <= 0 {
		min = DefaultRetryDelay
	}
	if max < min {
		max = min
	}

	return &backoff.Backoff{
		Min:    min,
		Max:    max,
		Factor: 2,
	}
}

// redial keeps one session alive: the first attempt is immediate, a failed
// attempt waits for the backoff, a session that lived at least the minimum
// delay is replaced immediately. Cancelling ctx ends the loop at any point.
func redial(ctx context.Context, link Linker, logger logging.Logger, b *backoff.Backoff, dial dialFunc) {
	var wait time.Duration
	for {
		if wait > 0 {
			logger.Infof("reconnect in %s", wait)

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		if ctx.Err() != nil {
			return
		}

		raw, peer, err := dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warnf("failed to connect: %s", network.Describe(err))
			wait = b.Duration()
			continue
		}

		done, ok := link.Link(raw, peer)
		if !ok {
			raw.Close()
			return
		}

		connectedAt := time.Now()
		select {
		case <-ctx.Done():
			return
		case <-done:
		}

		if time.Since(connectedAt) >= b.Min {
			b.Reset()
			wait = 0
		} else {
			wait = b.Duration()
		}
	}
}
