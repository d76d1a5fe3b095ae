//go:build linux

package client

import (
	"context"
	"sync"

	"github.com/dantte-lp/goqueen/internal/wire"
)

// Recv drains one channel's deliveries through an unbounded in-memory
// queue, so a slow consumer never exerts backpressure on the port's
// background loop.
type Recv struct {
	port     *Port
	chanName string

	mu     sync.Mutex
	buf    []*wire.Message
	closed bool

	// ready carries at most one wakeup; Next re-checks buf after each.
	ready chan struct{}
}

// Chan returns the channel this handle is attached to.
func (r *Recv) Chan() string { return r.chanName }

// push appends msg and wakes a waiting Next.
func (r *Recv) push(msg *wire.Message) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.buf = append(r.buf, msg)
	r.mu.Unlock()

	select {
	case r.ready <- struct{}{}:
	default:
	}
}

// markClosed wakes any waiter and makes further Next calls drain the
// remaining buffer, then fail with ErrPortClosed.
func (r *Recv) markClosed() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	select {
	case r.ready <- struct{}{}:
	default:
	}
}

// Next returns the oldest queued message, blocking until one arrives, ctx
// is done, or the handle is closed.
func (r *Recv) Next(ctx context.Context) (*wire.Message, error) {
	for {
		r.mu.Lock()
		if len(r.buf) > 0 {
			msg := r.buf[0]
			r.buf = r.buf[1:]
			r.mu.Unlock()
			return msg, nil
		}
		closed := r.closed
		r.mu.Unlock()

		if closed {
			return nil, ErrPortClosed
		}

		select {
		case <-r.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.port.done:
			r.markClosed()
		}
	}
}

// Close detaches this handle from the port. When it was the channel's last
// handle, the subscription itself is detached from the switch.
func (r *Recv) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	p := r.port
	p.dropRecv(r)

	p.mu.Lock()
	last := len(p.recvs[r.chanName]) == 0
	portClosed := p.closed
	p.mu.Unlock()

	if last && !portClosed {
		return p.Detach(ctx, r.chanName)
	}
	return nil
}
