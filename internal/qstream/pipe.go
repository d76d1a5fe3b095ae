package qstream

import (
	"sync"

	"github.com/dantte-lp/goqueen/internal/wire"
)

// side identifies which half of a pipe an End represents.
type side byte

const (
	sideA side = iota
	sideB
)

// core is the shared state behind a pipe(capacity, attr) pair: two bounded
// SPSC queues (one per direction) and the close flags that let either end
// observe the other's shutdown. It is never exposed directly — callers only
// ever see the two *End values returned by Pipe.
type core struct {
	mu       sync.Mutex
	capacity int
	attr     *wire.Message

	// qAtoB holds messages sent by the A end, waiting for B to receive them.
	qAtoB []*wire.Message
	// qBtoA holds messages sent by the B end, waiting for A to receive them.
	qBtoA []*wire.Message

	closedA bool
	closedB bool

	sentinelSeenByA bool
	sentinelSeenByB bool

	// notifyA fires when qBtoA gains a message (it is A's inbound queue).
	notifyA *notifier
	// notifyB fires when qAtoB gains a message (it is B's inbound queue).
	notifyB *notifier
}

// End is one side of a bounded duplex stream. The zero value is not usable;
// obtain an End from Pipe.
type End struct {
	c *core
	s side
}

// Recv is the result of a non-blocking TryRecv: either a delivered message,
// or — exactly once, after the peer closes — a Closed sentinel with no
// Message.
type Recv struct {
	Message *wire.Message
	Closed  bool
}

// Pipe creates a bounded duplex stream and returns its two ends. capacity
// bounds each direction's queue independently; attr is immutable metadata
// visible from both ends (e.g., peer address, transport kind).
func Pipe(capacity int, attr *wire.Message) (*End, *End, error) {
	if capacity <= 0 {
		capacity = 64
	}
	if attr == nil {
		attr = wire.NewMessage()
	}

	notifyA, err := newNotifier()
	if err != nil {
		return nil, nil, err
	}
	notifyB, err := newNotifier()
	if err != nil {
		notifyA.close()
		return nil, nil, err
	}

	c := &core{
		capacity: capacity,
		attr:     attr,
		notifyA:  notifyA,
		notifyB:  notifyB,
	}

	return &End{c: c, s: sideA}, &End{c: c, s: sideB}, nil
}

// Attr returns the pipe's immutable metadata. Callers must not mutate the
// returned Message.
func (e *End) Attr() *wire.Message {
	return e.c.attr
}

// Fd returns the file descriptor that becomes readable whenever this end's
// inbound queue gains a message, for registration with an external poller
// (internal/switchcore's reactor). It stays valid for the End's lifetime.
func (e *End) Fd() int {
	if e.s == sideA {
		return e.c.notifyA.fd()
	}
	return e.c.notifyB.fd()
}

// inbound/outbound return this end's own inbound queue and its peer's
// inbound queue (== this end's outbound queue), plus the relevant notifier
// and close flags, without branching on e.s at every call site.
func (e *End) inboundQueue() *[]*wire.Message {
	if e.s == sideA {
		return &e.c.qBtoA
	}
	return &e.c.qAtoB
}

func (e *End) outboundQueue() *[]*wire.Message {
	if e.s == sideA {
		return &e.c.qAtoB
	}
	return &e.c.qBtoA
}

func (e *End) outboundNotifier() *notifier {
	if e.s == sideA {
		return e.c.notifyB
	}
	return e.c.notifyA
}

func (e *End) inboundNotifier() *notifier {
	if e.s == sideA {
		return e.c.notifyA
	}
	return e.c.notifyB
}

func (e *End) isClosedLocked() bool {
	if e.s == sideA {
		return e.c.closedA
	}
	return e.c.closedB
}

func (e *End) peerClosedLocked() bool {
	if e.s == sideA {
		return e.c.closedB
	}
	return e.c.closedA
}

func (e *End) sentinelSeenLocked() bool {
	if e.s == sideA {
		return e.c.sentinelSeenByA
	}
	return e.c.sentinelSeenByB
}

func (e *End) setSentinelSeenLocked() {
	if e.s == sideA {
		e.c.sentinelSeenByA = true
	} else {
		e.c.sentinelSeenByB = true
	}
}

func (e *End) setClosedLocked() {
	if e.s == sideA {
		e.c.closedA = true
	} else {
		e.c.closedB = true
	}
}

// Send enqueues msg for the peer end. It never blocks: if the peer's
// inbound queue is at capacity, it returns ErrWouldBlock and the caller is
// responsible for retrying with backoff. Once either end
// has closed, Send returns ErrClosed.
func (e *End) Send(msg *wire.Message) error {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()

	if e.isClosedLocked() || e.peerClosedLocked() {
		return ErrClosed
	}

	q := e.outboundQueue()
	if len(*q) >= e.c.capacity {
		return ErrWouldBlock
	}

	*q = append(*q, msg)
	e.outboundNotifier().signal()
	return nil
}

// TryRecv is the non-blocking receive: it returns ok=false when there is
// nothing to deliver right now. Once the peer has closed and this end's
// queue is drained, it returns exactly one Recv{Closed: true} before going
// back to ok=false forever. Closing this end alone yields no sentinel here.
func (e *End) TryRecv() (Recv, bool) {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()

	q := e.inboundQueue()
	if len(*q) > 0 {
		msg := (*q)[0]
		*q = (*q)[1:]
		e.inboundNotifier().drain()
		return Recv{Message: msg}, true
	}

	if e.peerClosedLocked() && !e.sentinelSeenLocked() {
		e.setSentinelSeenLocked()
		return Recv{Closed: true}, true
	}

	return Recv{}, false
}

// Close closes this end. The peer's next TryRecv (after its queue drains)
// yields a single Closed sentinel.
func (e *End) Close() {
	e.c.mu.Lock()
	if e.isClosedLocked() {
		e.c.mu.Unlock()
		return
	}
	e.setClosedLocked()
	e.c.mu.Unlock()

	e.outboundNotifier().signal()
}

// IsClosed reports whether this end (not its peer) has been closed.
func (e *End) IsClosed() bool {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	return e.isClosedLocked()
}

// There is no explicit release: each notifier's two pipe fds are held by
// *os.File values, which close their descriptor from a runtime finalizer
// once both ends of the pipe become unreachable. Neither end ever closes
// the other's notifier directly, since one side's Fd() may still be
// registered with a poller after the peer calls Close.
