package switchcore

import (
	"os"
	"sync"
	"syscall"

	"github.com/dantte-lp/goqueen/internal/qstream"
)

// connRequest is one pending Connect call: an external goroutine builds it,
// pushes it onto the work queue, and blocks on reply until the dispatch
// goroutine processes it or the caller's context is done.
// The session's attr travels inside the stream end itself.
type connRequest struct {
	end   *qstream.End
	reply chan bool
}

// connQueue is the MPSC work queue feeding the dispatch loop. Any number
// of goroutines may push; only the dispatch goroutine
// pops. Readiness is surfaced through a self-pipe, the same technique
// qstream's notifier uses for per-stream readiness, so the reactor can wait
// on the queue and on session streams through one mechanism.
type connQueue struct {
	mu     sync.Mutex
	items  []*connRequest
	closed bool

	rf, wf   *os.File
	rfd, wfd int
}

func newConnQueue() (*connQueue, error) {
	rf, wf, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	rfd, wfd := int(rf.Fd()), int(wf.Fd())
	if err := syscall.SetNonblock(rfd, true); err != nil {
		rf.Close()
		wf.Close()
		return nil, err
	}
	if err := syscall.SetNonblock(wfd, true); err != nil {
		rf.Close()
		wf.Close()
		return nil, err
	}
	return &connQueue{rf: rf, wf: wf, rfd: rfd, wfd: wfd}, nil
}

// fd returns the read end, for registration with the reactor under
// workQueueToken.
func (q *connQueue) fd() int { return q.rfd }

// push enqueues req and signals the reactor. It returns false without
// enqueuing once the queue has been closed (switch shutdown).
func (q *connQueue) push(req *connRequest) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, req)
	q.mu.Unlock()

	var b [1]byte
	_, _ = syscall.Write(q.wfd, b[:])
	return true
}

// wake signals the reactor without enqueuing anything, so Run notices a
// cancelled context within one wake instead of one poll timeout. The spare
// byte is harmless: drainQueue simply finds nothing to pop.
func (q *connQueue) wake() {
	var b [1]byte
	_, _ = syscall.Write(q.wfd, b[:])
}

// pop removes and returns the oldest pending request, if any.
func (q *connQueue) pop() (*connRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	req := q.items[0]
	q.items = q.items[1:]

	var b [1]byte
	_, _ = syscall.Read(q.rfd, b[:])
	return req, true
}

// closeAll rejects every still-pending request and releases the pipe. It is
// called once, during switch shutdown.
func (q *connQueue) closeAll() {
	q.mu.Lock()
	q.closed = true
	pending := q.items
	q.items = nil
	q.mu.Unlock()

	for _, req := range pending {
		req.end.Close()
		select {
		case req.reply <- false:
		default:
		}
	}

	q.rf.Close()
	q.wf.Close()
}
