//go:build linux

// Package client implements the user-facing port API on top of the
// switch's duplex streams: connect-and-auth, attach/detach, send, queued
// receive, and a call/reply RPC built on _ack plus matching _id. The same
// Port works against an in-process switch (*switchcore.Manager satisfies
// Connector directly) or a remote one (*transport.Dialer).
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dantte-lp/goqueen/internal/qstream"
	"github.com/dantte-lp/goqueen/internal/wire"
)

// Connector produces the client's end of a switch stream.
type Connector interface {
	Connect(ctx context.Context, attr *wire.Message) (*qstream.End, error)
}

// ErrPortClosed is returned by every operation once the port has shut
// down — locally via Close, or remotely via stream close or _ctki.
var ErrPortClosed = errors.New("client: port closed")

// ReplyError is a reply the switch stamped with a non-zero _ok status.
type ReplyError struct {
	Code string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("client: switch replied %s", e.Code)
}

// sendRetryDelay is the backoff applied when the stream is at capacity.
const sendRetryDelay = time.Millisecond

// inboundPollMillis bounds each readiness wait in the background loop.
const inboundPollMillis = 250

// Handler services one inbound call request and returns the reply, or nil
// for no reply. Handlers run on their own goroutine; they may block.
type Handler func(req *wire.Message) *wire.Message

// Option configures Connect.
type Option func(*options)

type options struct {
	logger *slog.Logger
	attr   *wire.Message
	auth   *wire.Message
}

// WithLogger scopes the port's diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithAttr sets the stream metadata presented to the switch's accept hook.
func WithAttr(attr *wire.Message) Option {
	return func(o *options) { o.attr = attr }
}

// WithAuth merges msg into the _auth message sent at connect time — the
// place for credentials, _root, and a client-chosen _clid.
func WithAuth(msg *wire.Message) Option {
	return func(o *options) { o.auth = msg }
}

// Port is a connected, authenticated client session. All methods are safe
// for concurrent use.
type Port struct {
	logger *slog.Logger
	end    *qstream.End

	clientID wire.ID
	nodeID   wire.ID
	root     bool

	mu       sync.Mutex
	closed   bool
	pending  map[wire.ID]chan *wire.Message
	recvs    map[string][]*Recv
	handlers map[string]Handler

	done chan struct{}
}

// Connect obtains a stream from connector, authenticates, and starts the
// background receive loop. The _auth message is the WithAuth option (if
// any) merged under a fresh _id; the switch's reply supplies the session's
// client-id and the node id.
func Connect(ctx context.Context, connector Connector, opts ...Option) (*Port, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	end, err := connector.Connect(ctx, o.attr)
	if err != nil {
		return nil, fmt.Errorf("client: connect: %w", err)
	}

	p := &Port{
		logger:   o.logger.With(slog.String("component", "client")),
		end:      end,
		pending:  make(map[wire.ID]chan *wire.Message),
		recvs:    make(map[string][]*Recv),
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
	go p.run()

	auth := wire.NewMessage()
	if o.auth != nil {
		for _, f := range o.auth.Fields() {
			auth.SetField(f)
		}
	}
	auth.SetString(wire.KeyChan, wire.ChanAuth)

	reply, err := p.roundTrip(ctx, auth)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("client: auth: %w", err)
	}

	clid, ok := reply.GetID(wire.KeyClID)
	if !ok {
		p.Close()
		return nil, errors.New("client: auth reply lacks _clid")
	}
	p.clientID = clid
	p.nodeID, _ = reply.GetID(wire.KeyNoID)
	p.root, _ = reply.GetBool(wire.KeyRoot)

	return p, nil
}

// ID returns the session's client-id assigned (or confirmed) at auth.
func (p *Port) ID() wire.ID { return p.clientID }

// NodeID returns the switch's node id from the auth reply.
func (p *Port) NodeID() wire.ID { return p.nodeID }

// Done is closed once the port has shut down, locally or remotely.
func (p *Port) Done() <-chan struct{} { return p.done }

// Close shuts the port down. Pending calls fail with ErrPortClosed and
// every Recv handle drains then reports closure.
func (p *Port) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	// The switch observes the close, removes the session, and closes its
	// side; the background loop sees the sentinel and tears down.
	p.end.Close()
	<-p.done
}

// -------------------------------------------------------------------------
// Operations
// -------------------------------------------------------------------------

// Attach subscribes the session to chan_ with the given labels (none means
// every message on the channel). Repeated attaches union their labels.
func (p *Port) Attach(ctx context.Context, chan_ string, labels ...string) error {
	msg := wire.NewMessage()
	msg.SetString(wire.KeyChan, wire.ChanAttach)
	msg.SetString(wire.KeyValue, chan_)
	setLabels(msg, labels)
	_, err := p.roundTrip(ctx, msg)
	return err
}

// Detach unsubscribes. With labels it only narrows the subscription's
// label set; without labels it removes the channel entirely.
func (p *Port) Detach(ctx context.Context, chan_ string, labels ...string) error {
	msg := wire.NewMessage()
	msg.SetString(wire.KeyChan, wire.ChanDetach)
	msg.SetString(wire.KeyValue, chan_)
	setLabels(msg, labels)
	_, err := p.roundTrip(ctx, msg)
	return err
}

// Send publishes msg on chan_ without waiting for consumers. A fresh _id
// is stamped when the message lacks one.
func (p *Port) Send(ctx context.Context, chan_ string, msg *wire.Message, labels ...string) error {
	msg.SetString(wire.KeyChan, chan_)
	setLabels(msg, labels)
	return p.send(ctx, msg)
}

// Ping round-trips a _ping through the switch.
func (p *Port) Ping(ctx context.Context) error {
	msg := wire.NewMessage()
	msg.SetString(wire.KeyChan, wire.ChanPing)
	_, err := p.roundTrip(ctx, msg)
	return err
}

// Query round-trips a _quer (root only); the hook-populated reply is
// returned to the caller.
func (p *Port) Query(ctx context.Context, key string) (*wire.Message, error) {
	msg := wire.NewMessage()
	msg.SetString(wire.KeyChan, wire.ChanQuery)
	msg.SetString(wire.KeyValue, key)
	return p.roundTrip(ctx, msg)
}

// Mine returns the switch's snapshot of this session.
func (p *Port) Mine(ctx context.Context) (*wire.Message, error) {
	msg := wire.NewMessage()
	msg.SetString(wire.KeyChan, wire.ChanMine)
	reply, err := p.roundTrip(ctx, msg)
	if err != nil {
		return nil, err
	}
	snap, ok := reply.GetMessage(wire.KeyValue)
	if !ok {
		return nil, errors.New("client: _mine reply lacks _valu")
	}
	return snap, nil
}

// Kill removes the session holding target (root only).
func (p *Port) Kill(ctx context.Context, target wire.ID) error {
	msg := wire.NewMessage()
	msg.SetString(wire.KeyChan, wire.ChanKill)
	msg.SetID(wire.KeyClID, target)
	_, err := p.roundTrip(ctx, msg)
	return err
}

// Recv attaches to chan_ and returns a handle draining its messages
// through an unbounded queue.
func (p *Port) Recv(ctx context.Context, chan_ string, labels ...string) (*Recv, error) {
	r := &Recv{port: p, chanName: chan_, ready: make(chan struct{}, 1)}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPortClosed
	}
	p.recvs[chan_] = append(p.recvs[chan_], r)
	p.mu.Unlock()

	if err := p.Attach(ctx, chan_, labels...); err != nil {
		p.dropRecv(r)
		return nil, err
	}
	return r, nil
}

// -------------------------------------------------------------------------
// Internals
// -------------------------------------------------------------------------

func setLabels(msg *wire.Message, labels []string) {
	switch len(labels) {
	case 0:
	case 1:
		msg.SetString(wire.KeyLabel, labels[0])
	default:
		fields := make([]wire.Field, 0, len(labels))
		for _, l := range labels {
			fields = append(fields, wire.Field{Tag: wire.TagString, Value: l})
		}
		msg.SetArray(wire.KeyLabel, fields)
	}
}

// send stamps a fresh _id if needed and pushes msg onto the stream,
// retrying with backoff while the stream is at capacity.
func (p *Port) send(ctx context.Context, msg *wire.Message) error {
	if _, has := msg.GetID(wire.KeyID); !has {
		msg.SetID(wire.KeyID, wire.NewID())
	}

	for {
		err := p.end.Send(msg)
		if err == nil {
			return nil
		}
		if errors.Is(err, qstream.ErrClosed) {
			return ErrPortClosed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return ErrPortClosed
		case <-time.After(sendRetryDelay):
		}
	}
}

// roundTrip sends msg and blocks until the reply carrying the same _id
// arrives. A reply stamped with _error becomes a *ReplyError.
func (p *Port) roundTrip(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	if _, has := msg.GetID(wire.KeyID); !has {
		msg.SetID(wire.KeyID, wire.NewID())
	}
	id, _ := msg.GetID(wire.KeyID)

	ch := make(chan *wire.Message, 1)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPortClosed
	}
	p.pending[id] = ch
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	if err := p.send(ctx, msg); err != nil {
		return nil, err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, ErrPortClosed
		}
		if code, failed := reply.Error(); failed {
			return reply, &ReplyError{Code: code}
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrPortClosed
	}
}

// run is the background receive loop: drain the stream, dispatch each
// message, wait for readiness on the stream's self-pipe fd.
func (p *Port) run() {
	fds := []unix.PollFd{{Fd: int32(p.end.Fd()), Events: unix.POLLIN}}

	for {
		for {
			recv, ok := p.end.TryRecv()
			if !ok {
				break
			}
			if recv.Closed {
				p.teardown()
				return
			}
			p.dispatch(recv.Message)
		}

		fds[0].Revents = 0
		if _, err := unix.Poll(fds, inboundPollMillis); err != nil && err != unix.EINTR {
			p.logger.Warn("stream poll failed", slog.Any("error", err))
			p.teardown()
			return
		}
	}
}

func (p *Port) dispatch(msg *wire.Message) {
	chanName, ok := msg.GetString(wire.KeyChan)
	if !ok {
		p.logger.Warn("inbound message lacks _chan, dropped")
		return
	}

	// Replies and call responses are matched by _id. A delivery ack
	// (_ack present, no error) confirms the request reached a consumer but
	// is not the response, so the caller keeps waiting.
	if id, has := msg.GetID(wire.KeyID); has {
		p.mu.Lock()
		ch, waiting := p.pending[id]
		p.mu.Unlock()
		if waiting {
			if _, isAck := msg.Get(wire.KeyAck); isAck {
				if _, failed := msg.Error(); !failed {
					return
				}
			}
			select {
			case ch <- msg:
			default:
			}
			return
		}
	}

	if wire.IsControlChan(chanName) && !wire.AdminChannels[chanName] {
		p.logger.Debug("unmatched control message dropped", slog.String("chan", chanName))
		return
	}

	p.mu.Lock()
	handler := p.handlers[chanName]
	queues := append([]*Recv(nil), p.recvs[chanName]...)
	p.mu.Unlock()

	if handler != nil {
		go p.serveCall(handler, msg)
		return
	}

	if len(queues) == 0 {
		p.logger.Debug("message on unclaimed channel dropped", slog.String("chan", chanName))
		return
	}
	for _, r := range queues {
		r.push(msg)
	}
}

func (p *Port) dropRecv(r *Recv) {
	p.mu.Lock()
	defer p.mu.Unlock()

	queues := p.recvs[r.chanName]
	for i, q := range queues {
		if q == r {
			p.recvs[r.chanName] = append(queues[:i], queues[i+1:]...)
			break
		}
	}
	if len(p.recvs[r.chanName]) == 0 {
		delete(p.recvs, r.chanName)
	}
}

// teardown fails every pending round-trip, closes every Recv handle, and
// marks the port dead.
func (p *Port) teardown() {
	p.mu.Lock()
	p.closed = true
	pending := p.pending
	p.pending = make(map[wire.ID]chan *wire.Message)
	var queues []*Recv
	for _, rs := range p.recvs {
		queues = append(queues, rs...)
	}
	p.recvs = make(map[string][]*Recv)
	p.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	for _, r := range queues {
		r.markClosed()
	}

	p.end.Close()
	close(p.done)
}
