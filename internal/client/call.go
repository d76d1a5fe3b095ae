//go:build linux

package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dantte-lp/goqueen/internal/wire"
)

// Call publishes msg on chan_ in load-share mode and blocks for the
// reply. The request carries _ack plus a fresh _id: the switch's _ack
// confirmation is absorbed silently, the consumer's reply — a direct
// message echoing the same _id — resolves the call. A NoConsumers echo
// fails it immediately.
func (p *Port) Call(ctx context.Context, chan_ string, msg *wire.Message, labels ...string) (*wire.Message, error) {
	msg.SetString(wire.KeyChan, chan_)
	msg.SetBool(wire.KeyShare, true)
	msg.SetString(wire.KeyAck, "1")
	setLabels(msg, labels)

	reply, err := p.roundTrip(ctx, msg)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// Add attaches to chan_ and registers handler as its call servicer: each
// inbound request runs handler on its own goroutine, and a non-nil result
// is sent straight back to the requester (_to = request _from) under the
// request's _id. One handler per channel; registering again replaces it.
func (p *Port) Add(ctx context.Context, chan_ string, handler Handler, labels ...string) error {
	if handler == nil {
		return fmt.Errorf("client: nil handler for channel %q", chan_)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPortClosed
	}
	p.handlers[chan_] = handler
	p.mu.Unlock()

	if err := p.Attach(ctx, chan_, labels...); err != nil {
		p.mu.Lock()
		delete(p.handlers, chan_)
		p.mu.Unlock()
		return err
	}
	return nil
}

// Remove unregisters chan_'s handler and detaches from the channel.
func (p *Port) Remove(ctx context.Context, chan_ string) error {
	p.mu.Lock()
	_, had := p.handlers[chan_]
	delete(p.handlers, chan_)
	p.mu.Unlock()

	if !had {
		return nil
	}
	return p.Detach(ctx, chan_)
}

// serveCall runs handler for one request and routes the reply back to the
// caller.
func (p *Port) serveCall(handler Handler, req *wire.Message) {
	reply := handler(req)
	if reply == nil {
		return
	}

	from, ok := req.GetID(wire.KeyFrom)
	if !ok {
		p.logger.Warn("call request lacks _from, reply dropped")
		return
	}
	chanName, _ := req.GetString(wire.KeyChan)

	reply.SetString(wire.KeyChan, chanName)
	reply.SetID(wire.KeyTo, from)
	if id, has := req.GetID(wire.KeyID); has {
		reply.SetID(wire.KeyID, id)
	}

	if err := p.send(context.Background(), reply); err != nil {
		p.logger.Warn("call reply send failed", slog.Any("error", err))
	}
}
