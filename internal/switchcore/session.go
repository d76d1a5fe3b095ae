package switchcore

import (
	"github.com/dantte-lp/goqueen/internal/hook"
	"github.com/dantte-lp/goqueen/internal/qstream"
	"github.com/dantte-lp/goqueen/internal/wire"
)

// Session is the switch's record of one live client stream. All fields
// are owned by the switch's single dispatch goroutine: the hook.SessionView
// accessors below are only ever invoked inline from that goroutine
// (Manager.Session and Manager.Sessions serve Query/Custom hooks, which
// run on it too), so no synchronization is needed here.
type Session struct {
	token int

	auth bool
	root bool

	clientID    wire.ID
	hasClientID bool

	// chans maps a subscribed channel to this session's label filter for
	// it; an empty LabelSet means "every message on this channel".
	chans map[string]wire.LabelSet

	// sendCount counts messages this session has sent to the switch;
	// recvCount counts messages the switch has delivered to this session.
	sendCount uint64
	recvCount uint64

	attr *wire.Message
	end  *qstream.End
}

func newSession(token int, attr *wire.Message, end *qstream.End) *Session {
	return &Session{
		token: token,
		attr:  attr,
		end:   end,
		chans: make(map[string]wire.LabelSet),
	}
}

func (s *Session) Token() int { return s.token }
func (s *Session) Auth() bool { return s.auth }
func (s *Session) Root() bool { return s.root }

func (s *Session) ClientID() (wire.ID, bool) { return s.clientID, s.hasClientID }
func (s *Session) Attr() *wire.Message       { return s.attr }

// Chans returns a copy of this session's channel subscriptions, label sets
// included, so a hook cannot mutate switch-owned state through the view it
// is handed.
func (s *Session) Chans() map[string]wire.LabelSet {
	out := make(map[string]wire.LabelSet, len(s.chans))
	for chan_, labels := range s.chans {
		out[chan_] = labels.Union(nil)
	}
	return out
}

func (s *Session) SendCount() uint64 { return s.sendCount }
func (s *Session) RecvCount() uint64 { return s.recvCount }

// aggregateChans renders this session's full channel->labels subscription
// map as a nested Message (one array-valued field per channel), the shape
// used both by _mine's "_chas" field and by the _ctre/_ctbr event payloads'
// "_labe" field.
func (s *Session) aggregateChans() *wire.Message {
	out := wire.NewMessage()
	for chan_, labels := range s.chans {
		out.SetArray(chan_, labels.AsFields())
	}
	return out
}

var _ hook.SessionView = (*Session)(nil)
