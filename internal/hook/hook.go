// Package hook defines the switch's sole extension point:
// a fixed set of predicates and observers invoked inline on the switch's
// single dispatch goroutine. Hooks must never block — a blocking hook
// stalls all routing.
package hook

import "github.com/dantte-lp/goqueen/internal/wire"

// SessionView is the read-only view of a session a Hooks implementation is
// given. It is satisfied by *switchcore.Session; the interface lives here,
// not in switchcore, to avoid hook implementations importing switchcore
// just to read session state.
type SessionView interface {
	Token() int
	Auth() bool
	Root() bool
	ClientID() (wire.ID, bool)
	Attr() *wire.Message
	Chans() map[string]wire.LabelSet
	SendCount() uint64
	RecvCount() uint64
}

// QueryContext is the narrow view of the switch a Query/Custom hook needs:
// enough to answer introspection queries without exposing routing
// internals (session removal, relay, etc.) to hook authors.
type QueryContext interface {
	// Session returns the live session for token, if any.
	Session(token int) (SessionView, bool)
	// Sessions returns every live session, in token order.
	Sessions() []SessionView
	// ChanSubscriberCount returns the number of sessions subscribed to chan_.
	ChanSubscriberCount(chan_ string) int
	// ChanCount returns the number of distinct subscribed channels.
	ChanCount() int
}

// Hooks is the full capability set. All methods default to "allow"/no-op
// via DefaultHooks; implementations embed DefaultHooks and override only
// what they need.
type Hooks interface {
	// Accept decides whether a new connection may become a session.
	Accept(s SessionView) bool
	// Remove observes a session's final removal; it cannot veto.
	Remove(s SessionView)
	// Recv gates every inbound message before classification.
	Recv(s SessionView, m *wire.Message) bool
	// Send gates echoed replies and administrative event copies. Relay
	// deliveries are gated by Push alone.
	Send(s SessionView, m *wire.Message) bool
	// Auth gates the _auth control message.
	Auth(s SessionView, m *wire.Message) bool
	// Attach gates the _atta control message for the given channel.
	Attach(s SessionView, m *wire.Message, chan_ string) bool
	// Detach gates the _deta control message for the given channel.
	Detach(s SessionView, m *wire.Message, chan_ string) bool
	// Emit gates relay traffic (non-underscore channels) from the sender.
	Emit(s SessionView, m *wire.Message) bool
	// Push gates delivery of a relay message to one particular recipient.
	Push(s SessionView, m *wire.Message) bool
	// Kill gates the _ctki control message.
	Kill(s SessionView, m *wire.Message) bool
	// Ping observes the _ping control message; it cannot veto.
	Ping(s SessionView, m *wire.Message)
	// Query answers the _quer control message for token, mutating m.
	Query(ctx QueryContext, token int, m *wire.Message)
	// Custom has total control over the _cust control message.
	Custom(ctx QueryContext, token int, m *wire.Message)
}

// DefaultHooks implements Hooks with allow-everything, do-nothing-extra
// defaults. Embed it to override only a few methods.
type DefaultHooks struct{}

func (DefaultHooks) Accept(SessionView) bool                      { return true }
func (DefaultHooks) Remove(SessionView)                            {}
func (DefaultHooks) Recv(SessionView, *wire.Message) bool          { return true }
func (DefaultHooks) Send(SessionView, *wire.Message) bool          { return true }
func (DefaultHooks) Auth(SessionView, *wire.Message) bool          { return true }
func (DefaultHooks) Attach(SessionView, *wire.Message, string) bool { return true }
func (DefaultHooks) Detach(SessionView, *wire.Message, string) bool { return true }
func (DefaultHooks) Emit(SessionView, *wire.Message) bool          { return true }
func (DefaultHooks) Push(SessionView, *wire.Message) bool          { return true }
func (DefaultHooks) Kill(SessionView, *wire.Message) bool          { return true }
func (DefaultHooks) Ping(SessionView, *wire.Message)               {}
func (DefaultHooks) Query(QueryContext, int, *wire.Message)        {}
func (DefaultHooks) Custom(QueryContext, int, *wire.Message)       {}

var _ Hooks = DefaultHooks{}
