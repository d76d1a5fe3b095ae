package switchcore_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/dantte-lp/goqueen/internal/hook"
	"github.com/dantte-lp/goqueen/internal/qstream"
	"github.com/dantte-lp/goqueen/internal/switchcore"
	"github.com/dantte-lp/goqueen/internal/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -------------------------------------------------------------------------
// Test harness
// -------------------------------------------------------------------------

func newTestManager(t *testing.T, hooks hook.Hooks) *switchcore.Manager {
	t.Helper()

	m, err := switchcore.NewManager(switchcore.Config{Hooks: hooks})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return m
}

func connectSession(t *testing.T, m *switchcore.Manager) *qstream.End {
	t.Helper()

	end, err := m.Connect(context.Background(), nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { end.Close() })
	return end
}

func recvMessage(t *testing.T, end *qstream.End) *wire.Message {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r, ok := end.TryRecv(); ok {
			if r.Closed {
				t.Fatalf("recvMessage: stream closed while waiting for a message")
			}
			return r.Message
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("recvMessage: timed out")
	return nil
}

func expectNoMessage(t *testing.T, end *qstream.End, d time.Duration) {
	t.Helper()

	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if r, ok := end.TryRecv(); ok {
			if r.Closed {
				t.Fatalf("expectNoMessage: stream closed")
			}
			t.Fatalf("expectNoMessage: got unexpected message %v", r.Message)
		}
		time.Sleep(time.Millisecond)
	}
}

func expectClosed(t *testing.T, end *qstream.End) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r, ok := end.TryRecv(); ok {
			if r.Closed {
				return
			}
			t.Fatalf("expectClosed: got message instead of close sentinel: %v", r.Message)
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expectClosed: timed out")
}

func send(t *testing.T, end *qstream.End, msg *wire.Message) {
	t.Helper()
	if err := end.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func authMsg(root bool, clid *wire.ID) *wire.Message {
	msg := wire.NewMessage()
	msg.SetString(wire.KeyChan, wire.ChanAuth)
	if root {
		msg.SetBool(wire.KeyRoot, true)
	}
	if clid != nil {
		msg.SetID(wire.KeyClID, *clid)
	}
	return msg
}

// authenticate sends _auth and returns the session's client-id.
func authenticate(t *testing.T, end *qstream.End, root bool, clid *wire.ID) wire.ID {
	t.Helper()

	send(t, end, authMsg(root, clid))
	reply := recvMessage(t, end)
	if code, isErr := reply.Error(); isErr {
		t.Fatalf("_auth failed: %s", code)
	}
	id, ok := reply.GetID(wire.KeyClID)
	if !ok {
		t.Fatalf("_auth reply missing _clid")
	}
	return id
}

func attach(t *testing.T, end *qstream.End, chan_ string, labels ...string) {
	t.Helper()

	msg := wire.NewMessage()
	msg.SetString(wire.KeyChan, wire.ChanAttach)
	msg.SetString(wire.KeyValue, chan_)
	if len(labels) == 1 {
		msg.SetString(wire.KeyLabel, labels[0])
	} else if len(labels) > 1 {
		fields := make([]wire.Field, len(labels))
		for i, l := range labels {
			fields[i] = wire.Field{Tag: wire.TagString, Value: l}
		}
		msg.SetArray(wire.KeyLabel, fields)
	}

	send(t, end, msg)
	reply := recvMessage(t, end)
	if code, isErr := reply.Error(); isErr {
		t.Fatalf("_atta %q failed: %s", chan_, code)
	}
}

// -------------------------------------------------------------------------
// Ping while unauthed
// -------------------------------------------------------------------------

func TestPingWhileUnauthed(t *testing.T) {
	m := newTestManager(t, nil)
	end := connectSession(t, m)

	msg := wire.NewMessage()
	msg.SetString(wire.KeyChan, wire.ChanPing)
	send(t, end, msg)

	reply := recvMessage(t, end)
	if ok, _ := reply.GetInt32(wire.KeyOK); ok != 0 {
		t.Fatalf("_ping reply _ok = %d, want 0", ok)
	}
	if chan_, _ := reply.GetString(wire.KeyChan); chan_ != wire.ChanPing {
		t.Fatalf("_ping reply _chan = %q, want %q", chan_, wire.ChanPing)
	}
}

// -------------------------------------------------------------------------
// Attach requires auth
// -------------------------------------------------------------------------

func TestAttachRequiresAuth(t *testing.T) {
	m := newTestManager(t, nil)
	end := connectSession(t, m)

	msg := wire.NewMessage()
	msg.SetString(wire.KeyChan, wire.ChanAttach)
	msg.SetString(wire.KeyValue, "aaa")
	send(t, end, msg)

	reply := recvMessage(t, end)
	code, isErr := reply.Error()
	if !isErr || code != wire.ErrUnauthorized {
		t.Fatalf("_atta unauthed: error = %q, want %q", code, wire.ErrUnauthorized)
	}
}

// -------------------------------------------------------------------------
// Relay fanout
// -------------------------------------------------------------------------

func TestRelayFanout(t *testing.T) {
	m := newTestManager(t, nil)

	a, b, c := connectSession(t, m), connectSession(t, m), connectSession(t, m)
	authenticate(t, a, false, nil)
	authenticate(t, b, false, nil)
	cClid := authenticate(t, c, false, nil)

	attach(t, a, "x")
	attach(t, b, "x")

	out := wire.NewMessage()
	out.SetString(wire.KeyChan, "x")
	out.SetString("hello", "w")
	out.SetString(wire.KeyAck, "1")
	send(t, c, out)

	for _, end := range []*qstream.End{a, b} {
		got := recvMessage(t, end)
		if v, _ := got.GetString("hello"); v != "w" {
			t.Fatalf("fanout payload hello = %q, want w", v)
		}
		from, ok := got.GetID(wire.KeyFrom)
		if !ok || from != cClid {
			t.Fatalf("fanout _from = %v (ok=%v), want %v", from, ok, cClid)
		}
	}

	ack := recvMessage(t, c)
	if v, _ := ack.GetString(wire.KeyAck); v != "1" {
		t.Fatalf("ack _ack = %q, want 1", v)
	}
	if okv, _ := ack.GetInt32(wire.KeyOK); okv != 0 {
		t.Fatalf("ack _ok = %d, want 0", okv)
	}
}

// -------------------------------------------------------------------------
// Label filter
// -------------------------------------------------------------------------

func TestLabelFilter(t *testing.T) {
	m := newTestManager(t, nil)

	a, b, c := connectSession(t, m), connectSession(t, m), connectSession(t, m)
	authenticate(t, a, false, nil)
	authenticate(t, b, false, nil)
	authenticate(t, c, false, nil)

	attach(t, a, "x", "L1")
	attach(t, b, "x")

	sendLabeled := func(label string) {
		msg := wire.NewMessage()
		msg.SetString(wire.KeyChan, "x")
		if label != "" {
			msg.SetString(wire.KeyLabel, label)
		}
		send(t, c, msg)
	}

	// L2: only B (wildcard) receives.
	sendLabeled("L2")
	_ = recvMessage(t, b)
	expectNoMessage(t, a, 50*time.Millisecond)

	// L1: both receive.
	sendLabeled("L1")
	_ = recvMessage(t, a)
	_ = recvMessage(t, b)

	// no label: both receive.
	sendLabeled("")
	_ = recvMessage(t, a)
	_ = recvMessage(t, b)
}

// -------------------------------------------------------------------------
// Repeated attaches widen; a wildcard subscription stays wildcard.
// -------------------------------------------------------------------------

func TestAttachWildcardSurvivesRelabel(t *testing.T) {
	m := newTestManager(t, nil)

	a, c := connectSession(t, m), connectSession(t, m)
	authenticate(t, a, false, nil)
	authenticate(t, c, false, nil)

	// A is a wildcard subscriber; re-attaching with a label must not
	// narrow it.
	attach(t, a, "x")
	attach(t, a, "x", "L1")

	msg := wire.NewMessage()
	msg.SetString(wire.KeyChan, "x")
	msg.SetString(wire.KeyLabel, "L2")
	send(t, c, msg)

	got := recvMessage(t, a)
	if label, _ := got.GetString(wire.KeyLabel); label != "L2" {
		t.Fatalf("wildcard subscriber missed the L2 message, got label %q", label)
	}
}

func TestAttachWithoutLabelsWidensToWildcard(t *testing.T) {
	m := newTestManager(t, nil)

	a, c := connectSession(t, m), connectSession(t, m)
	authenticate(t, a, false, nil)
	authenticate(t, c, false, nil)

	attach(t, a, "x", "L1")
	attach(t, a, "x")

	msg := wire.NewMessage()
	msg.SetString(wire.KeyChan, "x")
	msg.SetString(wire.KeyLabel, "L2")
	send(t, c, msg)

	_ = recvMessage(t, a)
}

// -------------------------------------------------------------------------
// Share picks one
// -------------------------------------------------------------------------

func TestSharePicksOne(t *testing.T) {
	m := newTestManager(t, nil)

	a, b, c := connectSession(t, m), connectSession(t, m), connectSession(t, m)
	authenticate(t, a, false, nil)
	authenticate(t, b, false, nil)
	authenticate(t, c, false, nil)

	attach(t, a, "x")
	attach(t, b, "x")

	msg := wire.NewMessage()
	msg.SetString(wire.KeyChan, "x")
	msg.SetBool(wire.KeyShare, true)
	msg.SetString(wire.KeyAck, "1")
	send(t, c, msg)

	ack := recvMessage(t, c)
	if okv, _ := ack.GetInt32(wire.KeyOK); okv != 0 {
		t.Fatalf("share ack _ok = %d, want 0", okv)
	}

	aGotIt := false
	if r, ok := a.TryRecv(); ok && !r.Closed {
		aGotIt = true
	}
	bGotIt := false
	if r, ok := b.TryRecv(); ok && !r.Closed {
		bGotIt = true
	}
	if aGotIt == bGotIt {
		t.Fatalf("share delivery: a=%v b=%v, want exactly one", aGotIt, bGotIt)
	}
}

// -------------------------------------------------------------------------
// Duplicate client-id
// -------------------------------------------------------------------------

func TestDuplicateClientID(t *testing.T) {
	m := newTestManager(t, nil)

	s1, s2 := connectSession(t, m), connectSession(t, m)
	z := wire.NewID()

	send(t, s1, authMsg(false, &z))
	reply1 := recvMessage(t, s1)
	if code, isErr := reply1.Error(); isErr {
		t.Fatalf("s1 _auth failed: %s", code)
	}

	send(t, s2, authMsg(false, &z))
	reply2 := recvMessage(t, s2)
	code, isErr := reply2.Error()
	if !isErr || code != wire.ErrDuplicateClientId {
		t.Fatalf("s2 _auth error = %q, want %q", code, wire.ErrDuplicateClientId)
	}
}

// -------------------------------------------------------------------------
// Root kills
// -------------------------------------------------------------------------

func TestRootKills(t *testing.T) {
	m := newTestManager(t, nil)

	root, target := connectSession(t, m), connectSession(t, m)
	authenticate(t, root, true, nil)
	attach(t, root, wire.ChanBreak)

	k := wire.NewID()
	authenticate(t, target, false, &k)

	kill := wire.NewMessage()
	kill.SetString(wire.KeyChan, wire.ChanKill)
	kill.SetID(wire.KeyClID, k)
	send(t, root, kill)

	killReply := recvMessage(t, root)
	if okv, _ := killReply.GetInt32(wire.KeyOK); okv != 0 {
		t.Fatalf("_ctki reply _ok = %d, want 0", okv)
	}
	if clid, _ := killReply.GetID(wire.KeyClID); clid != k {
		t.Fatalf("_ctki reply _clid = %v, want %v", clid, k)
	}

	brk := recvMessage(t, root)
	if chan_, _ := brk.GetString(wire.KeyChan); chan_ != wire.ChanBreak {
		t.Fatalf("event _chan = %q, want %q", chan_, wire.ChanBreak)
	}
	if clid, _ := brk.GetID(wire.KeyClID); clid != k {
		t.Fatalf("_ctbr _clid = %v, want %v", clid, k)
	}

	expectClosed(t, target)
}

// -------------------------------------------------------------------------
// Property: event isolation — the actor never receives its own event.
// -------------------------------------------------------------------------

func TestEventIsolationOnAttach(t *testing.T) {
	m := newTestManager(t, nil)

	root := connectSession(t, m)
	authenticate(t, root, true, nil)
	attach(t, root, wire.ChanAttachEvt)

	// root's own attach to _ctat must not notify itself.
	expectNoMessage(t, root, 50*time.Millisecond)
}

// -------------------------------------------------------------------------
// Property: non-root attach to an admin channel is rejected.
// -------------------------------------------------------------------------

func TestAdminChannelRequiresRoot(t *testing.T) {
	m := newTestManager(t, nil)

	end := connectSession(t, m)
	authenticate(t, end, false, nil)

	msg := wire.NewMessage()
	msg.SetString(wire.KeyChan, wire.ChanAttach)
	msg.SetString(wire.KeyValue, wire.ChanBreak)
	send(t, end, msg)

	reply := recvMessage(t, end)
	code, isErr := reply.Error()
	if !isErr || code != wire.ErrUnauthorized {
		t.Fatalf("non-root attach to admin channel: error = %q, want %q", code, wire.ErrUnauthorized)
	}
}

// -------------------------------------------------------------------------
// Property: direct delivery to an unknown client-id.
// -------------------------------------------------------------------------

func TestDirectDeliveryUnknownTarget(t *testing.T) {
	m := newTestManager(t, nil)

	end := connectSession(t, m)
	authenticate(t, end, false, nil)

	unknown := wire.NewID()
	msg := wire.NewMessage()
	msg.SetString(wire.KeyChan, "x")
	msg.SetID(wire.KeyTo, unknown)
	send(t, end, msg)

	reply := recvMessage(t, end)
	code, isErr := reply.Error()
	if !isErr || code != wire.ErrTargetClientIdNotExist {
		t.Fatalf("direct to unknown id: error = %q, want %q", code, wire.ErrTargetClientIdNotExist)
	}
	if clid, ok := reply.GetID(wire.KeyClID); !ok || clid != unknown {
		t.Fatalf("direct to unknown id: _clid = %v (ok=%v), want %v", clid, ok, unknown)
	}
}

// -------------------------------------------------------------------------
// Property: fanout with no subscribers yields NoConsumers.
// -------------------------------------------------------------------------

func TestNoConsumers(t *testing.T) {
	m := newTestManager(t, nil)

	end := connectSession(t, m)
	authenticate(t, end, false, nil)

	msg := wire.NewMessage()
	msg.SetString(wire.KeyChan, "nobody-home")
	send(t, end, msg)

	reply := recvMessage(t, end)
	code, isErr := reply.Error()
	if !isErr || code != wire.ErrNoConsumers {
		t.Fatalf("fanout with no subscribers: error = %q, want %q", code, wire.ErrNoConsumers)
	}
}

// -------------------------------------------------------------------------
// Property: _mine does not require auth and reports auth=false.
// -------------------------------------------------------------------------

func TestMineUnauthed(t *testing.T) {
	m := newTestManager(t, nil)
	end := connectSession(t, m)

	msg := wire.NewMessage()
	msg.SetString(wire.KeyChan, wire.ChanMine)
	send(t, end, msg)

	reply := recvMessage(t, end)
	if okv, _ := reply.GetInt32(wire.KeyOK); okv != 0 {
		t.Fatalf("_mine reply _ok = %d, want 0", okv)
	}
	snap, ok := reply.GetMessage(wire.KeyValue)
	if !ok {
		t.Fatalf("_mine reply missing _valu")
	}
	if authed, _ := snap.GetBool(wire.ChanAuth); authed {
		t.Fatalf("_mine snapshot _auth = true, want false before authenticating")
	}
}

// -------------------------------------------------------------------------
// NoConsumers reflects recipient selection, not delivery success: a send
// whose deliveries are all vetoed by the push hook still acks cleanly.
// -------------------------------------------------------------------------

type denyPushHooks struct{ hook.DefaultHooks }

func (denyPushHooks) Push(hook.SessionView, *wire.Message) bool { return false }

func TestPushDenialDoesNotReportNoConsumers(t *testing.T) {
	m := newTestManager(t, denyPushHooks{})

	a, c := connectSession(t, m), connectSession(t, m)
	authenticate(t, a, false, nil)
	authenticate(t, c, false, nil)

	attach(t, a, "x")

	msg := wire.NewMessage()
	msg.SetString(wire.KeyChan, "x")
	msg.SetString(wire.KeyAck, "1")
	send(t, c, msg)

	ack := recvMessage(t, c)
	if code, isErr := ack.Error(); isErr {
		t.Fatalf("sender got error %q, want a clean ack", code)
	}
	if okv, _ := ack.GetInt32(wire.KeyOK); okv != 0 {
		t.Fatalf("ack _ok = %d, want 0", okv)
	}

	expectNoMessage(t, a, 50*time.Millisecond)
}

// -------------------------------------------------------------------------
// A rejecting Accept hook causes Connect to fail.
// -------------------------------------------------------------------------

type rejectAllHooks struct{ hook.DefaultHooks }

func (rejectAllHooks) Accept(hook.SessionView) bool { return false }

func TestConnectRefusedByHook(t *testing.T) {
	m := newTestManager(t, rejectAllHooks{})

	_, err := m.Connect(context.Background(), nil)
	if err != switchcore.ErrConnectionRefused {
		t.Fatalf("Connect: err = %v, want ErrConnectionRefused", err)
	}
}
