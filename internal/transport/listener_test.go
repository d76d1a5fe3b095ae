//go:build linux

package transport

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/dantte-lp/goqueen/internal/qstream"
	"github.com/dantte-lp/goqueen/internal/switchcore"
	"github.com/dantte-lp/goqueen/internal/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// startSwitch runs a Manager and a TCP front-end for it, both torn down
// with the test.
func startSwitch(t *testing.T, crypto CryptoConfig) (*switchcore.Manager, string) {
	t.Helper()

	mgr, err := switchcore.NewManager(switchcore.Config{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgrDone := make(chan struct{})
	go func() {
		defer close(mgrDone)
		_ = mgr.Run(ctx)
	}()

	ln, err := NewListener(ListenerConfig{
		Network: "tcp",
		Addr:    "127.0.0.1:0",
		Crypto:  crypto,
	}, mgr, testLogger())
	if err != nil {
		cancel()
		<-mgrDone
		t.Fatalf("NewListener: %v", err)
	}

	lnDone := make(chan struct{})
	go func() {
		defer close(lnDone)
		_ = ln.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-lnDone
		<-mgrDone
	})

	return mgr, ln.Addr().String()
}

func dialStream(t *testing.T, addr string, crypto CryptoConfig) *qstream.End {
	t.Helper()

	d := &Dialer{Network: "tcp", Addr: addr, Crypto: crypto, Logger: testLogger()}
	end, err := d.Connect(context.Background(), nil)
	if err != nil {
		t.Fatalf("Dialer.Connect: %v", err)
	}
	t.Cleanup(func() { end.Close() })
	return end
}

func awaitMessage(t *testing.T, end *qstream.End) *wire.Message {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if r, ok := end.TryRecv(); ok {
			if r.Closed {
				t.Fatal("stream closed while waiting for a message")
			}
			return r.Message
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for a message")
	return nil
}

func TestListenerPingOverTCP(t *testing.T) {
	_, addr := startSwitch(t, CryptoConfig{})
	end := dialStream(t, addr, CryptoConfig{})

	ping := wire.NewMessage()
	ping.SetString(wire.KeyChan, wire.ChanPing)
	if err := end.Send(ping); err != nil {
		t.Fatalf("Send: %v", err)
	}

	reply := awaitMessage(t, end)
	if ch, _ := reply.GetString(wire.KeyChan); ch != wire.ChanPing {
		t.Errorf("_chan = %q, want _ping", ch)
	}
	if ok, _ := reply.GetInt32(wire.KeyOK); ok != 0 {
		t.Errorf("_ok = %d, want 0", ok)
	}
}

func TestListenerSealedSession(t *testing.T) {
	crypto := CryptoConfig{
		Method:   wire.MethodChaCha20,
		Key:      testKey(32),
		Required: true,
	}
	_, addr := startSwitch(t, crypto)
	end := dialStream(t, addr, crypto)

	auth := wire.NewMessage()
	auth.SetString(wire.KeyChan, wire.ChanAuth)
	if err := end.Send(auth); err != nil {
		t.Fatalf("Send: %v", err)
	}

	reply := awaitMessage(t, end)
	if ok, _ := reply.GetInt32(wire.KeyOK); ok != 0 {
		t.Fatalf("_ok = %d, want 0", ok)
	}
	if _, has := reply.GetID(wire.KeyClID); !has {
		t.Error("auth reply lacks _clid")
	}
	if _, has := reply.GetID(wire.KeyNoID); !has {
		t.Error("auth reply lacks _noid")
	}
}

func TestListenerSessionAttrCarriesPeerAddress(t *testing.T) {
	mgr, addr := startSwitch(t, CryptoConfig{})
	end := dialStream(t, addr, CryptoConfig{})

	mine := wire.NewMessage()
	mine.SetString(wire.KeyChan, wire.ChanMine)
	if err := end.Send(mine); err != nil {
		t.Fatalf("Send: %v", err)
	}

	reply := awaitMessage(t, end)
	snap, ok := reply.GetMessage(wire.KeyValue)
	if !ok {
		t.Fatalf("_mine reply lacks _valu message")
	}
	attr, ok := snap.GetMessage(wire.KeyAttr)
	if !ok {
		t.Fatalf("_mine snapshot lacks _attr")
	}
	if peer, _ := attr.GetString(wire.KeyAddr); peer == "" {
		t.Error("_attr lacks the peer address")
	}
	if network, _ := attr.GetString(attrKeyNetwork); network != "tcp" {
		t.Errorf("network attr = %q, want tcp", network)
	}

	if mgr.Stats().SessionCount != 1 {
		t.Errorf("SessionCount = %d, want 1", mgr.Stats().SessionCount)
	}
}

func TestListenerPeerCloseRemovesSession(t *testing.T) {
	mgr, addr := startSwitch(t, CryptoConfig{})
	end := dialStream(t, addr, CryptoConfig{})

	// Establish the session before closing, so there is something to remove.
	ping := wire.NewMessage()
	ping.SetString(wire.KeyChan, wire.ChanPing)
	if err := end.Send(ping); err != nil {
		t.Fatalf("Send: %v", err)
	}
	awaitMessage(t, end)

	end.Close()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if mgr.Stats().SessionCount == 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("SessionCount = %d after peer close, want 0", mgr.Stats().SessionCount)
}
