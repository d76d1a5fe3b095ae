package transport

import (
	"bytes"
	"errors"
	"net"
	"testing"

	"github.com/dantte-lp/goqueen/internal/wire"
)

func testKey(n int) []byte {
	key := make([]byte, n)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func testMessage() *wire.Message {
	msg := wire.NewMessage()
	msg.SetString(wire.KeyChan, "sensor")
	msg.SetString("unit", "celsius")
	msg.SetFloat64("value", 21.5)
	return msg
}

// pipeFramePair returns two frameConns joined by an in-memory socket.
func pipeFramePair(t *testing.T) (*frameConn, *frameConn) {
	t.Helper()

	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return newFrameConn(a), newFrameConn(b)
}

func TestFrameRoundTripPlaintext(t *testing.T) {
	t.Parallel()

	fcA, fcB := pipeFramePair(t)

	sent := testMessage()
	errCh := make(chan error, 1)
	go func() { errCh <- fcA.WriteMessage(sent) }()

	got, err := fcB.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	if v, _ := got.GetString("unit"); v != "celsius" {
		t.Errorf("unit = %q, want celsius", v)
	}
	if got.Len() != sent.Len() {
		t.Errorf("field count = %d, want %d", got.Len(), sent.Len())
	}
}

func TestFrameRoundTripSealed(t *testing.T) {
	t.Parallel()

	for _, method := range []string{wire.MethodAES128GCM, wire.MethodAES256GCM, wire.MethodChaCha20} {
		t.Run(method, func(t *testing.T) {
			t.Parallel()

			fcA, fcB := pipeFramePair(t)

			keyLen, err := KeyLen(method)
			if err != nil {
				t.Fatalf("KeyLen: %v", err)
			}
			key := testKey(keyLen)
			if err := fcA.upgrade(method, key); err != nil {
				t.Fatalf("upgrade A: %v", err)
			}
			if err := fcB.upgrade(method, key); err != nil {
				t.Fatalf("upgrade B: %v", err)
			}

			// Several frames in sequence so the nonce counters advance.
			for i := 0; i < 3; i++ {
				sent := testMessage()
				sent.SetInt32("seq", int32(i))

				errCh := make(chan error, 1)
				go func() { errCh <- fcA.WriteMessage(sent) }()

				got, err := fcB.ReadMessage()
				if err != nil {
					t.Fatalf("ReadMessage[%d]: %v", i, err)
				}
				if err := <-errCh; err != nil {
					t.Fatalf("WriteMessage[%d]: %v", i, err)
				}
				if seq, _ := got.GetInt32("seq"); seq != int32(i) {
					t.Errorf("seq = %d, want %d", seq, i)
				}
			}
		})
	}
}

func TestFrameSealedRejectsWrongKey(t *testing.T) {
	t.Parallel()

	fcA, fcB := pipeFramePair(t)

	if err := fcA.upgrade(wire.MethodAES256GCM, testKey(32)); err != nil {
		t.Fatalf("upgrade A: %v", err)
	}
	other := testKey(32)
	other[0] ^= 0xff
	if err := fcB.upgrade(wire.MethodAES256GCM, other); err != nil {
		t.Fatalf("upgrade B: %v", err)
	}

	go func() { _ = fcA.WriteMessage(testMessage()) }()

	if _, err := fcB.ReadMessage(); err == nil {
		t.Fatal("ReadMessage succeeded with mismatched keys")
	}
}

func TestSealerNonceAdvances(t *testing.T) {
	t.Parallel()

	s, err := newSealer(wire.MethodChaCha20, testKey(32))
	if err != nil {
		t.Fatalf("newSealer: %v", err)
	}

	plaintext := []byte("same plaintext")
	first := s.seal(plaintext)
	second := s.seal(plaintext)
	if bytes.Equal(first, second) {
		t.Error("two seals of the same plaintext produced identical ciphertexts")
	}
}

func TestNewAEADKeyLengthChecked(t *testing.T) {
	t.Parallel()

	if _, err := newAEAD(wire.MethodAES128GCM, testKey(32)); !errors.Is(err, ErrBadKeyLength) {
		t.Errorf("AES-128 with 32-byte key: err = %v, want ErrBadKeyLength", err)
	}
	if _, err := newAEAD("AES_512_GCM", testKey(32)); !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("unknown method: err = %v, want ErrUnknownMethod", err)
	}
}

func TestHandshakeAgreement(t *testing.T) {
	t.Parallel()

	key := testKey(32)
	cfg := CryptoConfig{Method: wire.MethodAES256GCM, Key: key, Required: true}

	fcClient, fcServer := pipeFramePair(t)

	serverDone := make(chan error, 1)
	var serverSecure bool
	go func() {
		secure, err := serverHandshake(fcServer, cfg)
		serverSecure = secure
		serverDone <- err
	}()

	clientSecure, err := clientHandshake(fcClient, cfg)
	if err != nil {
		t.Fatalf("clientHandshake: %v", err)
	}
	if err := <-serverDone; err != nil {
		t.Fatalf("serverHandshake: %v", err)
	}
	if !clientSecure || !serverSecure {
		t.Fatalf("secure = (%v, %v), want both true", clientSecure, serverSecure)
	}

	// Post-handshake traffic must round-trip sealed.
	writeDone := make(chan error, 1)
	go func() { writeDone <- fcClient.WriteMessage(testMessage()) }()
	got, err := fcServer.ReadMessage()
	if err != nil {
		t.Fatalf("sealed ReadMessage: %v", err)
	}
	if err := <-writeDone; err != nil {
		t.Fatalf("sealed WriteMessage: %v", err)
	}
	if ch, _ := got.GetString(wire.KeyChan); ch != "sensor" {
		t.Errorf("_chan = %q, want sensor", ch)
	}
}

func TestHandshakeRequiredRejectsPlaintextPeer(t *testing.T) {
	t.Parallel()

	fcClient, fcServer := pipeFramePair(t)

	serverDone := make(chan error, 1)
	go func() {
		_, err := serverHandshake(fcServer, CryptoConfig{
			Method:   wire.MethodAES256GCM,
			Key:      testKey(32),
			Required: true,
		})
		serverDone <- err
	}()

	// Peer declines encryption.
	_, clientErr := clientHandshake(fcClient, CryptoConfig{Method: wire.MethodAES256GCM})
	if clientErr == nil {
		t.Error("clientHandshake succeeded against a Required server without a key")
	}
	if err := <-serverDone; !errors.Is(err, ErrSecurityRequired) {
		t.Errorf("serverHandshake err = %v, want ErrSecurityRequired", err)
	}
}
