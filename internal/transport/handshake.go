package transport

import (
	"errors"
	"fmt"

	"github.com/dantte-lp/goqueen/internal/wire"
)

// CryptoConfig describes a side's handshake stance.
type CryptoConfig struct {
	// Required forces the peer to request _secu=true; a peer that declines
	// is dropped after an error reply.
	Required bool

	// Method is the cipher this side offers/accepts: one of the three
	// wire.Method* names. Empty means AES_256_GCM.
	Method string

	// Key is the pre-shared key. Must match Method's key length whenever a
	// sealed session is possible (Required, or a peer may request _secu).
	Key []byte
}

func (c CryptoConfig) method() string {
	if c.Method == "" {
		return wire.MethodAES256GCM
	}
	return c.Method
}

// Handshake errors returned by serverHandshake. Except for
// ErrHandshakeExpected, the peer is first sent its _hand message back
// stamped with a wire error code before the connection is dropped.
var (
	ErrHandshakeExpected  = errors.New("transport: first frame is not a _hand message")
	ErrMethodMismatch     = errors.New("transport: peer requested a different AEAD method")
	ErrSecurityRequired   = errors.New("transport: this endpoint requires _secu=true")
	ErrSecurityUnavailable = errors.New("transport: no pre-shared key configured for _secu=true")
)

// serverHandshake runs the accepting side of the _hand exchange on fc:
// read the peer's plaintext {_chan:_hand, _meth, _secu} message, echo it
// with a status stamp, and upgrade fc to sealed frames when _secu=true was
// agreed. Returns whether the session ended up sealed.
func serverHandshake(fc *frameConn, cfg CryptoConfig) (bool, error) {
	msg, err := fc.ReadMessage()
	if err != nil {
		return false, fmt.Errorf("transport: read handshake: %w", err)
	}

	chanName, ok := msg.GetString(wire.KeyChan)
	if !ok || chanName != wire.ChanHandshake {
		return false, ErrHandshakeExpected
	}

	method := cfg.method()
	if peerMethod, ok := msg.GetString(wire.KeyMethod); ok && peerMethod != method {
		msg.StampError(wire.ErrUnsupportedChan)
		_ = fc.WriteMessage(msg)
		return false, fmt.Errorf("%w: offered %s, peer wants %s", ErrMethodMismatch, method, peerMethod)
	}

	secure, _ := msg.GetBool(wire.KeySecure)
	if cfg.Required && !secure {
		msg.StampError(wire.ErrUnauthorized)
		_ = fc.WriteMessage(msg)
		return false, ErrSecurityRequired
	}
	if secure && len(cfg.Key) == 0 {
		msg.StampError(wire.ErrUnauthorized)
		_ = fc.WriteMessage(msg)
		return false, ErrSecurityUnavailable
	}

	msg.StampOK()
	if err := fc.WriteMessage(msg); err != nil {
		return false, fmt.Errorf("transport: write handshake reply: %w", err)
	}

	if !secure {
		return false, nil
	}
	if err := fc.upgrade(method, cfg.Key); err != nil {
		return false, err
	}
	return true, nil
}

// clientHandshake runs the dialing side: send the plaintext _hand offer,
// read the echo, and upgrade on agreement.
func clientHandshake(fc *frameConn, cfg CryptoConfig) (bool, error) {
	secure := cfg.Required || len(cfg.Key) > 0
	method := cfg.method()

	offer := wire.NewMessage()
	offer.SetString(wire.KeyChan, wire.ChanHandshake)
	offer.SetString(wire.KeyMethod, method)
	offer.SetBool(wire.KeySecure, secure)
	if err := fc.WriteMessage(offer); err != nil {
		return false, fmt.Errorf("transport: write handshake: %w", err)
	}

	reply, err := fc.ReadMessage()
	if err != nil {
		return false, fmt.Errorf("transport: read handshake reply: %w", err)
	}
	if code, failed := reply.Error(); failed {
		return false, fmt.Errorf("transport: handshake rejected: %s", code)
	}

	if !secure {
		return false, nil
	}
	if err := fc.upgrade(method, cfg.Key); err != nil {
		return false, err
	}
	return true, nil
}
