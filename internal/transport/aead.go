package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/dantte-lp/goqueen/internal/wire"
)

// tagSize is the authentication tag length appended to every sealed frame.
// All three negotiable ciphers use 16-byte tags.
const tagSize = 16

// nonceSize is the AEAD nonce length. The nonce is the per-direction frame
// counter zero-extended to 12 bytes; counters start at zero on every
// connection, so the pre-shared key must not be shared across deployments
// that need cross-connection nonce uniqueness.
const nonceSize = 12

// ErrUnknownMethod is returned when a handshake names a cipher outside the
// negotiable set.
var ErrUnknownMethod = errors.New("transport: unknown AEAD method")

// ErrBadKeyLength is returned when the pre-shared key does not match the
// selected method's key length (16 bytes for AES-128-GCM, 32 otherwise).
var ErrBadKeyLength = errors.New("transport: pre-shared key has wrong length")

// KeyLen returns the pre-shared key length method requires.
func KeyLen(method string) (int, error) {
	switch method {
	case wire.MethodAES128GCM:
		return 16, nil
	case wire.MethodAES256GCM, wire.MethodChaCha20:
		return 32, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

// newAEAD constructs the cipher named by method over key.
func newAEAD(method string, key []byte) (cipher.AEAD, error) {
	want, err := KeyLen(method)
	if err != nil {
		return nil, err
	}
	if len(key) != want {
		return nil, fmt.Errorf("%w: method %s needs %d bytes, got %d", ErrBadKeyLength, method, want, len(key))
	}

	switch method {
	case wire.MethodAES128GCM, wire.MethodAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("transport: aes cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("transport: gcm mode: %w", err)
		}
		return gcm, nil
	case wire.MethodChaCha20:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("transport: chacha20poly1305: %w", err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

// sealer seals/opens frame bodies with independent per-direction counters.
type sealer struct {
	aead        cipher.AEAD
	sealCounter uint64
	openCounter uint64
}

func newSealer(method string, key []byte) (*sealer, error) {
	aead, err := newAEAD(method, key)
	if err != nil {
		return nil, err
	}
	return &sealer{aead: aead}, nil
}

// seal encrypts plaintext under the next outbound nonce and returns
// ciphertext||tag.
func (s *sealer) seal(plaintext []byte) []byte {
	var nonce [nonceSize]byte
	binary.BigEndian.PutUint64(nonce[nonceSize-8:], s.sealCounter)
	s.sealCounter++
	return s.aead.Seal(nil, nonce[:], plaintext, nil)
}

// open decrypts ciphertext||tag under the next inbound nonce.
func (s *sealer) open(sealed []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	binary.BigEndian.PutUint64(nonce[nonceSize-8:], s.openCounter)
	plaintext, err := s.aead.Open(nil, nonce[:], sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: open frame %d: %w", s.openCounter, err)
	}
	s.openCounter++
	return plaintext, nil
}
