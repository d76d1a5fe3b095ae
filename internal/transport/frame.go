package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/dantte-lp/goqueen/internal/wire"
)

// maxFrameLen is the largest frame the front-end accepts or produces;
// larger frames drop the connection.
const maxFrameLen = 64 << 20

// ErrFrameTooLarge is returned when a frame's declared or produced length
// exceeds maxFrameLen.
var ErrFrameTooLarge = errors.New("transport: frame exceeds 64 MiB limit")

// frameConn reads and writes wire.Messages over a net.Conn. In plaintext
// mode a frame is exactly wire.Encode's output (whose leading 4-byte length
// already satisfies the inclusive-length frame rule). In sealed mode the
// encoded message becomes the AEAD plaintext, and the frame is a fresh
// length prefix followed by ciphertext||tag.
//
// Reads and writes are independently serialized, so one goroutine may read
// while another writes — the shape the shovel loops rely on.
type frameConn struct {
	conn net.Conn

	readMu  sync.Mutex
	writeMu sync.Mutex

	// crypto is nil until the handshake upgrades the connection.
	cryptoMu sync.RWMutex
	crypto   *sealer
}

func newFrameConn(conn net.Conn) *frameConn {
	return &frameConn{conn: conn}
}

// upgrade switches all subsequent frames to AEAD sealing.
func (fc *frameConn) upgrade(method string, key []byte) error {
	s, err := newSealer(method, key)
	if err != nil {
		return err
	}
	fc.cryptoMu.Lock()
	fc.crypto = s
	fc.cryptoMu.Unlock()
	return nil
}

func (fc *frameConn) sealer() *sealer {
	fc.cryptoMu.RLock()
	defer fc.cryptoMu.RUnlock()
	return fc.crypto
}

// WriteMessage encodes and frames msg onto the connection.
func (fc *frameConn) WriteMessage(msg *wire.Message) error {
	var encoded bytes.Buffer
	if err := wire.Encode(&encoded, msg); err != nil {
		return fmt.Errorf("transport: encode message: %w", err)
	}

	fc.writeMu.Lock()
	defer fc.writeMu.Unlock()

	s := fc.sealer()
	if s == nil {
		if encoded.Len() > maxFrameLen {
			return ErrFrameTooLarge
		}
		if _, err := fc.conn.Write(encoded.Bytes()); err != nil {
			return fmt.Errorf("transport: write frame: %w", err)
		}
		return nil
	}

	// Sealing appends exactly tagSize bytes, so the limit can be enforced
	// before paying for the encryption.
	if encoded.Len()+tagSize+4 > maxFrameLen {
		return ErrFrameTooLarge
	}

	sealed := s.seal(encoded.Bytes())
	total := len(sealed) + 4

	frame := make([]byte, total)
	binary.BigEndian.PutUint32(frame[:4], uint32(total))
	copy(frame[4:], sealed)
	if _, err := fc.conn.Write(frame); err != nil {
		return fmt.Errorf("transport: write sealed frame: %w", err)
	}
	return nil
}

// ReadMessage reads and decodes one frame from the connection.
func (fc *frameConn) ReadMessage() (*wire.Message, error) {
	fc.readMu.Lock()
	defer fc.readMu.Unlock()

	var lenBuf [4]byte
	if _, err := io.ReadFull(fc.conn, lenBuf[:]); err != nil {
		return nil, err
	}
	total := binary.BigEndian.Uint32(lenBuf[:])
	if total < 4 || total > maxFrameLen {
		return nil, fmt.Errorf("%w: declared length %d", ErrFrameTooLarge, total)
	}

	body := make([]byte, total-4)
	if _, err := io.ReadFull(fc.conn, body); err != nil {
		return nil, err
	}

	s := fc.sealer()
	if s == nil {
		// Plaintext: the frame is the encoded message itself, so stitch the
		// length prefix back on for wire.Decode.
		msg, err := wire.Decode(io.MultiReader(bytes.NewReader(lenBuf[:]), bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("transport: decode frame: %w", err)
		}
		return msg, nil
	}

	plaintext, err := s.open(body)
	if err != nil {
		return nil, err
	}
	msg, err := wire.Decode(bytes.NewReader(plaintext))
	if err != nil {
		return nil, fmt.Errorf("transport: decode sealed frame: %w", err)
	}
	return msg, nil
}

// Close closes the underlying connection.
func (fc *frameConn) Close() error {
	return fc.conn.Close()
}
