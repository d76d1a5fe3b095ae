package wire

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"sync/atomic"
	"time"
)

// ID is a 12-byte globally unique message/client identifier: 4 bytes of
// Unix seconds, 5 random bytes, and a 3-byte rolling counter. Equality is
// byte equality; routing treats the value as opaque. Ordering by the first
// four bytes is enough to make generation monotonic-ish, which is all
// NewID needs to guarantee.
type ID [12]byte

// idCounter is the process-wide 3-byte rolling counter shared by NewID.
var idCounter atomic.Uint32

// NewID generates a fresh ID. Safe for concurrent use.
func NewID() ID {
	var id ID

	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))

	var random [5]byte
	// crypto/rand never fails on supported platforms; a failure here would
	// indicate a broken entropy source, which is an environment fault, not
	// one this switch can recover from.
	if _, err := rand.Read(random[:]); err != nil {
		panic("wire: crypto/rand unavailable: " + err.Error())
	}
	copy(id[4:9], random[:])

	c := idCounter.Add(1)
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)

	return id
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// String renders id as lowercase hex, for logging only.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Before reports whether id was very likely generated earlier than other,
// by comparing the leading 4-byte (second-resolution) timestamp. Equal
// timestamps compare as not-before; routing never relies on this ordering,
// only diagnostics do.
func (id ID) Before(other ID) bool {
	return binary.BigEndian.Uint32(id[0:4]) < binary.BigEndian.Uint32(other[0:4])
}
