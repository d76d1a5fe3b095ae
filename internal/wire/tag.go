// Package wire implements the switch's self-describing binary message
// format: an ordered mapping from short string keys to tagged values.
package wire

import "fmt"

// Tag identifies the wire type of a field value. The dictionary is stable
// across versions: existing tag values are never renumbered, only appended.
type Tag byte

const (
	TagNull Tag = iota
	TagBool
	TagInt32
	TagInt64
	TagUint32
	TagUint64
	TagFloat32
	TagFloat64
	TagString
	TagBinary
	TagTimestamp
	TagID
	TagArray
	TagMessage
)

// String returns the tag's name, used in decode-failure diagnostics.
func (t Tag) String() string {
	switch t {
	case TagNull:
		return "null"
	case TagBool:
		return "bool"
	case TagInt32:
		return "i32"
	case TagInt64:
		return "i64"
	case TagUint32:
		return "u32"
	case TagUint64:
		return "u64"
	case TagFloat32:
		return "f32"
	case TagFloat64:
		return "f64"
	case TagString:
		return "string"
	case TagBinary:
		return "binary"
	case TagTimestamp:
		return "timestamp"
	case TagID:
		return "id"
	case TagArray:
		return "array"
	case TagMessage:
		return "message"
	default:
		return fmt.Sprintf("tag(%d)", byte(t))
	}
}

// maxKeyLen bounds a field key to a single length-prefix byte, matching the
// "short string keys" requirement of the data model.
const maxKeyLen = 255

// maxBodyLen is the largest a single top-level encoded message may be,
// matching the transport front-end's maximum frame length.
const maxBodyLen = 64 << 20
