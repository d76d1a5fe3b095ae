package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Encode writes m to w as a length-prefixed, self-describing binary
// message: a 4-byte big-endian length (inclusive of itself) followed by
// the encoded field stream.
//
// Decode∘Encode is the identity on well-formed messages.
func Encode(w io.Writer, m *Message) error {
	var body bytes.Buffer
	if err := encodeFields(&body, m.Fields()); err != nil {
		return err
	}

	total := body.Len() + 4
	if total > maxBodyLen {
		return fmt.Errorf("wire: encoded message %d bytes exceeds %d byte limit", total, maxBodyLen)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(total))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body.Bytes())
	return err
}

// Decode reads one length-prefixed message from r. An unrecognized tag or
// a length that overruns the declared body wraps ErrMalformed.
func Decode(r io.Reader) (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	total := binary.BigEndian.Uint32(lenBuf[:])
	if total < 4 || total > maxBodyLen {
		return nil, fmt.Errorf("%w: declared length %d out of range", ErrMalformed, total)
	}

	body := make([]byte, total-4)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	dec := &decoder{buf: body}
	m, err := dec.decodeFields()
	if err != nil {
		return nil, err
	}
	if dec.pos != len(dec.buf) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(dec.buf)-dec.pos)
	}
	return m, nil
}

// -------------------------------------------------------------------------
// Encoding
// -------------------------------------------------------------------------

func encodeFields(buf *bytes.Buffer, fields []Field) error {
	for _, f := range fields {
		if len(f.Key) > maxKeyLen {
			return fmt.Errorf("%w: %q is %d bytes", ErrKeyTooLong, f.Key, len(f.Key))
		}
		buf.WriteByte(byte(f.Tag))
		buf.WriteByte(byte(len(f.Key)))
		buf.WriteString(f.Key)
		if err := encodeValue(buf, f.Tag, f.Value); err != nil {
			return err
		}
	}
	return nil
}

func encodeValue(buf *bytes.Buffer, tag Tag, value any) error {
	switch tag {
	case TagNull:
		return nil
	case TagBool:
		v, ok := value.(bool)
		if !ok {
			return ErrUnknownValue
		}
		if v {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case TagInt32:
		v, ok := value.(int32)
		if !ok {
			return ErrUnknownValue
		}
		writeU32(buf, uint32(v))
	case TagUint32:
		v, ok := value.(uint32)
		if !ok {
			return ErrUnknownValue
		}
		writeU32(buf, v)
	case TagFloat32:
		v, ok := value.(float32)
		if !ok {
			return ErrUnknownValue
		}
		writeU32(buf, math.Float32bits(v))
	case TagInt64:
		v, ok := value.(int64)
		if !ok {
			return ErrUnknownValue
		}
		writeU64(buf, uint64(v))
	case TagUint64:
		v, ok := value.(uint64)
		if !ok {
			return ErrUnknownValue
		}
		writeU64(buf, v)
	case TagFloat64:
		v, ok := value.(float64)
		if !ok {
			return ErrUnknownValue
		}
		writeU64(buf, math.Float64bits(v))
	case TagTimestamp:
		v, ok := value.(int64)
		if !ok {
			return ErrUnknownValue
		}
		writeU64(buf, uint64(v))
	case TagID:
		v, ok := value.(ID)
		if !ok {
			return ErrUnknownValue
		}
		buf.Write(v[:])
	case TagString:
		v, ok := value.(string)
		if !ok {
			return ErrUnknownValue
		}
		writeU32(buf, uint32(len(v)))
		buf.WriteString(v)
	case TagBinary:
		v, ok := value.([]byte)
		if !ok {
			return ErrUnknownValue
		}
		writeU32(buf, uint32(len(v)))
		buf.Write(v)
	case TagArray:
		v, ok := value.([]Field)
		if !ok {
			return ErrUnknownValue
		}
		writeU32(buf, uint32(len(v)))
		for _, elem := range v {
			buf.WriteByte(byte(elem.Tag))
			if err := encodeValue(buf, elem.Tag, elem.Value); err != nil {
				return err
			}
		}
	case TagMessage:
		v, ok := value.(*Message)
		if !ok {
			return ErrUnknownValue
		}
		var nested bytes.Buffer
		if err := encodeFields(&nested, v.Fields()); err != nil {
			return err
		}
		writeU32(buf, uint32(nested.Len()+4))
		buf.Write(nested.Bytes())
	default:
		return fmt.Errorf("%w: unknown tag %s", ErrUnknownValue, tag)
	}
	return nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

// -------------------------------------------------------------------------
// Decoding
// -------------------------------------------------------------------------

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) remaining() int { return len(d.buf) - d.pos }

func (d *decoder) readByte() (byte, error) {
	if d.remaining() < 1 {
		return 0, ErrMalformed
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) readBytes(n int) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, ErrMalformed
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) readU32() (uint32, error) {
	b, err := d.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *decoder) readU64() (uint64, error) {
	b, err := d.readBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// decodeFields decodes a field stream until the decoder's buffer is
// exhausted. Used for both the top-level body and nested TagMessage bodies
// (called on a sub-decoder scoped to that body's byte range).
func (d *decoder) decodeFields() (*Message, error) {
	m := NewMessage()
	for d.remaining() > 0 {
		tagByte, err := d.readByte()
		if err != nil {
			return nil, err
		}
		tag := Tag(tagByte)

		keyLen, err := d.readByte()
		if err != nil {
			return nil, err
		}
		keyBytes, err := d.readBytes(int(keyLen))
		if err != nil {
			return nil, err
		}
		key := string(keyBytes)

		value, err := d.decodeValue(tag)
		if err != nil {
			return nil, err
		}
		m.set(key, tag, value)
	}
	return m, nil
}

func (d *decoder) decodeValue(tag Tag) (any, error) {
	switch tag {
	case TagNull:
		return nil, nil
	case TagBool:
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return b != 0, nil
	case TagInt32:
		v, err := d.readU32()
		if err != nil {
			return nil, err
		}
		return int32(v), nil
	case TagUint32:
		return d.readU32()
	case TagFloat32:
		v, err := d.readU32()
		if err != nil {
			return nil, err
		}
		return math.Float32frombits(v), nil
	case TagInt64:
		v, err := d.readU64()
		if err != nil {
			return nil, err
		}
		return int64(v), nil
	case TagUint64:
		return d.readU64()
	case TagFloat64:
		v, err := d.readU64()
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(v), nil
	case TagTimestamp:
		v, err := d.readU64()
		if err != nil {
			return nil, err
		}
		return int64(v), nil
	case TagID:
		b, err := d.readBytes(12)
		if err != nil {
			return nil, err
		}
		var id ID
		copy(id[:], b)
		return id, nil
	case TagString:
		n, err := d.readU32()
		if err != nil {
			return nil, err
		}
		b, err := d.readBytes(int(n))
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case TagBinary:
		n, err := d.readU32()
		if err != nil {
			return nil, err
		}
		b, err := d.readBytes(int(n))
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	case TagArray:
		count, err := d.readU32()
		if err != nil {
			return nil, err
		}
		elems := make([]Field, 0, count)
		for i := uint32(0); i < count; i++ {
			elemTagByte, err := d.readByte()
			if err != nil {
				return nil, err
			}
			elemTag := Tag(elemTagByte)
			elemValue, err := d.decodeValue(elemTag)
			if err != nil {
				return nil, err
			}
			elems = append(elems, Field{Tag: elemTag, Value: elemValue})
		}
		return elems, nil
	case TagMessage:
		n, err := d.readU32()
		if err != nil || n < 4 {
			return nil, ErrMalformed
		}
		body, err := d.readBytes(int(n) - 4)
		if err != nil {
			return nil, err
		}
		sub := &decoder{buf: body}
		nested, err := sub.decodeFields()
		if err != nil {
			return nil, err
		}
		return nested, nil
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrMalformed, tag)
	}
}
