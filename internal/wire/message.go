package wire

import "fmt"

// Field is one (key, tagged value) pair of a Message.
type Field struct {
	Key   string
	Tag   Tag
	Value any
}

// Message is an ordered mapping from short string keys to tagged values.
// Field order is preserved across Set/Decode so that echoed messages are
// byte-for-byte reproducible, which downstream clients rely on.
//
// Keys beginning with "_" are reserved for the protocol (see keys.go); they
// are written by the switch and the client library, and application payload
// fields must not use them.
type Message struct {
	fields []Field
	index  map[string]int
}

// NewMessage returns an empty Message ready for use.
func NewMessage() *Message {
	return &Message{index: make(map[string]int)}
}

// Len returns the number of fields in m.
func (m *Message) Len() int {
	if m == nil {
		return 0
	}
	return len(m.fields)
}

// Fields returns the fields in insertion order. The returned slice must not
// be mutated by the caller.
func (m *Message) Fields() []Field {
	if m == nil {
		return nil
	}
	return m.fields
}

// ensureIndex lazily builds the lookup index, needed because Message's zero
// value has a nil map.
func (m *Message) ensureIndex() {
	if m.index == nil {
		m.index = make(map[string]int, len(m.fields))
		for i, f := range m.fields {
			m.index[f.Key] = i
		}
	}
}

// set stores key=value under the given tag, overwriting any existing field
// with that key in place (preserving its original position) or appending a
// new field at the end.
func (m *Message) set(key string, tag Tag, value any) {
	m.ensureIndex()
	if i, ok := m.index[key]; ok {
		m.fields[i] = Field{Key: key, Tag: tag, Value: value}
		return
	}
	m.index[key] = len(m.fields)
	m.fields = append(m.fields, Field{Key: key, Tag: tag, Value: value})
}

// Get returns the raw field for key and whether it was present.
func (m *Message) Get(key string) (Field, bool) {
	if m == nil {
		return Field{}, false
	}
	m.ensureIndex()
	i, ok := m.index[key]
	if !ok {
		return Field{}, false
	}
	return m.fields[i], true
}

// Has reports whether key is present.
func (m *Message) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Del removes key, if present, shifting later fields down one slot and
// keeping the index consistent.
func (m *Message) Del(key string) {
	if m == nil {
		return
	}
	m.ensureIndex()
	i, ok := m.index[key]
	if !ok {
		return
	}
	m.fields = append(m.fields[:i], m.fields[i+1:]...)
	delete(m.index, key)
	for k, v := range m.index {
		if v > i {
			m.index[k] = v - 1
		}
	}
}

// Clone returns a deep-enough copy: the field slice and index are new and
// nested TagMessage values are cloned recursively, but Binary and Array
// values are shared with m, matching how the switch treats delivered
// messages as immutable after construction.
func (m *Message) Clone() *Message {
	if m == nil {
		return NewMessage()
	}
	// Leave index nil so ensureIndex below builds it from the copied fields.
	out := &Message{}
	out.fields = make([]Field, len(m.fields))
	copy(out.fields, m.fields)
	for i, f := range out.fields {
		if f.Tag == TagMessage {
			if nested, ok := f.Value.(*Message); ok {
				out.fields[i].Value = nested.Clone()
			}
		}
	}
	out.ensureIndex()
	return out
}

// -------------------------------------------------------------------------
// Typed setters
// -------------------------------------------------------------------------

func (m *Message) SetNull(key string)            { m.set(key, TagNull, nil) }
func (m *Message) SetBool(key string, v bool)     { m.set(key, TagBool, v) }
func (m *Message) SetInt32(key string, v int32)   { m.set(key, TagInt32, v) }
func (m *Message) SetInt64(key string, v int64)   { m.set(key, TagInt64, v) }
func (m *Message) SetUint32(key string, v uint32) { m.set(key, TagUint32, v) }
func (m *Message) SetUint64(key string, v uint64) { m.set(key, TagUint64, v) }
func (m *Message) SetFloat32(key string, v float32) { m.set(key, TagFloat32, v) }
func (m *Message) SetFloat64(key string, v float64) { m.set(key, TagFloat64, v) }
func (m *Message) SetString(key string, v string)   { m.set(key, TagString, v) }
func (m *Message) SetBinary(key string, v []byte)   { m.set(key, TagBinary, v) }
func (m *Message) SetID(key string, v ID)           { m.set(key, TagID, v) }
func (m *Message) SetArray(key string, v []Field)   { m.set(key, TagArray, v) }
func (m *Message) SetMessage(key string, v *Message) { m.set(key, TagMessage, v) }

// SetField stores f verbatim under its own key, tag, and value — used where
// a caller already holds a typed Field (e.g. copying "_ack" or "_id" from
// one message into a reply template) and would otherwise need a type switch
// to call the matching typed setter.
func (m *Message) SetField(f Field) { m.set(f.Key, f.Tag, f.Value) }

// -------------------------------------------------------------------------
// Typed getters — each returns (value, ok); ok is false both when the key
// is absent and when it is present with the wrong tag. Control handlers
// that report "missing" and "wrong shape" as distinct error codes use Get
// directly instead.
// -------------------------------------------------------------------------

func (m *Message) GetBool(key string) (bool, bool) {
	f, ok := m.Get(key)
	if !ok || f.Tag != TagBool {
		return false, false
	}
	return f.Value.(bool), true
}

func (m *Message) GetString(key string) (string, bool) {
	f, ok := m.Get(key)
	if !ok || f.Tag != TagString {
		return "", false
	}
	return f.Value.(string), true
}

func (m *Message) GetInt32(key string) (int32, bool) {
	f, ok := m.Get(key)
	if !ok || f.Tag != TagInt32 {
		return 0, false
	}
	return f.Value.(int32), true
}

func (m *Message) GetID(key string) (ID, bool) {
	f, ok := m.Get(key)
	if !ok || f.Tag != TagID {
		return ID{}, false
	}
	return f.Value.(ID), true
}

func (m *Message) GetArray(key string) ([]Field, bool) {
	f, ok := m.Get(key)
	if !ok || f.Tag != TagArray {
		return nil, false
	}
	return f.Value.([]Field), true
}

func (m *Message) GetMessage(key string) (*Message, bool) {
	f, ok := m.Get(key)
	if !ok || f.Tag != TagMessage {
		return nil, false
	}
	return f.Value.(*Message), true
}

// -------------------------------------------------------------------------
// Status stamping — shared by every control handler
// -------------------------------------------------------------------------

// StampOK marks m as a successful reply.
func (m *Message) StampOK() {
	m.SetInt32(KeyOK, 0)
	m.Del(KeyError)
}

// StampError marks m as a failed reply with the given error code. code is
// not restricted to the switch's own codes, so Hooks.Custom can define its
// own vocabulary.
func (m *Message) StampError(code string) {
	m.SetInt32(KeyOK, 1)
	m.SetString(KeyError, code)
}

// Error returns the error code stamped on m, if any.
func (m *Message) Error() (string, bool) {
	return m.GetString(KeyError)
}

// String renders m for logs/diagnostics only; it is not the wire format.
func (m *Message) String() string {
	if m == nil {
		return "<nil message>"
	}
	return fmt.Sprintf("Message(%d fields)", len(m.fields))
}
