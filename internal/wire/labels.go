package wire

// LabelSet is an unordered set of label strings, used both as a
// subscriber's filter (attach/detach) and as a message's claim (relay).
type LabelSet map[string]struct{}

// NewLabelSet builds a LabelSet from a list of labels.
func NewLabelSet(labels ...string) LabelSet {
	s := make(LabelSet, len(labels))
	for _, l := range labels {
		s[l] = struct{}{}
	}
	return s
}

// Union returns a new LabelSet containing every label in s or other.
func (s LabelSet) Union(other LabelSet) LabelSet {
	out := make(LabelSet, len(s)+len(other))
	for l := range s {
		out[l] = struct{}{}
	}
	for l := range other {
		out[l] = struct{}{}
	}
	return out
}

// Subtract returns a new LabelSet containing every label in s not in other.
func (s LabelSet) Subtract(other LabelSet) LabelSet {
	out := make(LabelSet, len(s))
	for l := range s {
		if _, excluded := other[l]; !excluded {
			out[l] = struct{}{}
		}
	}
	return out
}

// Intersects implements the label-intersection predicate shared by attach
// filtering and relay routing: a subscriber with
// filter `sub` is reached by a message carrying labels `msg` when the
// message carries no labels, the subscriber is a wildcard (empty filter),
// or the two sets share at least one label.
func Intersects(msg, sub LabelSet) bool {
	if len(msg) == 0 || len(sub) == 0 {
		return true
	}
	for l := range msg {
		if _, ok := sub[l]; ok {
			return true
		}
	}
	return false
}

// AsFields renders s as an Array-tag-compatible field list, in no
// particular order (sets have none), for embedding into an event message.
func (s LabelSet) AsFields() []Field {
	out := make([]Field, 0, len(s))
	for l := range s {
		out = append(out, Field{Tag: TagString, Value: l})
	}
	return out
}

// DecodeLabelField extracts the optional label field under key from m: it
// may be a single string or an array of strings; any other shape is
// rejected with ok=false so the caller can report InvalidLabelFieldType.
// An absent field yields an empty, valid LabelSet.
func DecodeLabelField(m *Message, key string) (LabelSet, bool) {
	f, present := m.Get(key)
	if !present {
		return LabelSet{}, true
	}
	switch f.Tag {
	case TagString:
		return NewLabelSet(f.Value.(string)), true
	case TagArray:
		elems := f.Value.([]Field)
		labels := make([]string, 0, len(elems))
		for _, e := range elems {
			if e.Tag != TagString {
				return nil, false
			}
			labels = append(labels, e.Value.(string))
		}
		return NewLabelSet(labels...), true
	default:
		return nil, false
	}
}
