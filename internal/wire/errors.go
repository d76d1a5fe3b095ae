package wire

import "errors"

// ErrMalformed is returned by Decode when the byte stream does not contain
// a well-formed Message: a tag the codec does not recognize, a length that
// overruns the declared message body, or a body larger than maxBodyLen.
var ErrMalformed = errors.New("wire: malformed message")

// ErrKeyTooLong is returned by Encode when a field key exceeds maxKeyLen
// bytes — the codec reserves a single length-prefix byte for keys to keep
// the wire format compact, matching the "short string keys" requirement.
var ErrKeyTooLong = errors.New("wire: field key too long")

// ErrUnknownValue is returned by Encode when a Field's Value does not match
// its declared Tag (a programmer error in the caller, not a decode issue).
var ErrUnknownValue = errors.New("wire: value does not match tag")
