package wire

// Reserved field keys. All begin with "_"; application message keys must
// not collide with them. The exact strings are part of the wire protocol
// and must never change: deployed clients depend on them.
const (
	KeyChan   = "_chan"
	KeyValue  = "_valu"
	KeyLabel  = "_labe"
	KeyFrom   = "_from"
	KeyTo     = "_to"
	KeyAck    = "_ack"
	KeyID     = "_id"
	KeyClID   = "_clid"
	KeyNoID   = "_noid"
	KeyShare  = "_shar"
	KeyRoot   = "_root"
	KeyChans  = "_chas"
	KeyAttr   = "_attr"
	KeyAddr   = "_addr"
	KeySendCount = "_send_messages"
	KeyRecvCount = "_recv_messages"

	KeyOK    = "_ok"
	KeyError = "_error"
)

// Control channels — messages whose "_chan" value is one of these are
// dispatched to a fixed handler rather than relayed.
const (
	ChanAuth   = "_auth"
	ChanAttach = "_atta"
	ChanDetach = "_deta"
	ChanPing   = "_ping"
	ChanQuery  = "_quer"
	ChanMine   = "_mine"
	ChanCustom = "_cust"
	ChanKill   = "_ctki"
)

// Administrative event channels — only root sessions may subscribe to
// these.
const (
	ChanReady  = "_ctre"
	ChanBreak  = "_ctbr"
	ChanAttachEvt = "_ctat"
	ChanDetachEvt = "_ctde"
	ChanSendEvt   = "_ctse"
	ChanRecvEvt   = "_ctrc"
)

// AdminChannels lists every administrative event channel, used by the
// attach/detach handlers to decide whether root is required.
var AdminChannels = map[string]bool{
	ChanReady:     true,
	ChanBreak:     true,
	ChanAttachEvt: true,
	ChanDetachEvt: true,
	ChanSendEvt:   true,
	ChanRecvEvt:   true,
}

// IsControlChan reports whether chan_ is a protocol control channel
// (begins with "_"), as opposed to an application relay channel.
func IsControlChan(chan_ string) bool {
	return len(chan_) > 0 && chan_[0] == '_'
}

// Handshake/crypto vocabulary.
const (
	ChanHandshake = "_hand"
	KeyMethod     = "_meth"
	KeySecure     = "_secu"

	MethodAES128GCM  = "AES_128_GCM"
	MethodAES256GCM  = "AES_256_GCM"
	MethodChaCha20   = "CHACHA20_POLY1305"
)

// Query sub-keys answered by hook.IntrospectionHooks (DefaultHooks answers
// none of them).
const (
	QueryClientNum = "$client_num"
	QueryChanNum   = "$chan_num"
	QueryChans     = "$chans"
	QueryClient    = "$client"
)

// Error codes.
const (
	ErrUnauthorized            = "Unauthorized"
	ErrAuthenticationFailed    = "AuthenticationFailed"
	ErrRefuseReceiveMessage    = "RefuseReceiveMessage"
	ErrCannotGetChanField      = "CannotGetChanField"
	ErrUnsupportedChan         = "UnsupportedChan"
	ErrCannotGetValueField     = "CannotGetValueField"
	ErrInvalidRootFieldType    = "InvalidRootFieldType"
	ErrInvalidClientIdFieldType = "InvalidClientIdFieldType"
	ErrInvalidLabelFieldType   = "InvalidLabelFieldType"
	ErrInvalidToFieldType      = "InvalidToFieldType"
	ErrDuplicateClientId       = "DuplicateClientId"
	ErrTargetClientIdNotExist  = "TargetClientIdNotExist"
	ErrNoConsumers             = "NoConsumers"
	ErrNotFound                = "NotFound"
)
