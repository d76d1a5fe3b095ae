package hook

import "github.com/dantte-lp/goqueen/internal/wire"

// IntrospectionHooks answers the $client_num/$chan_num/$chans/$client
// query sub-keys against whatever QueryContext it is given. Embed it and
// override Custom for anything beyond basic introspection.
type IntrospectionHooks struct {
	DefaultHooks
}

// Query answers m's "_valu" sub-key in place, leaving it untouched if the
// key is absent or unrecognized (the caller still gets _ok=0 either way).
func (IntrospectionHooks) Query(ctx QueryContext, token int, m *wire.Message) {
	key, ok := m.GetString(wire.KeyValue)
	if !ok {
		return
	}

	switch key {
	case wire.QueryClientNum:
		m.SetInt32(wire.KeyValue, int32(len(ctx.Sessions())))

	case wire.QueryChanNum:
		m.SetInt32(wire.KeyValue, int32(ctx.ChanCount()))

	case wire.QueryChans:
		seen := make(map[string]struct{})
		for _, sv := range ctx.Sessions() {
			for chan_ := range sv.Chans() {
				seen[chan_] = struct{}{}
			}
		}
		fields := make([]wire.Field, 0, len(seen))
		for chan_ := range seen {
			fields = append(fields, wire.Field{Tag: wire.TagString, Value: chan_})
		}
		m.SetArray(wire.KeyValue, fields)

	case wire.QueryClient:
		target, ok := ctx.Session(token)
		if !ok {
			m.StampError(wire.ErrNotFound)
			return
		}
		snap := wire.NewMessage()
		if clid, has := target.ClientID(); has {
			snap.SetID(wire.KeyClID, clid)
		}
		snap.SetBool(wire.KeyRoot, target.Root())
		snap.SetUint64(wire.KeySendCount, target.SendCount())
		snap.SetUint64(wire.KeyRecvCount, target.RecvCount())
		m.SetMessage(wire.KeyValue, snap)
	}
}

var _ Hooks = IntrospectionHooks{}
