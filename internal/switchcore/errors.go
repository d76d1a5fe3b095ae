package switchcore

import "errors"

// ErrSwitchClosed is returned by Connect once the switch has shut down and
// is no longer accepting new connect requests.
var ErrSwitchClosed = errors.New("switchcore: switch is closed")

// ErrConnectionRefused is returned by Connect when hook.Accept rejects the
// candidate session.
var ErrConnectionRefused = errors.New("switchcore: connection refused by accept hook")
