// Package qstream implements the bounded duplex message pipe: a pair of
// ends, each backed by an SPSC bounded queue plus a self-pipe file
// descriptor so the switch's reactor can learn of new messages without
// polling.
package qstream

import "errors"

// ErrWouldBlock is returned by Send when the peer's inbound queue is at
// capacity. The caller is responsible for retry with backoff — the switch
// itself never blocks on Send.
var ErrWouldBlock = errors.New("qstream: send would block")

// ErrClosed is returned by Send once either end of the pipe has closed.
var ErrClosed = errors.New("qstream: stream closed")
