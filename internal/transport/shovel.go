//go:build linux

package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dantte-lp/goqueen/internal/qstream"
)

// sendRetryDelay is how long the inbound shovel backs off when the switch
// side of the stream is at capacity. The frame stays buffered in the socket
// meanwhile, so sustained backpressure surfaces to the peer as TCP write
// backpressure, per the front-end contract.
const sendRetryDelay = time.Millisecond

// outboundPollMillis bounds each readiness wait on the stream's fd, so the
// outbound shovel notices a done context or closed socket promptly.
const outboundPollMillis = 250

// shovel pumps frames between fc and the switch end of a session stream
// until the socket errors, the peer closes, the switch closes the stream,
// or ctx is done. It runs both directions and returns when the first one
// stops, closing both sides so the other direction unwinds too.
func shovel(ctx context.Context, logger *slog.Logger, fc *frameConn, end *qstream.End) {
	done := make(chan struct{}, 2)

	go func() {
		shovelInbound(ctx, logger, fc, end)
		done <- struct{}{}
	}()
	go func() {
		shovelOutbound(ctx, logger, fc, end)
		done <- struct{}{}
	}()

	<-done
	end.Close()
	_ = fc.Close()
	<-done
}

// shovelInbound moves decoded socket frames into the stream.
func shovelInbound(ctx context.Context, logger *slog.Logger, fc *frameConn, end *qstream.End) {
	for {
		msg, err := fc.ReadMessage()
		if err != nil {
			if !isExpectedClose(err) {
				logger.Warn("socket read failed", slog.Any("error", err))
			}
			return
		}

		for {
			err := end.Send(msg)
			if err == nil {
				break
			}
			if errors.Is(err, qstream.ErrClosed) {
				return
			}
			// Bounded stream at capacity: the caller of Send owns the
			// retry, so back off here and try again.
			select {
			case <-ctx.Done():
				return
			case <-time.After(sendRetryDelay):
			}
		}
	}
}

// shovelOutbound moves stream messages out onto the socket. Readiness of
// the stream's inbound queue is surfaced through its self-pipe fd, polled
// level-triggered the same way the switch's own reactor watches it.
func shovelOutbound(ctx context.Context, logger *slog.Logger, fc *frameConn, end *qstream.End) {
	fds := []unix.PollFd{{Fd: int32(end.Fd()), Events: unix.POLLIN}}

	for {
		if ctx.Err() != nil {
			return
		}

		for {
			recv, ok := end.TryRecv()
			if !ok {
				break
			}
			if recv.Closed {
				return
			}
			if err := fc.WriteMessage(recv.Message); err != nil {
				if !isExpectedClose(err) {
					logger.Warn("socket write failed", slog.Any("error", err))
				}
				return
			}
		}

		fds[0].Revents = 0
		if _, err := unix.Poll(fds, outboundPollMillis); err != nil && err != unix.EINTR {
			logger.Warn("stream poll failed", slog.Any("error", err))
			return
		}
	}
}

// isExpectedClose reports whether err is the ordinary end-of-connection
// noise of a peer hanging up, not worth a warning.
func isExpectedClose(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, unix.ECONNRESET) ||
		errors.Is(err, unix.EPIPE)
}
