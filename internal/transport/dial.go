//go:build linux

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/dantte-lp/goqueen/internal/qstream"
	"github.com/dantte-lp/goqueen/internal/wire"
)

// Dialer connects to a remote switch front-end and presents the connection
// as a local duplex stream, so the port client is indifferent to whether it
// talks to an in-process switch or a remote one.
type Dialer struct {
	// Network is "tcp" or "unix".
	Network string

	// Addr is the front-end's address.
	Addr string

	// Crypto is the handshake stance; a non-empty Key (or Required) makes
	// the dialer request _secu=true.
	Crypto CryptoConfig

	// Capacity bounds the local stream in each direction. Zero means the
	// qstream default.
	Capacity int

	// Logger scopes shovel diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// Connect dials, handshakes, and returns the caller's end of a stream
// bridged to the socket. attr becomes the local stream's metadata; the
// remote switch builds its own from the accepted socket. Closing the
// returned end tears the connection down.
func (d *Dialer) Connect(ctx context.Context, attr *wire.Message) (*qstream.End, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(
		slog.String("component", "transport.dialer"),
		slog.String("addr", d.Addr),
	)

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, d.Network, d.Addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s %s: %w", d.Network, d.Addr, err)
	}

	fc := newFrameConn(conn)
	if _, err := clientHandshake(fc, d.Crypto); err != nil {
		_ = fc.Close()
		return nil, err
	}

	if attr == nil {
		attr = wire.NewMessage()
		attr.SetString(wire.KeyAddr, conn.RemoteAddr().String())
		attr.SetString(attrKeyNetwork, d.Network)
	}

	local, bridged, err := qstream.Pipe(d.Capacity, attr)
	if err != nil {
		_ = fc.Close()
		return nil, fmt.Errorf("transport: create stream: %w", err)
	}

	go shovel(context.WithoutCancel(ctx), logger, fc, bridged)
	return local, nil
}
