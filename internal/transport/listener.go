//go:build linux

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/dantte-lp/goqueen/internal/switchcore"
	"github.com/dantte-lp/goqueen/internal/wire"
)

// Attr keys the front-end stamps into each session's immutable metadata.
// "_addr" is the reserved peer-address key; the transport kind and security
// flag are front-end metadata, not protocol fields, so they use plain keys.
const (
	attrKeyNetwork = "network"
	attrKeySecure  = "secure"
)

// handshakeTimeout bounds how long an accepted connection may take to
// complete the _hand exchange before it is dropped.
const handshakeTimeout = 30 * time.Second

// ListenerConfig holds configuration for one front-end socket.
type ListenerConfig struct {
	// Network is "tcp" or "unix".
	Network string

	// Addr is a host:port for "tcp", or a filesystem path for "unix".
	Addr string

	// Crypto is this socket's handshake stance.
	Crypto CryptoConfig

	// MaxConns caps concurrent accepted connections. Zero means no cap.
	MaxConns int
}

// Listener accepts sockets, runs the handshake, and adapts each connection
// to a switch stream. Construction binds the socket, Run drives the accept
// loop under a context, Close unblocks it.
type Listener struct {
	cfg    ListenerConfig
	ln     net.Listener
	mgr    *switchcore.Manager
	logger *slog.Logger

	wg sync.WaitGroup
}

// NewListener binds cfg's socket. The listener does not accept connections
// until Run is called.
func NewListener(cfg ListenerConfig, mgr *switchcore.Manager, logger *slog.Logger) (*Listener, error) {
	ln, err := net.Listen(cfg.Network, cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s %s: %w", cfg.Network, cfg.Addr, err)
	}
	if cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConns)
	}

	return &Listener{
		cfg: cfg,
		ln:  ln,
		mgr: mgr,
		logger: logger.With(
			slog.String("component", "transport"),
			slog.String("network", cfg.Network),
			slog.String("addr", cfg.Addr),
		),
	}, nil
}

// Addr returns the bound address, useful when cfg.Addr requested an
// ephemeral port.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Run accepts connections until ctx is done or the listener is closed. Each
// accepted connection is served on its own goroutine; Run waits for all of
// them before returning.
func (l *Listener) Run(ctx context.Context) error {
	defer l.wg.Wait()

	stop := context.AfterFunc(ctx, func() { _ = l.ln.Close() })
	defer stop()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			return fmt.Errorf("transport: accept: %w", err)
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.serveConn(ctx, conn)
		}()
	}
}

// Close unblocks a running accept loop. Connections already being served
// keep running until their peer or the switch hangs up, or ctx is done.
func (l *Listener) Close() error {
	return l.ln.Close()
}

func (l *Listener) serveConn(ctx context.Context, conn net.Conn) {
	logger := l.logger.With(slog.String("peer", conn.RemoteAddr().String()))
	fc := newFrameConn(conn)

	// A peer that never completes the handshake must not pin this
	// goroutine past shutdown.
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	secure, err := serverHandshake(fc, l.cfg.Crypto)
	if err != nil {
		logger.Warn("handshake failed", slog.Any("error", err))
		_ = fc.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	attr := wire.NewMessage()
	attr.SetString(wire.KeyAddr, conn.RemoteAddr().String())
	attr.SetString(attrKeyNetwork, l.cfg.Network)
	attr.SetBool(attrKeySecure, secure)

	end, err := l.mgr.Connect(ctx, attr)
	if err != nil {
		logger.Warn("switch refused connection", slog.Any("error", err))
		_ = fc.Close()
		return
	}

	logger.Debug("session established", slog.Bool("secure", secure))
	shovel(ctx, logger, fc, end)
	logger.Debug("session closed")
}
