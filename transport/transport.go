// Package transport owns the TCP side of the bridge: listening, dialing with
// a bounded retry, framed connections and an exclusive resource pool.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ErrAddrInUse is returned by Listen when another process holds the address.
var ErrAddrInUse = errors.New("transport: address already in use")

// Listen announces on the local network address. A bind conflict is reported
// as ErrAddrInUse so callers can tell it apart from configuration mistakes.
func Listen(network, addr string) (net.Listener, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("%w: %s", ErrAddrInUse, addr)
		}
		return nil, err
	}
	return ln, nil
}

// DialConfig bounds connection establishment.
type DialConfig struct {
	// Attempts is the number of connection attempts; values below 1 mean 1.
	Attempts int
	// Delay is the fixed pause between attempts.
	Delay time.Duration
	// Timeout bounds each single attempt. Zero means no bound.
	Timeout time.Duration

	Logger *zap.Logger
}

// DefaultDialConfig makes three attempts 200ms apart, 5s each.
func DefaultDialConfig() DialConfig {
	return DialConfig{Attempts: 3, Delay: 200 * time.Millisecond, Timeout: 5 * time.Second}
}

// Dial connects to addr, retrying failed attempts after cfg.Delay. Only the
// error of the last attempt is returned. The connection has Nagle's
// algorithm disabled since every request waits for its reply.
func Dial(ctx context.Context, addr string, cfg DialConfig) (net.Conn, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := max(cfg.Attempts, 1)
	dialer := net.Dialer{Timeout: cfg.Timeout}

	var err error
	for attempt := 1; ; attempt++ {
		var conn net.Conn
		conn, err = dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			if tcp, ok := conn.(*net.TCPConn); ok {
				_ = tcp.SetNoDelay(true)
			}
			return conn, nil
		}
		logger.Debug("dial attempt failed",
			zap.String("addr", addr),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt >= attempts {
			break
		}
		if serr := sleep(ctx, cfg.Delay); serr != nil {
			return nil, serr
		}
	}
	return nil, fmt.Errorf("dial %s after %d attempt(s): %w", addr, attempts, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsClosed reports whether err means the peer or this side closed the
// connection, as opposed to a protocol or network fault.
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
