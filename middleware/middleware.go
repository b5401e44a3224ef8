// Package middleware wraps the dispatch of decoded requests.
package middleware

import (
	"context"

	"net-bridge/message"
	"net-bridge/protocol"
)

// HandlerFunc applies one request and returns its reply frame, which is nil
// for one-way requests. A non-nil error becomes an Exception reply.
type HandlerFunc func(ctx context.Context, req message.Request) (protocol.Frame, error)

// Middleware wraps a handler.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so that the first one is outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

type peerKey struct{}

// WithPeer attaches the remote address of the connection to ctx.
func WithPeer(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, peerKey{}, addr)
}

// Peer returns the remote address attached by WithPeer, or "".
func Peer(ctx context.Context) string {
	addr, _ := ctx.Value(peerKey{}).(string)
	return addr
}
