package middleware

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"net-bridge/message"
	"net-bridge/protocol"
)

// RecoverMiddleware turns a panic during dispatch into an error reply so the
// connection survives.
func RecoverMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req message.Request) (reply protocol.Frame, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("panic in dispatch",
						zap.Stringer("kind", req.Tag()),
						zap.Any("panic", r),
						zap.Stack("stack"))
					reply, err = nil, fmt.Errorf("internal error: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}
