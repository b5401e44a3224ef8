package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"net-bridge/message"
	"net-bridge/protocol"
)

// LoggingMiddleware logs every request with its kind and duration. Requests
// that fail are logged at info level, the rest at debug.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req message.Request) (protocol.Frame, error) {
			start := time.Now()
			reply, err := next(ctx, req)
			fields := []zap.Field{
				zap.Stringer("kind", req.Tag()),
				zap.String("peer", Peer(ctx)),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Info("request failed", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("request served", fields...)
			}
			return reply, err
		}
	}
}
