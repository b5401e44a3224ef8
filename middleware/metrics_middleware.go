package middleware

import (
	"context"
	"time"

	"net-bridge/message"
	"net-bridge/metrics"
	"net-bridge/protocol"
)

// MetricsMiddleware counts requests and observes their latency by kind.
func MetricsMiddleware(m *metrics.Metrics) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req message.Request) (protocol.Frame, error) {
			start := time.Now()
			reply, err := next(ctx, req)
			m.ObserveRequest(req.Tag().String(), time.Since(start), err)
			return reply, err
		}
	}
}
