package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"net-bridge/capability"
	"net-bridge/codec"
	"net-bridge/message"
	"net-bridge/middleware"
	"net-bridge/protocol"
	"net-bridge/transport"
)

// serveConn reads, dispatches and answers requests strictly in order until
// the peer goes away or sends something undecodable. Failures here end this
// connection only.
func (s *Server) serveConn(nc net.Conn) {
	defer s.wg.Done()

	if tcp, ok := nc.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	conn := transport.NewConn(nc)
	defer conn.Close()
	if !s.track(conn, true) {
		return
	}
	defer s.track(conn, false)

	if s.metrics != nil {
		s.metrics.ConnOpened()
		defer s.metrics.ConnClosed()
	}

	peer := nc.RemoteAddr().String()
	logger := s.logger.With(zap.String("peer", peer))
	ctx := middleware.WithPeer(context.Background(), peer)
	logger.Debug("connection opened")

	for {
		req, err := message.Read(conn.Reader())
		if err != nil {
			if transport.IsClosed(err) || s.shutdown.Load() {
				logger.Debug("connection closed")
			} else {
				logger.Warn("dropping connection", zap.Error(err))
			}
			return
		}

		reply, err := s.handler(ctx, req)
		if req.OneWay() {
			if err != nil {
				logger.Debug("one-way request failed", zap.Stringer("kind", req.Tag()), zap.Error(err))
			}
			continue
		}
		if err := s.reply(conn, reply, err); err != nil {
			if transport.IsClosed(err) || s.shutdown.Load() {
				logger.Debug("connection closed while replying", zap.Error(err))
			} else {
				logger.Warn("write reply", zap.Error(err))
			}
			return
		}
	}
}

// reply answers one request. Values and errors travel as a codec.Result;
// a result with no wire form is answered with the encoding error instead.
func (s *Server) reply(conn *transport.Conn, reply protocol.Frame, err error) error {
	if tmpl, ok := reply.(*message.TemplateReply); ok && err == nil {
		return conn.Send(tmpl)
	}

	res := result(reply, err)
	err = conn.Encode(func(w *protocol.Writer) error {
		return codec.WriteResult(w, res)
	})
	var encErr *transport.EncodeError
	if errors.As(err, &encErr) {
		res = codec.Result{Err: encErr.Err}
		err = conn.Encode(func(w *protocol.Writer) error {
			return codec.WriteResult(w, res)
		})
	}
	return err
}

// dispatch is the innermost handler of the middleware chain.
func (s *Server) dispatch(ctx context.Context, req message.Request) (protocol.Frame, error) {
	return req.Apply(&session{
		capability: s.capability,
		proxies:    s.proxies,
		logger:     s.logger,
	})
}

// result pairs a handler outcome with its reply. An error reports the
// innermost cause raised by invoked code rather than the reflection layers
// around it; a missing reply is Null.
func result(reply protocol.Frame, err error) codec.Result {
	if err != nil {
		return codec.Result{Err: capability.Innermost(err)}
	}
	v, ok := reply.(codec.Value)
	if !ok && reply != nil {
		return codec.Result{Err: fmt.Errorf("%w: %v is not a reply", protocol.ErrUnknownTag, reply.Tag())}
	}
	return codec.Result{Value: v}
}
