// Package server implements the bridge server: it accepts connections,
// decodes requests, dispatches them to a capability.Capability and writes
// one reply per request.
//
// Request processing pipeline:
//
//	Accept conn → serveConn (one goroutine, strictly sequential)
//	  → message.Read → middleware chain → session (proxy registry + capability)
//	    → reply Value / TemplateReply / Exception → write, flush
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"net-bridge/capability"
	"net-bridge/metrics"
	"net-bridge/middleware"
	"net-bridge/proxy"
	"net-bridge/registry"
	"net-bridge/transport"
)

var (
	// ErrAlreadyServing is returned by Listen when another process holds the
	// address. The usual reaction is to log it and exit successfully.
	ErrAlreadyServing = errors.New("server: another bridge is already serving on this address")

	ErrNotListening = errors.New("server: Serve called before Listen")
)

// Discovery announces the server in a service registry while it serves.
type Discovery struct {
	Registry registry.Registry
	Service  string
	Instance registry.Instance // empty Addr advertises the bound address
	TTL      int64             // seconds
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithProxies sets the proxy registry shared by all connections.
func WithProxies(p *proxy.Registry) Option {
	return func(s *Server) { s.proxies = p }
}

// WithMetrics records request and connection metrics in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMiddleware adds middlewares that run in order, inside the built-in
// recover and metrics middlewares.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *Server) { s.middlewares = append(s.middlewares, mws...) }
}

// WithDiscovery announces the server while it serves.
func WithDiscovery(d Discovery) Option {
	return func(s *Server) { s.discovery = &d }
}

// Server serves one capability to any number of connections.
type Server struct {
	capability  capability.Capability
	proxies     *proxy.Registry
	logger      *zap.Logger
	metrics     *metrics.Metrics
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc
	discovery   *Discovery

	listener  net.Listener
	wg        sync.WaitGroup // tracks connection workers for graceful shutdown
	shutdown  atomic.Bool    // set during shutdown to suppress Accept errors
	acceptLog rate.Sometimes

	mu    sync.Mutex
	conns map[*transport.Conn]struct{}
}

// New returns a server exposing c. Call Listen, then Serve.
func New(c capability.Capability, opts ...Option) *Server {
	s := &Server{
		capability: c,
		logger:     zap.NewNop(),
		conns:      make(map[*transport.Conn]struct{}),
		acceptLog:  rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.proxies == nil {
		s.proxies = proxy.NewRegistry()
	}
	if s.metrics != nil {
		s.metrics.TrackHandles(s.proxies.Len)
	}
	return s
}

// Proxies returns the server's proxy registry.
func (s *Server) Proxies() *proxy.Registry { return s.proxies }

// Listen binds addr. If the address is taken the error wraps
// ErrAlreadyServing.
func (s *Server) Listen(addr string) error {
	ln, err := transport.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, transport.ErrAddrInUse) {
			return fmt.Errorf("%w: %w", ErrAlreadyServing, err)
		}
		return err
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve announces the server if discovery is configured and runs the
// accept loop until Shutdown, after which it returns nil.
func (s *Server) Serve() error {
	if s.listener == nil {
		return ErrNotListening
	}

	// Build the middleware chain once at startup (not per-request)
	mws := []middleware.Middleware{middleware.RecoverMiddleware(s.logger)}
	if s.metrics != nil {
		mws = append(mws, middleware.MetricsMiddleware(s.metrics))
	}
	mws = append(mws, s.middlewares...)
	s.handler = middleware.Chain(mws...)(s.dispatch)

	if d := s.discovery; d != nil {
		if d.Instance.Addr == "" {
			d.Instance.Addr = s.listener.Addr().String()
		}
		if err := d.Registry.Register(context.Background(), d.Service, d.Instance, d.TTL); err != nil {
			return fmt.Errorf("announce %s: %w", d.Service, err)
		}
	}

	s.logger.Info("serving", zap.Stringer("addr", s.listener.Addr()))

	var delay time.Duration
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			// listener.Close() during shutdown makes Accept fail
			if s.shutdown.Load() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			delay = min(max(2*delay, 5*time.Millisecond), time.Second)
			s.acceptLog.Do(func() {
				s.logger.Warn("accept failed, retrying", zap.Error(err), zap.Duration("delay", delay))
			})
			time.Sleep(delay)
			continue
		}
		delay = 0
		if !s.spawn(nc) {
			nc.Close()
			return nil
		}
	}
}

// Shutdown deregisters from discovery, stops accepting, closes live
// connections and waits for their workers.
func (s *Server) Shutdown(timeout time.Duration) error {
	// Deregister first so clients stop picking this server
	if d := s.discovery; d != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := d.Registry.Deregister(ctx, d.Service, d.Instance.Addr); err != nil {
			s.logger.Warn("deregister", zap.String("service", d.Service), zap.Error(err))
		}
		cancel()
	}

	// Set the flag before closing so Serve sees the Accept error as intended.
	// Holding mu orders it against spawn, so Wait below never races an Add.
	s.mu.Lock()
	s.shutdown.Store(true)
	s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("server: timeout waiting for connection workers to finish")
	}
}

func (s *Server) track(c *transport.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.shutdown.Load() {
			return false
		}
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
	return true
}

// spawn starts a worker for nc unless Shutdown has begun.
func (s *Server) spawn(nc net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.wg.Add(1)
	go s.serveConn(nc)
	return true
}
