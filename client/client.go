// Package client is the calling side of the bridge. A Client speaks the
// protocol over one connection and implements capability.Capability, so
// remote objects are driven through the same interface the server uses
// locally. Remote objects come back as proxy.Ref values.
package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"

	"go.uber.org/zap"

	"net-bridge/capability"
	"net-bridge/codec"
	"net-bridge/loadbalance"
	"net-bridge/message"
	"net-bridge/protocol"
	"net-bridge/proxy"
	"net-bridge/registry"
	"net-bridge/transport"
)

var (
	// ErrBroken is returned once a connection failed mid-exchange. The
	// stream position is unknown after that, so the client must be replaced.
	ErrBroken = errors.New("client: connection is broken")

	// ErrNotRemote is returned for a target or argument that is not a
	// reference to a server object. Handles are issued by the server only,
	// so local objects cannot travel by reference.
	ErrNotRemote = errors.New("client: not a remote object")
)

var (
	_ capability.Capability   = (*Client)(nil)
	_ capability.Introspector = (*Client)(nil)
)

type options struct {
	dial   transport.DialConfig
	logger *zap.Logger
}

// Option configures a Client.
type Option func(*options)

// WithDialConfig sets the connect retry policy.
func WithDialConfig(cfg transport.DialConfig) Option {
	return func(o *options) { o.dial = cfg }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func buildOptions(opts []Option) options {
	o := options{dial: transport.DefaultDialConfig(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dial.Logger == nil {
		o.dial.Logger = o.logger
	}
	return o
}

// Client issues one request at a time over a single connection.
type Client struct {
	conn   *transport.Conn
	logger *zap.Logger

	mu     sync.Mutex
	broken bool
}

// Dial connects to addr, retrying per the dial config.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	o := buildOptions(opts)
	nc, err := transport.Dial(ctx, addr, o.dial)
	if err != nil {
		return nil, err
	}
	return newClient(nc, o), nil
}

// DialDiscovered looks service up in reg, lets b pick an instance and
// dials it.
func DialDiscovered(ctx context.Context, reg registry.Registry, service string, b loadbalance.Balancer, opts ...Option) (*Client, error) {
	instances, err := reg.Discover(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", service, err)
	}
	return dialPicked(ctx, service, instances, b, opts)
}

func dialPicked(ctx context.Context, service string, instances []registry.Instance, b loadbalance.Balancer, opts []Option) (*Client, error) {
	inst, err := b.Pick(instances)
	if err != nil {
		return nil, fmt.Errorf("pick %s instance: %w", service, err)
	}
	return Dial(ctx, inst.Addr, opts...)
}

// New wraps an established connection.
func New(nc net.Conn, opts ...Option) *Client {
	return newClient(nc, buildOptions(opts))
}

func newClient(nc net.Conn, o options) *Client {
	return &Client{
		conn:   transport.NewConn(nc),
		logger: o.logger.With(zap.Stringer("server", nc.RemoteAddr())),
	}
}

// Broken reports whether the connection failed and can no longer be used.
func (c *Client) Broken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}

// Close closes the connection. Handles the server issued to this client
// stay live until released.
func (c *Client) Close() error {
	return c.conn.Close()
}

// roundTrip sends req and, unless it is one-way, waits for its reply.
// Remote exceptions and unencodable arguments leave the stream in step;
// any other failure marks the client broken.
func (c *Client) roundTrip(req message.Request) (protocol.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return nil, ErrBroken
	}

	if err := c.conn.Send(req); err != nil {
		var encErr *transport.EncodeError
		if !errors.As(err, &encErr) {
			c.fail(req, err)
		}
		return nil, err
	}
	if req.OneWay() {
		return nil, nil
	}

	reply, err := message.ReadReply(c.conn.Reader())
	if err != nil {
		var remote *codec.RemoteError
		if !errors.As(err, &remote) {
			c.fail(req, err)
		}
		return nil, err
	}
	return reply, nil
}

func (c *Client) fail(req message.Request, err error) {
	c.broken = true
	c.conn.Close()
	c.logger.Warn("connection failed", zap.Stringer("kind", req.Tag()), zap.Error(err))
}

// call runs a request whose reply is a Value and converts it to Go.
func (c *Client) call(req message.Request) (any, error) {
	reply, err := c.roundTrip(req)
	if err != nil {
		return nil, err
	}
	v, ok := reply.(codec.Value)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected %v reply to %v", protocol.ErrUnknownTag, reply.Tag(), req.Tag())
	}
	return codec.Unmarshal(remoteHandles{}, v), nil
}

// remoteHandles maps the server's handle space on the client side: every
// ObjectRef decodes as a proxy.Ref, and a local object has no handle.
type remoteHandles struct {
	err *error
}

func (r remoteHandles) HandleFor(obj any) int32 {
	if r.err != nil && *r.err == nil {
		*r.err = fmt.Errorf("%w: %T", ErrNotRemote, obj)
	}
	return 0
}

func (remoteHandles) Resolve(h int32) any { return proxy.Ref{Handle: h} }

// marshal converts outgoing values. It fails with ErrNotRemote if any of
// them, nested or not, would need a client-side handle.
func marshal(objs ...any) ([]codec.Value, error) {
	var err error
	vs := codec.MarshalAll(remoteHandles{err: &err}, objs)
	if err != nil {
		return nil, err
	}
	return vs, nil
}

// handleOf returns the remote handle behind obj.
func handleOf(obj any) (int32, error) {
	switch v := obj.(type) {
	case proxy.Ref:
		return v.Handle, nil
	case *proxy.Ref:
		if v != nil {
			return v.Handle, nil
		}
	case codec.ObjectRef:
		return v.Handle, nil
	}
	return 0, fmt.Errorf("%w: %T", ErrNotRemote, obj)
}

// Create constructs className on the server and returns a proxy.Ref to it.
func (c *Client) Create(className string, args []any) (any, error) {
	vs, err := marshal(args...)
	if err != nil {
		return nil, err
	}
	return c.call(message.NewCreate(className, vs...))
}

func (c *Client) CallStaticMethodByName(className, method string, args []any) (any, error) {
	vs, err := marshal(args...)
	if err != nil {
		return nil, err
	}
	return c.call(message.NewCallStaticMethod(className, method, vs...))
}

// CallMethod invokes method on the remote object obj, which must be a
// proxy.Ref or codec.ObjectRef. Arguments may be values or other remote
// references.
func (c *Client) CallMethod(obj any, method string, args []any) (any, error) {
	h, err := handleOf(obj)
	if err != nil {
		return nil, err
	}
	vs, err := marshal(args...)
	if err != nil {
		return nil, err
	}
	return c.call(message.NewCallMethod(h, method, vs...))
}

func (c *Client) GetProperty(obj any, name string) (any, error) {
	h, err := handleOf(obj)
	if err != nil {
		return nil, err
	}
	return c.call(message.NewGetProperty(h, name))
}

func (c *Client) SetProperty(obj any, name string, value any) error {
	h, err := handleOf(obj)
	if err != nil {
		return err
	}
	vs, err := marshal(value)
	if err != nil {
		return err
	}
	_, err = c.call(message.NewSetProperty(h, name, vs[0]))
	return err
}

func (c *Client) GetStaticProperty(className, name string) (any, error) {
	return c.call(message.NewGetStaticProperty(className, name))
}

func (c *Client) SetStaticProperty(className, name string, value any) error {
	vs, err := marshal(value)
	if err != nil {
		return err
	}
	_, err = c.call(message.NewSetStaticProperty(className, name, vs[0]))
	return err
}

func (c *Client) GetIndexedProperty(obj any, name string, index int) (any, error) {
	h, err := handleOf(obj)
	if err != nil {
		return nil, err
	}
	i, err := index32(index)
	if err != nil {
		return nil, err
	}
	return c.call(message.NewGetIndexedProperty(h, name, i))
}

// GetIndexed returns element index of a remote indexable object.
func (c *Client) GetIndexed(obj any, index int) (any, error) {
	h, err := handleOf(obj)
	if err != nil {
		return nil, err
	}
	i, err := index32(index)
	if err != nil {
		return nil, err
	}
	return c.call(message.NewGetIndexed(h, i))
}

// index32 narrows an index to the wire's int32.
func index32(index int) (int32, error) {
	if index < math.MinInt32 || index > math.MaxInt32 {
		return 0, fmt.Errorf("%w: index %d", capability.ErrOutOfRange, index)
	}
	return int32(index), nil
}

// Protect asks the server to pin obj. It does not wait for a reply.
func (c *Client) Protect(obj any) error {
	h, err := handleOf(obj)
	if err != nil {
		return err
	}
	_, err = c.roundTrip(message.NewProtect(h))
	return err
}

// Release drops the server's handle for obj. It does not wait for a reply;
// a later request on the same client observes the release.
func (c *Client) Release(obj any) error {
	h, err := handleOf(obj)
	if err != nil {
		return err
	}
	_, err = c.roundTrip(message.NewRelease(h))
	return err
}

// Template describes a class exposed by the server.
func (c *Client) Template(className string) (capability.Template, error) {
	reply, err := c.roundTrip(message.NewTemplateRequest(className))
	if err != nil {
		return capability.Template{}, err
	}
	t, ok := reply.(*message.TemplateReply)
	if !ok {
		return capability.Template{}, fmt.Errorf("%w: unexpected %v reply to template request", protocol.ErrUnknownTag, reply.Tag())
	}
	return capability.Template{
		Properties:    t.Properties,
		Methods:       t.Methods,
		StaticMethods: t.StaticMethods,
	}, nil
}
