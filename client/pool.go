package client

import (
	"context"
	"fmt"
	"sync"

	"net-bridge/loadbalance"
	"net-bridge/registry"
	"net-bridge/transport"
)

// Pool checks out connected clients for exclusive use. Clients are dialed
// lazily, at most size at a time; a client that broke is closed instead of
// going back to the pool.
type Pool struct {
	pool *transport.Pool[*Client]
	stop context.CancelFunc
}

func NewPool(addr string, size int, opts ...Option) *Pool {
	return newPool(size, func(ctx context.Context) (*Client, error) {
		return Dial(ctx, addr, opts...)
	})
}

// NewDiscoveredPool is a Pool over the instances of service in reg. The
// instance list is watched until ctx is done or the pool is closed, and
// every new client dials the instance b picks from the latest list.
// Clients already dialed stay on their server until they break.
func NewDiscoveredPool(ctx context.Context, reg registry.Registry, service string, b loadbalance.Balancer, size int, opts ...Option) (*Pool, error) {
	instances, err := reg.Discover(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", service, err)
	}

	var mu sync.RWMutex
	ctx, cancel := context.WithCancel(ctx)
	updates := reg.Watch(ctx, service)
	go func() {
		for list := range updates {
			mu.Lock()
			instances = list
			mu.Unlock()
		}
	}()

	p := newPool(size, func(ctx context.Context) (*Client, error) {
		mu.RLock()
		list := instances
		mu.RUnlock()
		return dialPicked(ctx, service, list, b, opts)
	})
	p.stop = cancel
	return p, nil
}

func newPool(size int, dial func(context.Context) (*Client, error)) *Pool {
	return &Pool{pool: transport.NewPool(size, dial, (*Client).Close)}
}

// Get returns an idle client, dials a new one below the limit, or waits.
func (p *Pool) Get(ctx context.Context) (*Client, error) {
	return p.pool.Get(ctx)
}

// Put returns c to the pool.
func (p *Pool) Put(c *Client) {
	p.pool.Put(c, !c.Broken())
}

// Do runs fn with a checked-out client and returns the client afterwards.
func (p *Pool) Do(ctx context.Context, fn func(*Client) error) error {
	c, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer p.Put(c)
	return fn(c)
}

// Live returns the number of dialed clients, idle or checked out.
func (p *Pool) Live() int { return p.pool.Live() }

// Close stops watching for instances and closes the idle clients.
func (p *Pool) Close() error {
	if p.stop != nil {
		p.stop()
	}
	return p.pool.Close()
}
