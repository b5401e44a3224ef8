// Package config loads the TOML files of the bridge processes. Loading
// starts from the defaults and overrides only the keys a file defines.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"net-bridge/loadbalance"
)

var ErrInvalid = errors.New("config: invalid")

// ServerDiscovery announces the server in etcd. Announcing is off when no
// endpoints are configured.
type ServerDiscovery struct {
	Endpoints   []string
	Service     string
	Advertise   string // defaults to the bound address
	TTL         int64  // seconds
	Weight      int
	DialTimeout time.Duration
}

// Server is the configuration of bridged.
type Server struct {
	Addr            string
	Libraries       []string
	LogLevel        string
	MetricsAddr     string // empty disables the metrics endpoint
	ShutdownTimeout time.Duration
	Discovery       ServerDiscovery
}

// ClientDiscovery locates servers through etcd, or through a fixed list of
// instances when no endpoints are configured.
type ClientDiscovery struct {
	Endpoints   []string
	Instances   []string
	Service     string
	Balancer    string
	Key         string
	DialTimeout time.Duration
}

// Enabled reports whether servers are discovered rather than dialed at Addr.
func (d ClientDiscovery) Enabled() bool {
	return len(d.Endpoints) > 0 || len(d.Instances) > 0
}

// Client is the configuration of bridgectl and other dialing clients.
type Client struct {
	Addr            string
	ConnectAttempts int
	ConnectDelay    time.Duration
	DialTimeout     time.Duration
	LogLevel        string
	Discovery       ClientDiscovery
}

// DefaultServer listens on :2050 and exposes the demo library.
func DefaultServer() Server {
	return Server{
		Addr:            ":2050",
		Libraries:       []string{"demo"},
		LogLevel:        "info",
		ShutdownTimeout: 5 * time.Second,
		Discovery: ServerDiscovery{
			Service:     "net-bridge",
			TTL:         10,
			Weight:      10,
			DialTimeout: 5 * time.Second,
		},
	}
}

// DefaultClient dials 127.0.0.1:2050 with three connect attempts.
func DefaultClient() Client {
	return Client{
		Addr:            "127.0.0.1:2050",
		ConnectAttempts: 3,
		ConnectDelay:    200 * time.Millisecond,
		DialTimeout:     5 * time.Second,
		LogLevel:        "warn",
		Discovery: ClientDiscovery{
			Service:     "net-bridge",
			Balancer:    "round_robin",
			DialTimeout: 5 * time.Second,
		},
	}
}

// Validate reports the first invalid setting, wrapped in ErrInvalid.
func (c Server) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%w: addr is empty", ErrInvalid)
	}
	if len(c.Libraries) == 0 {
		return fmt.Errorf("%w: no libraries", ErrInvalid)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown_timeout must be positive", ErrInvalid)
	}
	if len(c.Discovery.Endpoints) > 0 {
		if c.Discovery.Service == "" {
			return fmt.Errorf("%w: discovery.service is empty", ErrInvalid)
		}
		if c.Discovery.TTL <= 0 {
			return fmt.Errorf("%w: discovery.ttl must be positive", ErrInvalid)
		}
	}
	return nil
}

func (c Client) Validate() error {
	if c.ConnectAttempts < 1 {
		return fmt.Errorf("%w: connect_attempts must be at least 1", ErrInvalid)
	}
	if c.ConnectDelay < 0 || c.DialTimeout < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalid)
	}
	if !c.Discovery.Enabled() && strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%w: addr is empty and discovery is off", ErrInvalid)
	}
	if c.Discovery.Enabled() {
		if c.Discovery.Service == "" {
			return fmt.Errorf("%w: discovery.service is empty", ErrInvalid)
		}
		if _, err := loadbalance.New(c.Discovery.Balancer, c.Discovery.Key); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	return nil
}
