// Package registry lets bridge servers announce themselves and clients find
// them.
package registry

import (
	"context"
	"errors"
)

// KeyPrefix roots every entry a registry writes.
const KeyPrefix = "/net-bridge/"

var ErrNotRegistered = errors.New("registry: instance not registered")

// Instance describes one bridge server.
type Instance struct {
	Addr      string   `json:"addr"`
	Weight    int      `json:"weight"` // Weight for load balancing
	Version   string   `json:"version,omitempty"`
	Libraries []string `json:"libraries,omitempty"`
}

// Registry is implemented by EtcdRegistry and StaticRegistry.
type Registry interface {
	// Register announces inst under service. ttl is in seconds; the entry
	// lapses ttl seconds after the registering process stops renewing it.
	Register(ctx context.Context, service string, inst Instance, ttl int64) error
	Deregister(ctx context.Context, service, addr string) error
	Discover(ctx context.Context, service string) ([]Instance, error)
	// Watch emits the full instance list whenever it changes. The channel
	// is closed when ctx is done.
	Watch(ctx context.Context, service string) <-chan []Instance
	Close() error
}

func key(service, addr string) string {
	return KeyPrefix + service + "/" + addr
}

func prefix(service string) string {
	return KeyPrefix + service + "/"
}
