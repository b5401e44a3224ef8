// Package loadbalance picks which discovered bridge server a client dials.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity servers
//   - WeightedRandom:  servers of different capacity, by Instance.Weight
//   - ConsistentHash:  sticky placement, so a client keeps landing on the
//     server that holds its proxies
package loadbalance

import (
	"errors"
	"fmt"

	"net-bridge/registry"
)

var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer selects one instance from the available list. Implementations
// are goroutine-safe.
type Balancer interface {
	Pick(instances []registry.Instance) (*registry.Instance, error)

	// Name returns the strategy name (for logging).
	Name() string
}

// New returns the balancer named by strategy: "round_robin" (also the
// default for ""), "weighted_random" or "consistent_hash". key is the
// placement key for consistent hashing and is ignored otherwise.
func New(strategy, key string) (Balancer, error) {
	switch strategy {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(key), nil
	}
	return nil, fmt.Errorf("loadbalance: unknown strategy %q", strategy)
}
