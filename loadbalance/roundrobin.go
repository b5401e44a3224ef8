package loadbalance

import (
	"sync/atomic"

	"net-bridge/registry"
)

// RoundRobinBalancer cycles through the instances in order, using an atomic
// counter instead of a lock.
type RoundRobinBalancer struct {
	counter atomic.Uint64
}

// Pick cycles through instances in the order given.
func (b *RoundRobinBalancer) Pick(instances []registry.Instance) (*registry.Instance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	index := (b.counter.Add(1) - 1) % uint64(len(instances))
	return &instances[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
