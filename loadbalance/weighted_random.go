package loadbalance

import (
	"math/rand"

	"net-bridge/registry"
)

// WeightedRandomBalancer picks an instance with probability proportional to
// its weight. Instances with a non-positive weight count as weight 1.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(instances []registry.Instance) (*registry.Instance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	total := 0
	for i := range instances {
		total += weight(&instances[i])
	}

	r := rand.Intn(total)
	for i := range instances {
		r -= weight(&instances[i])
		if r < 0 {
			return &instances[i], nil
		}
	}
	return &instances[len(instances)-1], nil
}

func weight(inst *registry.Instance) int {
	return max(inst.Weight, 1)
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
