package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"net-bridge/registry"
)

// ConsistentHashBalancer sends every Pick for one placement key to the
// same server, so a client that reconnects finds the proxies it left there.
// Each server owns many points on a crc32 ring and the key goes to the
// first point at or after its own hash. Only keys near a joining or leaving
// server's points move when the discovered set changes.
type ConsistentHashBalancer struct {
	key      string // placement key used by Pick
	replicas int    // ring points per server

	mu      sync.Mutex
	members string // joined addresses the ring was built from
	ring    []uint32
	nodes   map[uint32]registry.Instance
}

// NewConsistentHashBalancer returns a balancer placing key, with 100 ring
// points per server.
func NewConsistentHashBalancer(key string) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		key:      key,
		replicas: 100,
		nodes:    make(map[uint32]registry.Instance),
	}
}

func (b *ConsistentHashBalancer) add(inst registry.Instance) {
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", inst.Addr, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = inst
	}
}

// Pick rebuilds the ring when the instance set differs from the last call,
// then places the balancer's key.
func (b *ConsistentHashBalancer) Pick(instances []registry.Instance) (*registry.Instance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	addrs := make([]string, len(instances))
	for i, inst := range instances {
		addrs[i] = inst.Addr
	}
	sort.Strings(addrs)
	members := strings.Join(addrs, ",")

	b.mu.Lock()
	defer b.mu.Unlock()
	if members != b.members {
		b.ring = b.ring[:0]
		b.nodes = make(map[uint32]registry.Instance, len(instances)*b.replicas)
		for _, inst := range instances {
			b.add(inst)
		}
		sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
		b.members = members
	}
	return b.locate(b.key)
}

// locate binary-searches for the first node at or after the key's hash,
// wrapping around to the first node. Callers hold mu.
func (b *ConsistentHashBalancer) locate(key string) (*registry.Instance, error) {
	if len(b.ring) == 0 {
		return nil, ErrNoInstances
	}
	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	inst := b.nodes[b.ring[idx]]
	return &inst, nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
