package registry

import (
	"context"
	"sort"
	"sync"
)

// StaticRegistry keeps instances in memory. It serves single-host setups
// without etcd, and tests. TTLs are ignored.
type StaticRegistry struct {
	mu       sync.RWMutex
	services map[string]map[string]Instance
	watchers map[string][]chan []Instance
}

// NewStaticRegistry returns a registry holding preset, keyed by service.
func NewStaticRegistry(preset map[string][]Instance) *StaticRegistry {
	r := &StaticRegistry{
		services: make(map[string]map[string]Instance),
		watchers: make(map[string][]chan []Instance),
	}
	for service, insts := range preset {
		for _, inst := range insts {
			r.put(service, inst)
		}
	}
	return r
}

func (r *StaticRegistry) put(service string, inst Instance) {
	m, ok := r.services[service]
	if !ok {
		m = make(map[string]Instance)
		r.services[service] = m
	}
	m[inst.Addr] = inst
}

func (r *StaticRegistry) Register(ctx context.Context, service string, inst Instance, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(service, inst)
	r.notify(service)
	return nil
}

func (r *StaticRegistry) Deregister(ctx context.Context, service, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[service][addr]; !ok {
		return ErrNotRegistered
	}
	delete(r.services[service], addr)
	r.notify(service)
	return nil
}

func (r *StaticRegistry) Discover(ctx context.Context, service string) ([]Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.list(service), nil
}

func (r *StaticRegistry) list(service string) []Instance {
	instances := make([]Instance, 0, len(r.services[service]))
	for _, inst := range r.services[service] {
		instances = append(instances, inst)
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].Addr < instances[j].Addr })
	return instances
}

// notify replaces any unread list with the current one. Callers hold mu.
func (r *StaticRegistry) notify(service string) {
	current := r.list(service)
	for _, ch := range r.watchers[service] {
		select {
		case <-ch:
		default:
		}
		ch <- current
	}
}

// Watch sends the current list at once, then the latest list after each
// change. Slow readers only see the most recent list.
func (r *StaticRegistry) Watch(ctx context.Context, service string) <-chan []Instance {
	ch := make(chan []Instance, 1)

	r.mu.Lock()
	ch <- r.list(service)
	r.watchers[service] = append(r.watchers[service], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		ws := r.watchers[service]
		for i, w := range ws {
			if w == ch {
				r.watchers[service] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (r *StaticRegistry) Close() error { return nil }
