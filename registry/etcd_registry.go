package registry

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// EtcdConfig configures the etcd client behind an EtcdRegistry.
type EtcdConfig struct {
	Endpoints   []string
	DialTimeout time.Duration
	Logger      *zap.Logger
}

// EtcdRegistry implements Registry on etcd v3. Each instance is stored as
//
//	Key:   /net-bridge/{service}/{addr}
//	Value: JSON-encoded Instance
//
// Registration uses TTL-based leases: if the server crashes, the lease
// expires and the entry is removed.
type EtcdRegistry struct {
	client *clientv3.Client
	logger *zap.Logger

	mu     sync.Mutex
	leases map[string]lease // by key
}

type lease struct {
	id     clientv3.LeaseID
	cancel context.CancelFunc
}

func NewEtcdRegistry(cfg EtcdConfig) (*EtcdRegistry, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{
		client: c,
		logger: logger,
		leases: make(map[string]lease),
	}, nil
}

// Register puts inst under a fresh lease and keeps the lease alive until
// Deregister or Close.
func (r *EtcdRegistry) Register(ctx context.Context, service string, inst Instance, ttl int64) error {
	grant, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(inst)
	if err != nil {
		return err
	}

	k := key(service, inst.Addr)
	if _, err := r.client.Put(ctx, k, string(val), clientv3.WithLease(grant.ID)); err != nil {
		return err
	}

	// The renewal outlives ctx, which only bounds the registration itself.
	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(kaCtx, grant.ID)
	if err != nil {
		cancel()
		return err
	}
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped", zap.String("key", k))
	}()

	r.mu.Lock()
	if old, ok := r.leases[k]; ok {
		old.cancel()
	}
	r.leases[k] = lease{id: grant.ID, cancel: cancel}
	r.mu.Unlock()

	r.logger.Info("registered instance",
		zap.String("service", service),
		zap.String("addr", inst.Addr),
		zap.Int64("ttl", ttl))
	return nil
}

// Deregister removes the entry and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, service, addr string) error {
	k := key(service, addr)

	r.mu.Lock()
	l, ok := r.leases[k]
	delete(r.leases, k)
	r.mu.Unlock()

	if _, err := r.client.Delete(ctx, k); err != nil {
		return err
	}
	if ok {
		l.cancel()
		if _, err := r.client.Revoke(ctx, l.id); err != nil {
			r.logger.Warn("revoke lease", zap.String("key", k), zap.Error(err))
		}
	}
	return nil
}

// Discover returns the registered instances of service, ordered by address.
func (r *EtcdRegistry) Discover(ctx context.Context, service string) ([]Instance, error) {
	resp, err := r.client.Get(ctx, prefix(service), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			r.logger.Warn("skip malformed entry", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, inst)
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].Addr < instances[j].Addr })
	return instances, nil
}

// Watch re-reads the full list on every change under the service prefix.
func (r *EtcdRegistry) Watch(ctx context.Context, service string) <-chan []Instance {
	ch := make(chan []Instance, 1)

	go func() {
		defer close(ch)
		for resp := range r.client.Watch(ctx, prefix(service), clientv3.WithPrefix()) {
			if err := resp.Err(); err != nil {
				r.logger.Warn("watch", zap.String("service", service), zap.Error(err))
				continue
			}
			instances, err := r.Discover(ctx, service)
			if err != nil {
				r.logger.Warn("rediscover", zap.String("service", service), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Close stops every lease renewal and closes the etcd client. Entries lapse
// when their TTL runs out.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	for k, l := range r.leases {
		l.cancel()
		delete(r.leases, k)
	}
	r.mu.Unlock()
	return r.client.Close()
}
