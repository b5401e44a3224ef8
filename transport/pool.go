package transport

import (
	"context"
	"errors"
	"sync"
)

var ErrPoolClosed = errors.New("transport: pool closed")

// Pool hands out items for exclusive use, one holder at a time. Items are
// created lazily through the factory, at most size of them alive at once.
//
// Pool design: idle items wait in a buffered channel, and a second buffered
// channel holds one token per live item, so Get blocks once size items exist
// and none is idle.
type Pool[T any] struct {
	mu     sync.Mutex
	idle   chan T
	slots  chan struct{}
	done   chan struct{}
	closed bool

	factory func(ctx context.Context) (T, error)
	closer  func(T) error
}

// NewPool returns an empty pool. closer releases an item that is discarded
// or still idle when the pool closes.
func NewPool[T any](size int, factory func(ctx context.Context) (T, error), closer func(T) error) *Pool[T] {
	size = max(size, 1)
	return &Pool[T]{
		idle:    make(chan T, size),
		slots:   make(chan struct{}, size),
		done:    make(chan struct{}),
		factory: factory,
		closer:  closer,
	}
}

// Get returns an idle item, creates one if the pool is below its limit, or
// waits for a holder to Put one back.
func (p *Pool[T]) Get(ctx context.Context) (T, error) {
	var zero T
	select {
	case item := <-p.idle:
		return item, nil
	default:
	}

	select {
	case item := <-p.idle:
		return item, nil
	case p.slots <- struct{}{}:
		if p.isClosed() {
			<-p.slots
			return zero, ErrPoolClosed
		}
		item, err := p.factory(ctx)
		if err != nil {
			<-p.slots
			return zero, err
		}
		return item, nil
	case <-p.done:
		return zero, ErrPoolClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Put returns an item. Items marked unusable, or returned after Close, are
// released and their slot freed.
func (p *Pool[T]) Put(item T, usable bool) {
	p.mu.Lock()
	if usable && !p.closed {
		// never blocks: idle holds at most one entry per slot
		p.idle <- item
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.discard(item)
}

func (p *Pool[T]) discard(item T) {
	if p.closer != nil {
		_ = p.closer(item)
	}
	<-p.slots
}

// Live returns the number of items created and not yet discarded.
func (p *Pool[T]) Live() int { return len(p.slots) }

func (p *Pool[T]) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close releases the idle items. Items still held are released when Put.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	var errs []error
	for {
		select {
		case item := <-p.idle:
			if p.closer != nil {
				if err := p.closer(item); err != nil {
					errs = append(errs, err)
				}
			}
			<-p.slots
		default:
			return errors.Join(errs...)
		}
	}
}
