// Package proxy maps live objects to the integer handles that name them on
// the wire, and back.
//
// Handles are allocated from a monotonic counter and stay valid until the
// peer explicitly releases them. Nothing is collected automatically: an
// object referenced by a handle is kept alive by the registry until Release,
// so a client that never releases leaks server memory.
package proxy

import (
	"fmt"
	"reflect"
	"sync"
)

// Ref is a reference-only placeholder for a handle that is not owned by the
// local registry. It carries the handle so it can be passed back to the peer
// unchanged, but it never resolves to a local object.
type Ref struct {
	Handle    int32
	ClassName string
}

func (r Ref) String() string {
	if r.ClassName == "" {
		return fmt.Sprintf("ref(%d)", r.Handle)
	}
	return fmt.Sprintf("ref(%d %s)", r.Handle, r.ClassName)
}

// identity is the map key for maps and slices, which are not usable as map
// keys themselves.
type identity struct {
	typ reflect.Type
	ptr uintptr
}

// Registry is a bidirectional object <-> handle table.
// Both directions are updated under one mutex, so a reader never observes
// one map updated without the other.
type Registry struct {
	mu       sync.RWMutex
	next     int32
	byHandle map[int32]any
	byObject map[any]int32
}

// NewRegistry returns an empty registry. The first handle issued is 1.
func NewRegistry() *Registry {
	return &Registry{
		byHandle: make(map[int32]any),
		byObject: make(map[any]int32),
	}
}

// HandleFor returns the handle registered for obj, allocating one if obj has
// none yet. A Ref is already a handle and is returned unchanged.
func (r *Registry) HandleFor(obj any) int32 {
	switch v := obj.(type) {
	case Ref:
		return v.Handle
	case *Ref:
		return v.Handle
	}

	key, keyed := identityOf(obj)

	r.mu.Lock()
	defer r.mu.Unlock()

	if keyed {
		if h, ok := r.byObject[key]; ok {
			return h
		}
	}

	r.next++
	h := r.next
	r.byHandle[h] = obj
	if keyed {
		r.byObject[key] = h
	}
	return h
}

// Resolve returns the object registered under h, or a Ref placeholder if the
// handle is unknown here. It never fails.
func (r *Registry) Resolve(h int32) any {
	if obj, ok := r.Lookup(h); ok {
		return obj
	}
	return Ref{Handle: h}
}

// Lookup returns the object registered under h.
func (r *Registry) Lookup(h int32) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.byHandle[h]
	return obj, ok
}

// Release drops both directions of the mapping for h.
// Releasing an unknown or already released handle is a no-op.
func (r *Registry) Release(h int32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	obj, ok := r.byHandle[h]
	if !ok {
		return
	}
	delete(r.byHandle, h)
	if key, keyed := identityOf(obj); keyed && r.byObject[key] == h {
		delete(r.byObject, key)
	}
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHandle)
}

// identityOf returns the key used to find an existing handle for obj.
// Pointers and channels compare by identity; maps and slices are keyed by
// their data pointer; other comparable values compare by value. Funcs,
// values that cannot be compared at all, and values unequal to themselves
// (a NaN, or a struct holding one) get a fresh handle on every registration.
func identityOf(obj any) (any, bool) {
	if obj == nil {
		return nil, false
	}
	v := reflect.ValueOf(obj)
	switch v.Kind() {
	case reflect.Func:
		return nil, false
	case reflect.Map, reflect.Slice:
		if v.IsNil() {
			return nil, false
		}
		return identity{typ: v.Type(), ptr: v.Pointer()}, true
	}
	if !v.Comparable() || !v.Equal(v) {
		return nil, false
	}
	return obj, true
}
