package hooks

import "sync"

// Refetchable identifies a query in the refetch registry. Only *Query
// implements it.
type Refetchable interface {
	QueryName() string
	refetchable()
}

// RefetchRegistry maps each query to the refetch callbacks of its live
// mounts.
type RefetchRegistry struct {
	mu     sync.Mutex
	nextID uint64
	byKey  map[Refetchable]map[uint64]func()
}

// NewRefetchRegistry returns an empty registry.
func NewRefetchRegistry() *RefetchRegistry {
	return &RefetchRegistry{byKey: make(map[Refetchable]map[uint64]func())}
}

// Add registers fn for key and returns the function that removes it.
func (r *RefetchRegistry) Add(key Refetchable, fn func()) (remove func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	fns, ok := r.byKey[key]
	if !ok {
		fns = make(map[uint64]func())
		r.byKey[key] = fns
	}
	fns[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if fns, ok := r.byKey[key]; ok {
			delete(fns, id)
			if len(fns) == 0 {
				delete(r.byKey, key)
			}
		}
	}
}

// Trigger calls every callback registered for each key once and returns
// how many ran.
func (r *RefetchRegistry) Trigger(keys ...Refetchable) int {
	var calls []func()
	r.mu.Lock()
	for _, key := range keys {
		for _, fn := range r.byKey[key] {
			calls = append(calls, fn)
		}
	}
	r.mu.Unlock()

	for _, fn := range calls {
		fn()
	}
	return len(calls)
}

// Count returns the number of live mounts of key.
func (r *RefetchRegistry) Count(key Refetchable) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey[key])
}
