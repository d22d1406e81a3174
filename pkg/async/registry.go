package async

import "sync"

// Registry maps a request kind to a single in-flight continuation.
// It is used where a request is sent through one channel and its answer
// arrives later through an unrelated callback: the caller registers a
// continuation for the kind, and the callback settles it.
type Registry[K comparable, U any] struct {
	mu      sync.Mutex
	pending map[K]*Promise[U]
}

// NewRegistry creates an empty registry.
func NewRegistry[K comparable, U any]() *Registry[K, U] {
	return &Registry[K, U]{pending: make(map[K]*Promise[U])}
}

// Register creates the continuation for key.
// Returns ErrAlreadyPending if one is already in flight for the same key.
func (r *Registry[K, U]) Register(key K) (*Future[U], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pending[key]; ok {
		return nil, ErrAlreadyPending
	}

	p := NewPromise[U]()
	r.pending[key] = p
	return p.Future(), nil
}

// Resolve settles and removes the continuation for key.
// Returns false when nothing was pending.
func (r *Registry[K, U]) Resolve(key K, v U) bool {
	p := r.take(key)
	if p == nil {
		return false
	}
	return p.Resolve(v)
}

// Reject settles the continuation for key with err and removes it.
func (r *Registry[K, U]) Reject(key K, err error) bool {
	p := r.take(key)
	if p == nil {
		return false
	}
	return p.Reject(err)
}

// Forget drops the continuation for key without settling it.
// Used by callers that stopped waiting (timeout, cancellation).
func (r *Registry[K, U]) Forget(key K, f *Future[U]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pending[key]; ok && p.Future() == f {
		delete(r.pending, key)
	}
}

// Pending reports whether a continuation is in flight for key.
func (r *Registry[K, U]) Pending(key K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[key]
	return ok
}

func (r *Registry[K, U]) take(key K) *Promise[U] {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[key]
	if !ok {
		return nil
	}
	delete(r.pending, key)
	return p
}
