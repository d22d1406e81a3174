package kvstore

import (
	"context"
)

// Store is a durable byte-oriented key-value store.
// Get returns ErrNotFound for absent keys. Writes are last-writer-wins per key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

type namespaced struct {
	prefix string
	next   Store
}

// Namespace returns a view of s whose keys are prefixed with "ns:".
func Namespace(s Store, ns string) Store {
	if ns == "" {
		return s
	}
	return &namespaced{prefix: ns + ":", next: s}
}

func (n *namespaced) Get(ctx context.Context, key string) ([]byte, error) {
	return n.next.Get(ctx, n.prefix+key)
}

func (n *namespaced) Set(ctx context.Context, key string, value []byte) error {
	return n.next.Set(ctx, n.prefix+key, value)
}

func (n *namespaced) Delete(ctx context.Context, key string) error {
	return n.next.Delete(ctx, n.prefix+key)
}
