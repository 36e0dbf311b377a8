package pricing

import (
	"context"
	"sync"
)

// MemoryRepo is a simple in-memory catalog useful for tests and local tooling.
type MemoryRepo struct {
	mu       sync.RWMutex
	products map[string]Product
}

func NewMemoryRepo(products ...Product) *MemoryRepo {
	r := &MemoryRepo{products: make(map[string]Product, len(products))}
	for _, p := range products {
		r.products[p.ID] = p
	}
	return r
}

func (r *MemoryRepo) FindProduct(_ context.Context, id string) (Product, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	return p, ok, nil
}

func (r *MemoryRepo) UpsertProduct(_ context.Context, p Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
	return nil
}
