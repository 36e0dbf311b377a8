package orders

import (
	"context"
	"sort"
	"sync"

	"payment-ledger/internal/ledger"
)

type MemoryStore struct {
	mu      sync.Mutex
	orders  map[string]Order
	refunds map[string]Refund
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: map[string]Order{}, refunds: map[string]Refund{}}
}

func (m *MemoryStore) InsertOrder(_ context.Context, o Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	return nil
}

func (m *MemoryStore) GetOrder(_ context.Context, id string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, &ledger.NotFoundError{Kind: "order", Key: id}
	}
	return o, nil
}

func (m *MemoryStore) UpdateOrder(_ context.Context, o Order, expected OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[o.ID]
	if !ok {
		return &ledger.NotFoundError{Kind: "order", Key: o.ID}
	}
	if cur.Status != expected {
		return ledger.ErrConflict
	}
	m.orders[o.ID] = o
	return nil
}

func (m *MemoryStore) ListOrders(_ context.Context, userID string, limit, offset int) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if userID == "" || o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (m *MemoryStore) InsertRefund(_ context.Context, r Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.refunds {
		if existing.OrderID == r.OrderID && existing.Status.Active() {
			return ErrRefundExists
		}
	}
	m.refunds[r.ID] = r
	return nil
}

func (m *MemoryStore) GetRefund(_ context.Context, id string) (Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.refunds[id]
	if !ok {
		return Refund{}, &ledger.NotFoundError{Kind: "refund", Key: id}
	}
	return r, nil
}

func (m *MemoryStore) UpdateRefund(_ context.Context, r Refund, expected RefundStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.refunds[r.ID]
	if !ok {
		return &ledger.NotFoundError{Kind: "refund", Key: r.ID}
	}
	if cur.Status != expected {
		return ledger.ErrConflict
	}
	m.refunds[r.ID] = r
	return nil
}

func (m *MemoryStore) ListRefunds(_ context.Context, f RefundFilter) ([]Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Refund
	for _, r := range m.refunds {
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, f.Limit, f.Offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if l := pageLimit(limit); len(items) > l {
		items = items[:l]
	}
	return items
}
