package audit

import (
	"context"
	"errors"
	"sync"
)

var ErrDuplicateEvent = errors.New("audit: event id already recorded")

// MemoryRepo keeps audit events in insertion order. Like audit_events in Postgres it
// only accepts inserts, and an id can be written once.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
	seen   map[string]struct{}
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{seen: map[string]struct{}{}} }

func (r *MemoryRepo) Append(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.seen[e.ID]; dup {
		return ErrDuplicateEvent
	}
	r.seen[e.ID] = struct{}{}
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// ByType returns the recorded events of one type, oldest first.
func (r *MemoryRepo) ByType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
