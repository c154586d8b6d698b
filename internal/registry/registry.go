package registry

import (
	"errors"
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/tagcast/tags"
)

// ErrInvalidInterestSet is returned when a subscriber declares no interest.
var ErrInvalidInterestSet = errors.New("invalid interest set: at least one tag is required")

// Subscriber is the entry type a Registry holds.
type Subscriber interface {
	comparable
	ID() string
	Interest() tags.Set
}

// Registry is the directory of active subscribers keyed by identity.
//
// Reads (Get, Snapshot, Len) are lock-free. Writers serialize on a mutex so
// that compare-and-remove is atomic; the mutex is never held by readers.
type Registry[S Subscriber] struct {
	mu     sync.Mutex
	values *haxmap.Map[string, S]
}

func New[S Subscriber]() *Registry[S] {
	return &Registry[S]{
		values: haxmap.New[string, S](),
	}
}

// Add upserts a subscriber by identity. When an entry with the same identity
// exists it is replaced and returned with replaced set to true.
func (r *Registry[S]) Add(sub S) (prev S, replaced bool, err error) {
	if sub.Interest().Empty() {
		return prev, false, ErrInvalidInterestSet
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, replaced = r.values.Get(sub.ID())
	r.values.Set(sub.ID(), sub)
	return prev, replaced, nil
}

// Remove deletes the subscriber with the given identity. Removing an absent
// identity is a no-op.
func (r *Registry[S]) Remove(id string) (S, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.values.Get(id)
	if ok {
		r.values.Del(id)
	}
	return sub, ok
}

// RemoveIf deletes the entry for id only when it is sub.
func (r *Registry[S]) RemoveIf(id string, sub S) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.values.Get(id)
	if !ok || current != sub {
		return false
	}
	r.values.Del(id)
	return true
}

func (r *Registry[S]) Get(id string) (S, bool) {
	return r.values.Get(id)
}

// Snapshot returns an independent copy of the registered subscribers.
func (r *Registry[S]) Snapshot() []S {
	out := make([]S, 0, r.values.Len())
	r.values.ForEach(func(_ string, sub S) bool {
		out = append(out, sub)
		return true
	})
	return out
}

func (r *Registry[S]) Len() int {
	return int(r.values.Len())
}
