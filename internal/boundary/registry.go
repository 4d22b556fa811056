package boundary

import "sync"

// Subscription is the handle returned by Subscribe. Unsubscribe may be called
// any number of times, including after the publisher has shut down.
type Subscription struct {
	once   sync.Once
	cancel func()
}

func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

type observer[T any] struct {
	id      uint64
	fn      func(T)
	removed bool
}

// Registry keeps observers in subscription order.
type Registry[T any] struct {
	mu        sync.Mutex
	nextID    uint64
	observers []*observer[T]
	closed    bool
}

func (r *Registry[T]) Subscribe(fn func(T)) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return &Subscription{}
	}

	r.nextID++
	id := r.nextID
	r.observers = append(r.observers, &observer[T]{id: id, fn: fn})

	return &Subscription{cancel: func() { r.remove(id) }}
}

func (r *Registry[T]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, o := range r.observers {
		if o.id == id {
			o.removed = true
			r.observers = append(r.observers[:i:i], r.observers[i+1:]...)
			return
		}
	}
}

// Notify calls every observer with v. Observers run outside the lock so they
// may subscribe or unsubscribe themselves. Each observer is checked again
// right before its call, so once Unsubscribe returns no new call starts; a
// call already running on another goroutine is not waited for.
func (r *Registry[T]) Notify(v T) {
	r.mu.Lock()
	snapshot := make([]*observer[T], len(r.observers))
	copy(snapshot, r.observers)
	r.mu.Unlock()

	for _, o := range snapshot {
		r.mu.Lock()
		live := !o.removed
		r.mu.Unlock()

		if live {
			o.fn(v)
		}
	}
}

// Len returns the number of live observers.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers)
}

// Close drops every observer. Later subscriptions are inert.
func (r *Registry[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, o := range r.observers {
		o.removed = true
	}
	r.observers = nil
}
