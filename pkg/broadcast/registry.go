package broadcast

import (
	"sync"
)

// Registry owns one Topic per key (conversation id, user id) and creates
// them on first subscription.
type Registry[T any] struct {
	kind string

	mu     sync.Mutex
	topics map[string]*Topic[T]
	closed bool
}

// NewRegistry returns an empty registry; kind labels metrics ("messages",
// "inbox", "typing", "presence").
func NewRegistry[T any](kind string) *Registry[T] {
	return &Registry[T]{kind: kind, topics: make(map[string]*Topic[T])}
}

// Publish delivers v to the current subscribers of key. Without
// subscribers the value is dropped.
func (r *Registry[T]) Publish(key string, v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.topics[key]; ok {
		t.Publish(v)
	}
}

// Subscribe registers on key's topic with snapshot as the first value.
// Callers that need snapshot+stream consistency must compute snapshot and
// call Subscribe while holding the same lock their publishers hold.
func (r *Registry[T]) Subscribe(key string, snapshot T, buffer int) *Subscription[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[key]
	if !ok {
		t = NewTopic[T](r.kind)
		if r.closed {
			t.Stop()
			return t.Subscribe(snapshot, buffer)
		}
		r.topics[key] = t
	}
	return t.Subscribe(snapshot, buffer)
}

// Len returns the number of live topics.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.topics)
}

// Prune stops topics without subscribers and returns how many it removed.
func (r *Registry[T]) Prune() int {
	r.mu.Lock()
	var idle []*Topic[T]
	for k, t := range r.topics {
		if t.Subscribers() == 0 {
			idle = append(idle, t)
			delete(r.topics, k)
		}
	}
	r.mu.Unlock()
	for _, t := range idle {
		t.Stop()
	}
	return len(idle)
}

// Close stops every topic; later subscriptions end immediately with ErrClosed.
func (r *Registry[T]) Close() {
	r.mu.Lock()
	r.closed = true
	topics := r.topics
	r.topics = make(map[string]*Topic[T])
	r.mu.Unlock()
	for _, t := range topics {
		t.Stop()
	}
}
