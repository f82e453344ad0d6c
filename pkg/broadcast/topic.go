// Package broadcast fans values out to live subscribers in publication
// order. Each topic is owned by one goroutine; publishers never block on
// subscribers, and a subscriber whose buffer fills up is dropped with
// ErrLagged so it can resubscribe from a fresh snapshot.
package broadcast

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/logger"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/telemetry"
)

var (
	// ErrLagged means the subscriber fell behind and was dropped.
	ErrLagged = errors.New("broadcast: subscriber lagged")
	// ErrClosed means the topic was stopped.
	ErrClosed = errors.New("broadcast: topic closed")
)

type opKind int

const (
	opPublish opKind = iota
	opSubscribe
	opUnsubscribe
)

type op[T any] struct {
	kind  opKind
	value T
	sub   *Subscription[T]
}

// Topic delivers published values to every registered subscription.
type Topic[T any] struct {
	name string

	mu      sync.Mutex
	queue   []op[T]
	stopped bool
	wake    chan struct{}
	done    chan struct{}

	// subscribers counts registrations not yet released; read by Registry.Prune.
	subscribers atomic.Int64
}

// NewTopic starts the topic goroutine. name labels metrics and logs.
func NewTopic[T any](name string) *Topic[T] {
	t := &Topic[T]{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go t.run()
	return t
}

// Publish enqueues v for delivery and returns immediately.
func (t *Topic[T]) Publish(v T) {
	t.enqueue(op[T]{kind: opPublish, value: v})
}

// Subscribe registers a subscription whose first delivered value is
// snapshot. Values published after this call are delivered after the
// snapshot; values published before it are not.
func (t *Topic[T]) Subscribe(snapshot T, buffer int) *Subscription[T] {
	if buffer < 1 {
		buffer = 1
	}
	s := &Subscription[T]{
		topic: t,
		ch:    make(chan T, buffer),
		done:  make(chan struct{}),
	}
	t.subscribers.Add(1)
	telemetry.Subscribers.WithLabelValues(t.name).Inc()
	if !t.enqueue(op[T]{kind: opSubscribe, value: snapshot, sub: s}) {
		t.release()
		s.finish(ErrClosed)
	}
	return s
}

// Subscribers returns the number of registrations not yet released.
func (t *Topic[T]) Subscribers() int64 {
	return t.subscribers.Load()
}

// Stop terminates the topic; live subscriptions end with ErrClosed.
func (t *Topic[T]) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()
	t.signal()
	<-t.done
}

func (t *Topic[T]) enqueue(o op[T]) bool {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return false
	}
	t.queue = append(t.queue, o)
	t.mu.Unlock()
	t.signal()
	return true
}

func (t *Topic[T]) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Topic[T]) release() {
	t.subscribers.Add(-1)
	telemetry.Subscribers.WithLabelValues(t.name).Dec()
}

func (t *Topic[T]) run() {
	defer close(t.done)
	subs := make(map[*Subscription[T]]struct{})
	for {
		<-t.wake
		t.mu.Lock()
		batch := t.queue
		t.queue = nil
		stopped := t.stopped
		t.mu.Unlock()

		for _, o := range batch {
			switch o.kind {
			case opSubscribe:
				if o.sub.isClosed() {
					t.release()
					o.sub.finish(nil)
					continue
				}
				subs[o.sub] = struct{}{}
				// buffer >= 1 and nothing queued yet, never blocks
				o.sub.ch <- o.value
			case opUnsubscribe:
				if _, ok := subs[o.sub]; ok {
					delete(subs, o.sub)
					t.release()
					o.sub.finish(nil)
				}
			case opPublish:
				for s := range subs {
					select {
					case s.ch <- o.value:
					default:
						delete(subs, s)
						t.release()
						telemetry.LaggedSubscribers.WithLabelValues(t.name).Inc()
						logger.Warn("subscriber_lagged", "stream", t.name, "buffer", cap(s.ch))
						s.finish(ErrLagged)
					}
				}
			}
		}

		if stopped {
			for s := range subs {
				t.release()
				s.finish(ErrClosed)
			}
			// drain registrations that raced with Stop
			t.mu.Lock()
			rest := t.queue
			t.queue = nil
			t.mu.Unlock()
			for _, o := range rest {
				if o.kind == opSubscribe {
					t.release()
					o.sub.finish(ErrClosed)
				}
			}
			return
		}
	}
}

// Subscription is one consumer of a topic. Read values from C until it is
// closed, then check Err.
type Subscription[T any] struct {
	topic *Topic[T]
	ch    chan T

	once   sync.Once
	closed atomic.Bool
	done   chan struct{}
	err    error
}

// C delivers the snapshot first, then published values in order. It is
// closed when the subscription ends.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Err reports why the subscription ended: nil after Close, ErrLagged or
// ErrClosed otherwise. Only meaningful once C is closed.
func (s *Subscription[T]) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Done is closed when the subscription has ended.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Close releases the subscription. Safe to call more than once and from
// any goroutine.
func (s *Subscription[T]) Close() {
	if s.closed.Swap(true) {
		return
	}
	// a stopped topic has already finished every subscription it held
	s.topic.enqueue(op[T]{kind: opUnsubscribe, sub: s})
}

func (s *Subscription[T]) isClosed() bool {
	return s.closed.Load()
}

func (s *Subscription[T]) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
		close(s.ch)
	})
}
