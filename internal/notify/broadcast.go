// Package notify provides a small fan-out primitive with explicit
// subscription objects and deterministic teardown.
package notify

import "sync"

// Broadcaster delivers values of T to every live subscription.
//
// Each subscription has a one-slot buffer. Publish never blocks: when a
// subscriber has not consumed the previous value, it is replaced by the new
// one, so a slow subscriber always observes the latest value.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscription receives published values on C until Close.
type Subscription[T any] struct {
	ch     chan T
	owner  *Broadcaster[T]
	once   sync.Once
	closed chan struct{}
}

// C returns the delivery channel. It is closed when the subscription or the
// broadcaster is closed.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Done is closed once the subscription has been torn down.
func (s *Subscription[T]) Done() <-chan struct{} { return s.closed }

// Close unsubscribes. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	s.closeLocked()
}

func (s *Subscription[T]) closeLocked() {
	s.once.Do(func() {
		delete(s.owner.subs, s)
		close(s.ch)
		close(s.closed)
	})
}

// Subscribe registers a new subscription. Subscribing to a closed
// broadcaster returns an already-closed subscription.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &Subscription[T]{
		ch:     make(chan T, 1),
		owner:  b,
		closed: make(chan struct{}),
	}
	if b.closed {
		s.closeLocked()
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish delivers v to every subscription without blocking.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.subs {
		select {
		case s.ch <- v:
			continue
		default:
		}
		// Replace the stale value. Publishers are serialised by mu, so the
		// slot is free after the drain.
		select {
		case <-s.ch:
		default:
		}
		s.ch <- v
	}
}

// Len returns the number of live subscriptions.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close tears down every subscription. Later Publish calls are no-ops.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.closeLocked()
	}
}
