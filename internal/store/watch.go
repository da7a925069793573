package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sigil-dev/sigil/internal/doc"
)

// ErrSubscriptionClosed is returned by Next once a closed subscription
// has drained its pending deliveries.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Subscription delivers every future write whose key matches a glob.
//
// The internal queue is unbounded so a slow consumer never blocks
// writers; cascading rule firings can enqueue arbitrarily many
// deliveries without deadlocking the store.
//
// A buffered signal channel of size 1 coalesces wakeups, enabling
// context-aware waiting in Next.
type Subscription struct {
	glob  doc.Glob
	store *Store

	mu     sync.Mutex
	queue  []doc.Document
	closed bool
	signal chan struct{}
}

// Watch opens a subscription for every future write matching the glob.
// Existing documents are not replayed; callers wanting a catch-up pass
// use List + Read before consuming deliveries.
func (s *Store) Watch(pattern string) (*Subscription, error) {
	glob, err := doc.ParseGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}

	sub := &Subscription{
		glob:   glob,
		store:  s,
		queue:  make([]doc.Document, 0, 16),
		signal: make(chan struct{}, 1),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("watch: store is closed")
	}
	s.subs = append(s.subs, sub)
	return sub, nil
}

// Next blocks until a delivery is available, the context is cancelled,
// or the subscription is closed and drained. Returns ctx.Err() on
// cancellation and ErrSubscriptionClosed after the final delivery.
func (sub *Subscription) Next(ctx context.Context) (doc.Document, error) {
	for {
		if d, ok := sub.tryNext(); ok {
			return d, nil
		}

		sub.mu.Lock()
		drained := sub.closed && len(sub.queue) == 0
		sub.mu.Unlock()
		if drained {
			return doc.Document{}, ErrSubscriptionClosed
		}

		select {
		case <-ctx.Done():
			return doc.Document{}, ctx.Err()
		case <-sub.signal:
			// Signal received - loop back to tryNext. The signal
			// channel closes when the subscription closes, so this
			// case fires immediately afterwards.
		}
	}
}

// Close unregisters the subscription from the store and wakes any
// blocked Next call. Pending deliveries are still drained.
func (sub *Subscription) Close() {
	sub.store.mu.Lock()
	for i, registered := range sub.store.subs {
		if registered == sub {
			sub.store.subs = append(sub.store.subs[:i], sub.store.subs[i+1:]...)
			break
		}
	}
	sub.store.mu.Unlock()

	sub.shutdown()
}

// Glob returns the subscription's glob text.
func (sub *Subscription) Glob() string {
	return sub.glob.String()
}

// enqueue appends a delivery. Called with the store's write lock held,
// which is what preserves write order across subscriptions.
func (sub *Subscription) enqueue(d doc.Document) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.closed {
		return
	}
	sub.queue = append(sub.queue, d)

	// Non-blocking send - the buffer of 1 coalesces multiple signals.
	select {
	case sub.signal <- struct{}{}:
	default:
	}
}

// tryNext attempts to dequeue without blocking.
func (sub *Subscription) tryNext() (doc.Document, bool) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if len(sub.queue) == 0 {
		return doc.Document{}, false
	}

	d := sub.queue[0]
	sub.queue[0] = doc.Document{} // allow GC of the payload
	if len(sub.queue) == 1 {
		sub.queue = sub.queue[:0]
	} else {
		sub.queue = sub.queue[1:]
	}
	return d, true
}

// shutdown marks the subscription closed without touching the store's
// registry. Used by Store.Close, which already holds its own lock path.
func (sub *Subscription) shutdown() {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.signal) // wakes all waiters
}
