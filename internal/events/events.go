// Package events provides synchronous observer lists. Subscribers run on
// the goroutine that emits, in subscription order.
package events

import "sync"

// Subscription identifies a subscriber so it can be removed.
type Subscription uint64

type subscriber[T any] struct {
	id Subscription
	fn func(T)
}

// Event is an ordered list of subscribers receiving values of type T.
type Event[T any] struct {
	mu   sync.Mutex
	next Subscription
	subs []subscriber[T]
}

// Subscribe adds fn and returns its Subscription.
func (e *Event[T]) Subscribe(fn func(T)) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	e.subs = append(e.subs, subscriber[T]{id: e.next, fn: fn})
	return e.next
}

// Unsubscribe removes a subscriber. Unknown subscriptions are ignored.
func (e *Event[T]) Unsubscribe(s Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, sub := range e.subs {
		if sub.id == s {
			e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
			return
		}
	}
}

// Emit delivers v to every subscriber present when Emit was called.
func (e *Event[T]) Emit(v T) {
	e.mu.Lock()
	subs := e.subs
	e.mu.Unlock()
	for _, sub := range subs {
		sub.fn(v)
	}
}

// Len returns the number of subscribers.
func (e *Event[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// Clear removes every subscriber.
func (e *Event[T]) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = nil
}
