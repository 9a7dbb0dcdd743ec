// Package fanout delivers values to many subscribers without letting a slow
// subscriber block the publisher or any other subscriber.
//
// Each subscriber owns an unbounded Mailbox drained by its own goroutine.
package fanout

import "sync"

// Mailbox is a thread-safe unbounded FIFO.
//
// The mailbox uses a channel for signaling so a reader can wait with select
// alongside ctx.Done().
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{} // buffered, size 1
}

// NewMailbox creates an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		items:  make([]T, 0, 8),
		signal: make(chan struct{}, 1),
	}
}

// Push appends v. Returns false if the mailbox is closed.
func (m *Mailbox[T]) Push(v T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	m.items = append(m.items, v)

	// Non-blocking; the buffer of 1 coalesces signals
	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

// TryPop removes and returns the oldest value without blocking.
func (m *Mailbox[T]) TryPop() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	if len(m.items) == 0 {
		return zero, false
	}
	v := m.items[0]
	m.items[0] = zero
	if len(m.items) == 1 {
		m.items = m.items[:0]
	} else {
		m.items = m.items[1:]
	}
	return v, true
}

// Wait returns a channel that signals when values may be available. The
// channel is closed when the mailbox is closed.
func (m *Mailbox[T]) Wait() <-chan struct{} {
	return m.signal
}

// Len returns the number of undelivered values.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close discards undelivered values and wakes any waiter.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.items = nil
	close(m.signal)
}
