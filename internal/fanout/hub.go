package fanout

import "sync"

// Hub publishes values to every current subscriber.
type Hub[T any] struct {
	mu     sync.Mutex
	next   uint64
	subs   map[uint64]*Mailbox[T]
	closed bool
	wg     sync.WaitGroup
}

// NewHub creates a hub with no subscribers.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[uint64]*Mailbox[T])}
}

// Subscribe registers fn and returns a function that removes it. fn runs on
// a goroutine owned by the subscription, one value at a time in publish
// order. Values not yet delivered when unsubscribe is called are dropped.
// Unsubscribe is safe to call more than once and from inside fn.
func (h *Hub[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	mb := NewMailbox[T]()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = mb
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		for {
			for {
				v, ok := mb.TryPop()
				if !ok {
					break
				}
				fn(v)
			}
			if _, open := <-mb.Wait(); !open {
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			mb.Close()
		})
	}
}

// Publish queues v for every subscriber and returns immediately.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, mb := range h.subs {
		mb.Push(v)
	}
}

// Len returns the number of subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close removes every subscriber and waits for their goroutines to exit.
// Must not be called from inside a subscriber callback.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	h.closed = true
	subs := h.subs
	h.subs = make(map[uint64]*Mailbox[T])
	h.mu.Unlock()

	for _, mb := range subs {
		mb.Close()
	}
	h.wg.Wait()
}
