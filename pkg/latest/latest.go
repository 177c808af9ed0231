// Package latest provides a single-slot mailbox that keeps only the most
// recent value. Readers that fall behind skip intermediate values.
package latest

import "sync"

// Mailbox delivers values to one reader, dropping any value the reader has
// not yet taken when a newer one arrives.
type Mailbox[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
}

// New creates an empty mailbox
func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{ch: make(chan T, 1)}
}

// C returns the receive side. It is closed by Close.
func (m *Mailbox[T]) C() <-chan T {
	return m.ch
}

// Offer replaces any pending value with v. It never blocks.
// Returns false once the mailbox is closed.
func (m *Mailbox[T]) Offer(v T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	select {
	case <-m.ch:
	default:
	}
	// only Offer sends, under mu, and the slot is empty now
	m.ch <- v
	return true
}

// Close closes the channel. Safe to call more than once.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}
