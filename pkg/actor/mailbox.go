// Package actor provides the unbounded FIFO mailbox behind the single-goroutine
// components (display slots and the spectate resolver). Pushing never blocks, so
// transport callbacks and registry notifications can enqueue from any goroutine
// without waiting on the consumer.
package actor

import (
	"sync"

	"github.com/gammazero/deque"
)

// Mailbox is a FIFO queue drained by exactly one Run loop.
type Mailbox[T any] struct {
	mu     sync.Mutex
	queue  deque.Deque[T]
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

// NewMailbox creates an empty, open mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Push appends v. It returns false once the mailbox is closed.
func (m *Mailbox[T]) Push(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue.PushBack(v)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// Run hands queued items to handle in order on the calling goroutine. After
// Close it drains what is left and returns.
func (m *Mailbox[T]) Run(handle func(T)) {
	defer close(m.done)

	for {
		m.mu.Lock()
		if m.queue.Len() == 0 {
			closed := m.closed
			m.mu.Unlock()
			if closed {
				return
			}
			<-m.wake
			continue
		}
		v := m.queue.PopFront()
		m.mu.Unlock()

		handle(v)
	}
}

// Close stops accepting new items. Safe to call more than once.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run has returned.
func (m *Mailbox[T]) Done() <-chan struct{} {
	return m.done
}

// Len returns the number of queued items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}
