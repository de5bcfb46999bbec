package whatsapp

import "sync"

// mailbox is an unbounded FIFO drained by one goroutine, so producers never
// block and items are handled in push order.
type mailbox[T any] struct {
	handle func(T)

	mu     sync.Mutex
	items  []T
	closed bool
	notify chan struct{}
	done   chan struct{}
}

func newMailbox[T any](handle func(T)) *mailbox[T] {
	mb := &mailbox[T]{
		handle: handle,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go mb.run()
	return mb
}

// push enqueues item. It reports false once the mailbox is closed.
func (mb *mailbox[T]) push(item T) bool {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return false
	}
	mb.items = append(mb.items, item)
	mb.mu.Unlock()
	select {
	case mb.notify <- struct{}{}:
	default:
	}
	return true
}

// close stops accepting items. Already queued items are still handled.
func (mb *mailbox[T]) close() {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return
	}
	mb.closed = true
	mb.mu.Unlock()
	select {
	case mb.notify <- struct{}{}:
	default:
	}
}

// wait blocks until the drain goroutine has exited after close.
func (mb *mailbox[T]) wait() {
	<-mb.done
}

func (mb *mailbox[T]) run() {
	defer close(mb.done)
	for {
		mb.mu.Lock()
		if len(mb.items) == 0 {
			closed := mb.closed
			mb.mu.Unlock()
			if closed {
				return
			}
			<-mb.notify
			continue
		}
		item := mb.items[0]
		var zero T
		mb.items[0] = zero
		mb.items = mb.items[1:]
		mb.mu.Unlock()
		mb.handle(item)
	}
}
