package whatsapp

import (
	"log/slog"
	"sync"
)

type eventKind int

const (
	eventQR eventKind = iota
	eventStatus
	eventMessage
)

type busEvent struct {
	kind    eventKind
	qr      string
	status  StatusEvent
	message InboundMessage
}

type listener[T any] struct {
	id uint64
	fn func(T)
}

// EventBus is the per-provider publish/subscribe channel for qr, status and
// message events. Listeners run on a single goroutine in publish order, and
// within one event in subscription order.
type EventBus struct {
	logger *slog.Logger

	mu      sync.Mutex
	nextID  uint64
	qr      []listener[string]
	status  []listener[StatusEvent]
	message []listener[InboundMessage]

	queue *mailbox[busEvent]
}

func NewEventBus(log *slog.Logger) *EventBus {
	if log == nil {
		log = slog.Default()
	}
	b := &EventBus{logger: log}
	b.queue = newMailbox(b.dispatch)
	return b
}

// OnQR registers fn and returns its unsubscribe func.
func (b *EventBus) OnQR(fn func(string)) func() {
	return subscribe(b, &b.qr, fn)
}

func (b *EventBus) OnStatus(fn func(StatusEvent)) func() {
	return subscribe(b, &b.status, fn)
}

func (b *EventBus) OnMessage(fn func(InboundMessage)) func() {
	return subscribe(b, &b.message, fn)
}

func subscribe[T any](b *EventBus, list *[]listener[T], fn func(T)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	*list = append(*list, listener[T]{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, l := range *list {
				if l.id == id {
					*list = append((*list)[:i:i], (*list)[i+1:]...)
					return
				}
			}
		})
	}
}

func (b *EventBus) PublishQR(code string) {
	b.queue.push(busEvent{kind: eventQR, qr: code})
}

func (b *EventBus) PublishStatus(evt StatusEvent) {
	b.queue.push(busEvent{kind: eventStatus, status: evt})
}

func (b *EventBus) PublishMessage(msg InboundMessage) {
	b.queue.push(busEvent{kind: eventMessage, message: msg})
}

// Close stops accepting events; queued ones are still delivered.
func (b *EventBus) Close() {
	b.queue.close()
}

// Drain closes the bus and waits until every queued event was delivered.
// It must not be called from a listener.
func (b *EventBus) Drain() {
	b.queue.close()
	b.queue.wait()
}

func (b *EventBus) dispatch(evt busEvent) {
	switch evt.kind {
	case eventQR:
		for _, fn := range snapshot(b, &b.qr) {
			b.safeCall(func() { fn(evt.qr) })
		}
	case eventStatus:
		for _, fn := range snapshot(b, &b.status) {
			b.safeCall(func() { fn(evt.status) })
		}
	case eventMessage:
		for _, fn := range snapshot(b, &b.message) {
			b.safeCall(func() { fn(evt.message) })
		}
	}
}

func snapshot[T any](b *EventBus, list *[]listener[T]) []func(T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]func(T), 0, len(*list))
	for _, l := range *list {
		out = append(out, l.fn)
	}
	return out
}

func (b *EventBus) safeCall(call func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panic", slog.Any("panic", r))
		}
	}()
	call()
}
