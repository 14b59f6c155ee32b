// Package events is the in-process fan-out for domain events emitted by the
// record store. Subscribers (automation rules, notifications, projections)
// receive every event; a slow subscriber drops events rather than
// backpressuring ingestion.
package events

import (
	"log/slog"
	"sync"

	"github.com/secfuse/secfuse/internal/models"
)

// Publisher is what the store depends on.
type Publisher interface {
	Publish(event models.Event)
}

type Handler func(event models.Event)

type Bus struct {
	mu          sync.RWMutex
	subscribers []chan models.Event
	handlers    []Handler
	logger      *slog.Logger
	closed      bool
}

const subscriberBuffer = 256

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers a synchronous handler invoked for every event.
// Handlers must be fast; anything that blocks should use Channel instead.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Channel returns a buffered event channel. Events are dropped for a
// subscriber whose buffer is full.
func (b *Bus) Channel() <-chan models.Event {
	ch := make(chan models.Event, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, ch)
	return ch
}

func (b *Bus) Publish(event models.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, h := range b.handlers {
		h(event)
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Warn("event subscriber buffer full, dropping event",
				"type", event.Type, "identity", event.Identity)
		}
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
