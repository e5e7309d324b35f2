package events

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/handoff-backend/internal/metrics"
)

// Bus fans events out to in-process subscribers over buffered channels.
// Publish never blocks: a full subscriber misses the event and a warning
// is logged.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
	closed bool
	logger *logrus.Logger
}

func NewBus(buffer int, logger *logrus.Logger) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bus{
		subs:   make(map[int]chan Event),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe returns a channel of events and a function that removes the
// subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

func (b *Bus) Publish(_ context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}

	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			metrics.EventsDroppedTotal.WithLabelValues(string(event.Type)).Inc()
			b.logger.WithFields(logrus.Fields{
				"subscriber": id,
				"event_type": event.Type,
				"order_id":   event.OrderID,
			}).Warn("Event subscriber full, dropping event")
		}
	}
	return nil
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
