// Package events carries domain events out of the settlement core. The core
// only depends on Publisher; transports subscribe or forward.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	OrderTransitioned Type = "order.transitioned"
	TokenRedeemed     Type = "token.redeemed"
	DisputeOpened     Type = "dispute.opened"
	DisputeResolved   Type = "dispute.resolved"
	LedgerPosted      Type = "ledger.posted"
)

// Event is one fact emitted after the write that produced it committed.
type Event struct {
	ID         uuid.UUID              `json:"id"`
	Type       Type                   `json:"type"`
	OrderID    uuid.UUID              `json:"order_id"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// New stamps an event with an id and the current time.
func New(t Type, orderID uuid.UUID, data map[string]interface{}) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		OrderID:    orderID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// MultiPublisher forwards each event to every publisher and returns the
// first error after trying all of them.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, event Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
