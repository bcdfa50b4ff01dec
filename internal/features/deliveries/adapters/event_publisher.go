package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"handoff-coordinator/internal/core/cache"
	"handoff-coordinator/internal/features/deliveries/domain"
)

// EventsChannel carries every delivery transition.
const EventsChannel = "handoff:deliveries:events"

// TransitionEvent is the payload published for a transition.
type TransitionEvent struct {
	DeliveryID string        `json:"delivery_id"`
	OperatorID string        `json:"operator_id"`
	From       domain.Status `json:"from"`
	To         domain.Status `json:"to"`
	At         time.Time     `json:"at"`
}

// EventPublisher is a transition hook that publishes transitions on Redis
// for dispatch views and notification workers.
type EventPublisher struct {
	pub cache.Publisher
}

// NewEventPublisher creates a new EventPublisher.
func NewEventPublisher(pub cache.Publisher) *EventPublisher {
	return &EventPublisher{pub: pub}
}

// Name implements ports.TransitionHook.
func (p *EventPublisher) Name() string { return "event_publisher" }

// AfterTransition implements ports.TransitionHook.
func (p *EventPublisher) AfterTransition(ctx context.Context, t domain.Transition) error {
	data, err := json.Marshal(TransitionEvent{
		DeliveryID: t.Delivery.ID,
		OperatorID: t.Delivery.AssignedOperatorID,
		From:       t.From,
		To:         t.To,
		At:         t.At,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal transition event: %w", err)
	}
	if err := p.pub.Publish(ctx, EventsChannel, data); err != nil {
		return fmt.Errorf("failed to publish transition event: %w", err)
	}
	return nil
}
