package adapters

import (
	"context"
	"fmt"

	deliverydomain "handoff-coordinator/internal/features/deliveries/domain"
	"handoff-coordinator/internal/features/routing/domain"
)

// DeliveryLister lists an operator's deliveries.
type DeliveryLister interface {
	ListByOperator(ctx context.Context, operatorID string, activeOnly bool) ([]*deliverydomain.Delivery, error)
}

// DeliveryStops implements ports.StopSource from the operator's open deliveries.
// An assigned delivery contributes its pickup and dropoff; one in transit only
// its dropoff. Arrived deliveries have nothing left to visit.
type DeliveryStops struct {
	deliveries DeliveryLister
}

// NewDeliveryStops creates a new DeliveryStops.
func NewDeliveryStops(deliveries DeliveryLister) *DeliveryStops {
	return &DeliveryStops{deliveries: deliveries}
}

// StopsForOperator implements ports.StopSource.
func (s *DeliveryStops) StopsForOperator(ctx context.Context, operatorID string) ([]domain.Stop, error) {
	list, err := s.deliveries.ListByOperator(ctx, operatorID, true)
	if err != nil {
		return nil, fmt.Errorf("list deliveries for %s: %w", operatorID, err)
	}

	var stops []domain.Stop
	for _, d := range list {
		switch d.Status {
		case deliverydomain.StatusAssigned:
			stops = append(stops, toStop(d.ID, domain.StopKindPickup, d.Pickup), toStop(d.ID, domain.StopKindDropoff, d.Dropoff))
		case deliverydomain.StatusInTransit:
			stops = append(stops, toStop(d.ID, domain.StopKindDropoff, d.Dropoff))
		}
	}
	return stops, nil
}

func toStop(deliveryID string, kind domain.StopKind, p deliverydomain.Place) domain.Stop {
	return domain.Stop{
		DeliveryID: deliveryID,
		Kind:       kind,
		Coordinate: p.Coordinate,
		Address:    p.Address,
	}
}
