package ports

import (
	"context"
	"time"

	"handoff-coordinator/internal/features/location/domain"
)

// Platform is the device geolocation platform the tracker reads from.
type Platform interface {
	// LatestFix returns the most recent fix seen for the operator.
	// ok is false when none has been received yet.
	LatestFix(operatorID string) (fix domain.Fix, ok bool, err error)
	// Subscribe opens a continuous stream of fixes for the operator.
	Subscribe(operatorID string) (Subscription, error)
}

// Subscription is a live stream of fixes from the Platform.
type Subscription interface {
	// Fixes delivers new fixes. It is closed when the subscription ends.
	Fixes() <-chan domain.Fix
	// Errors delivers platform failures such as a permission revocation.
	Errors() <-chan error
	// Close releases the subscription. It is safe to call more than once.
	Close() error
}

// FixIngestor accepts fixes and permission changes reported by devices.
type FixIngestor interface {
	Publish(fix domain.Fix) error
	SetPermission(operatorID string, granted bool)
}

// LocationSink persists fixes against the operator's in-transit deliveries.
type LocationSink interface {
	RecordOperatorLocation(ctx context.Context, fix domain.Fix) error
}

// FixBroadcaster forwards live fixes to dispatch subscribers.
type FixBroadcaster interface {
	Broadcast(ctx context.Context, fix domain.Fix) error
}

// LocationService defines the primary port used by the HTTP layer.
type LocationService interface {
	GetCurrentLocation(ctx context.Context, operatorID string, timeout time.Duration) (domain.Fix, error)
	AccuracyThreshold() float64
}
