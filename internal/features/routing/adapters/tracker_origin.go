package adapters

import (
	"context"

	"handoff-coordinator/internal/core/geo"
	locationports "handoff-coordinator/internal/features/location/ports"
)

// TrackerOrigin implements ports.OriginSource using the operator's current fix.
type TrackerOrigin struct {
	locations locationports.LocationService
}

// NewTrackerOrigin creates a new TrackerOrigin.
func NewTrackerOrigin(locations locationports.LocationService) *TrackerOrigin {
	return &TrackerOrigin{locations: locations}
}

// CurrentOrigin waits for a fresh fix using the tracker's default timeout.
func (o *TrackerOrigin) CurrentOrigin(ctx context.Context, operatorID string) (geo.Coordinate, error) {
	fix, err := o.locations.GetCurrentLocation(ctx, operatorID, 0)
	if err != nil {
		return geo.Coordinate{}, err
	}
	return fix.Coordinate, nil
}
