package ports

import (
	"context"
	"time"

	"handoff-coordinator/internal/core/geo"
	"handoff-coordinator/internal/features/routing/domain"
)

// DirectionsRequest asks the provider for a route through waypoints.
type DirectionsRequest struct {
	Origin            geo.Coordinate
	Destination       geo.Coordinate
	Waypoints         []geo.Coordinate
	OptimizeWaypoints bool
	Mode              domain.TravelMode
}

// DirectionsLeg carries the provider's authoritative metrics for one leg.
type DirectionsLeg struct {
	DistanceMeters  float64
	DurationSeconds float64
	StartAddress    string
	EndAddress      string
}

// DirectionsResult is a provider route. WaypointOrder maps visit position
// to the index in DirectionsRequest.Waypoints.
type DirectionsResult struct {
	WaypointOrder []int
	Legs          []DirectionsLeg
}

// DirectionsProvider computes road-network routes.
// Failures are reported as the routing domain's provider errors.
type DirectionsProvider interface {
	Directions(ctx context.Context, req DirectionsRequest) (*DirectionsResult, error)
}

// Geocoder resolves addresses to coordinates and back.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (geo.Coordinate, error)
	ReverseGeocode(ctx context.Context, c geo.Coordinate) (string, error)
}

// RouteCache stores computed routes by plan key.
type RouteCache interface {
	Get(ctx context.Context, key string) (*domain.Route, bool, error)
	Set(ctx context.Context, key string, route *domain.Route, ttl time.Duration) error
}

// RoutePlanner defines the primary port for planning.
type RoutePlanner interface {
	Plan(ctx context.Context, origin geo.Coordinate, stops []domain.Stop, mode domain.TravelMode) (*domain.Route, error)
	Replan(ctx context.Context, origin geo.Coordinate, stops []domain.Stop, mode domain.TravelMode) (*domain.Route, error)
}

// StopSource lists the stops an operator still has to visit.
type StopSource interface {
	StopsForOperator(ctx context.Context, operatorID string) ([]domain.Stop, error)
}

// OriginSource resolves an operator's current position.
type OriginSource interface {
	CurrentOrigin(ctx context.Context, operatorID string) (geo.Coordinate, error)
}
