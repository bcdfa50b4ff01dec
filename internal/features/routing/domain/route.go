package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"handoff-coordinator/internal/core/geo"
)

var (
	// ErrNoStops is returned when a plan is requested for an empty stop set.
	ErrNoStops = errors.New("no stops to plan")
	// ErrProviderDenied is returned when the directions provider rejects our credentials.
	ErrProviderDenied = errors.New("directions provider denied the request")
	// ErrProviderQuotaExceeded is returned when the provider's usage quota is exhausted.
	ErrProviderQuotaExceeded = errors.New("directions provider quota exceeded")
	// ErrProviderNoResult is returned when the provider finds no feasible route or address.
	ErrProviderNoResult = errors.New("directions provider returned no result")
	// ErrProviderUnavailable is returned on network, transport or provider-side failures.
	ErrProviderUnavailable = errors.New("directions provider unavailable")
	// ErrInvalidCoordinate is geo.ErrInvalidCoordinate, re-exported for routing callers.
	ErrInvalidCoordinate = geo.ErrInvalidCoordinate
	// ErrInvalidStop is returned for stops without a delivery or with an unknown kind.
	ErrInvalidStop = errors.New("invalid stop")
	// ErrInvalidTravelMode is returned for unsupported travel modes.
	ErrInvalidTravelMode = errors.New("invalid travel mode")
)

// StopKind distinguishes the two ends of a delivery.
type StopKind string

const (
	StopKindPickup  StopKind = "pickup"
	StopKindDropoff StopKind = "dropoff"
)

// Rank orders kinds of the same delivery: pickup before dropoff.
func (k StopKind) Rank() int {
	if k == StopKindPickup {
		return 0
	}
	return 1
}

// TravelMode is how the operator moves between stops.
type TravelMode string

const (
	TravelModeDriving   TravelMode = "driving"
	TravelModeWalking   TravelMode = "walking"
	TravelModeBicycling TravelMode = "bicycling"
)

// ParseTravelMode parses s, defaulting to driving when s is empty.
func ParseTravelMode(s string) (TravelMode, error) {
	switch m := TravelMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return TravelModeDriving, nil
	case TravelModeDriving, TravelModeWalking, TravelModeBicycling:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTravelMode, s)
	}
}

// Stop is a physical location tied to a delivery.
type Stop struct {
	DeliveryID string         `json:"delivery_id"`
	Kind       StopKind       `json:"kind"`
	Coordinate geo.Coordinate `json:"coordinate"`
	Address    string         `json:"address,omitempty"`
}

// Validate checks that the stop can be planned.
func (s Stop) Validate() error {
	if s.DeliveryID == "" {
		return fmt.Errorf("%w: delivery id is required", ErrInvalidStop)
	}
	if s.Kind != StopKindPickup && s.Kind != StopKindDropoff {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidStop, s.Kind)
	}
	if err := s.Coordinate.Validate(); err != nil {
		return fmt.Errorf("stop %s/%s: %w", s.DeliveryID, s.Kind, err)
	}
	return nil
}

// Less orders stops by delivery id, then pickup before dropoff.
func (s Stop) Less(other Stop) bool {
	if s.DeliveryID != other.DeliveryID {
		return s.DeliveryID < other.DeliveryID
	}
	return s.Kind.Rank() < other.Kind.Rank()
}

// Leg is one point-to-point segment of a Route.
type Leg struct {
	From            geo.Coordinate `json:"from"`
	To              geo.Coordinate `json:"to"`
	DistanceMeters  float64        `json:"distance_meters"`
	DurationSeconds float64        `json:"duration_seconds"`
	StartAddress    string         `json:"start_address,omitempty"`
	EndAddress      string         `json:"end_address,omitempty"`
}

// Source records which strategy produced a Route.
type Source string

const (
	SourceProvider Source = "provider"
	SourceFallback Source = "fallback"
)

// Route is a computed, ephemeral visiting order of stops.
type Route struct {
	Origin               geo.Coordinate `json:"origin"`
	OrderedStops         []Stop         `json:"ordered_stops"`
	Legs                 []Leg          `json:"legs"`
	TotalDistanceMeters  float64        `json:"total_distance_meters"`
	TotalDurationSeconds float64        `json:"total_duration_seconds"`
	Mode                 TravelMode     `json:"mode"`
	Source               Source         `json:"source"`
	ComputedAt           time.Time      `json:"computed_at"`
}

// Clone returns a deep copy of r.
func (r *Route) Clone() *Route {
	if r == nil {
		return nil
	}
	c := *r
	c.OrderedStops = append([]Stop(nil), r.OrderedStops...)
	c.Legs = append([]Leg(nil), r.Legs...)
	return &c
}

// Summary renders the route for logs and notifications, e.g. "3 stops, 4.2 km, 12 min".
func (r *Route) Summary() string {
	return fmt.Sprintf("%d stops, %s, %s",
		len(r.OrderedStops),
		geo.FormatDistance(r.TotalDistanceMeters),
		geo.FormatDuration(r.TotalDurationSeconds),
	)
}
