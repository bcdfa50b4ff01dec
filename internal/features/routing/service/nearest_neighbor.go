package service

import (
	"sort"

	"handoff-coordinator/internal/core/geo"
	"handoff-coordinator/internal/features/routing/domain"
)

// canonical returns a copy of stops sorted by delivery id, pickup before dropoff.
func canonical(stops []domain.Stop) []domain.Stop {
	out := append([]domain.Stop(nil), stops...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// blockedDropoffs returns the deliveries whose pickup is among stops, so
// their dropoff may not be visited yet.
func blockedDropoffs(stops []domain.Stop) map[string]bool {
	blocked := make(map[string]bool)
	for _, s := range stops {
		if s.Kind == domain.StopKindPickup {
			blocked[s.DeliveryID] = true
		}
	}
	return blocked
}

// NearestNeighbor orders stops greedily from origin by great-circle distance.
//
// At each step it picks the closest unvisited stop; ties go to the lower
// delivery id, then pickup before dropoff. A dropoff is not eligible while the
// same delivery's pickup is unvisited. Stops must already be validated.
//
// It is an approximation of the open-path TSP and makes no optimality claim.
func NearestNeighbor(origin geo.Coordinate, stops []domain.Stop, speedMetersPerSecond float64) ([]domain.Stop, []domain.Leg, error) {
	remaining := canonical(stops)
	blocked := blockedDropoffs(remaining)

	ordered := make([]domain.Stop, 0, len(remaining))
	legs := make([]domain.Leg, 0, len(remaining))
	current := origin

	for len(remaining) > 0 {
		best := -1
		var bestDist float64

		for i, s := range remaining {
			if s.Kind == domain.StopKindDropoff && blocked[s.DeliveryID] {
				continue
			}
			d, err := geo.DistanceMeters(current, s.Coordinate)
			if err != nil {
				return nil, nil, err
			}
			// Strict comparison keeps the canonical order as tie-breaker.
			if best == -1 || d < bestDist {
				best = i
				bestDist = d
			}
		}

		next := remaining[best]
		legs = append(legs, domain.Leg{
			From:            current,
			To:              next.Coordinate,
			DistanceMeters:  bestDist,
			DurationSeconds: bestDist / speedMetersPerSecond,
			EndAddress:      next.Address,
		})
		ordered = append(ordered, next)
		if next.Kind == domain.StopKindPickup {
			delete(blocked, next.DeliveryID)
		}

		current = next.Coordinate
		remaining = append(remaining[:best], remaining[best+1:]...)
	}

	for i := 1; i < len(legs); i++ {
		legs[i].StartAddress = ordered[i-1].Address
	}

	return ordered, legs, nil
}

// respectsPrecedence reports whether every pickup in ordered comes before its dropoff.
func respectsPrecedence(ordered []domain.Stop) bool {
	pickedUp := make(map[string]bool)
	hasPickup := blockedDropoffs(ordered)
	for _, s := range ordered {
		switch s.Kind {
		case domain.StopKindPickup:
			pickedUp[s.DeliveryID] = true
		case domain.StopKindDropoff:
			if hasPickup[s.DeliveryID] && !pickedUp[s.DeliveryID] {
				return false
			}
		}
	}
	return true
}
