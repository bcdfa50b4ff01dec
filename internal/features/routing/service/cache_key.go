package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"handoff-coordinator/internal/core/geo"
	"handoff-coordinator/internal/features/routing/domain"
)

// CacheKey identifies a plan by origin, stop set and mode. Stop order does
// not matter; any change to a stop or the origin yields a different key.
func CacheKey(origin geo.Coordinate, stops []domain.Stop, mode domain.TravelMode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s", mode, origin)
	for _, s := range canonical(stops) {
		fmt.Fprintf(&b, "|%s:%s:%s:%s", s.DeliveryID, s.Kind, s.Coordinate, s.Address)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return "route:" + hex.EncodeToString(sum[:])
}
