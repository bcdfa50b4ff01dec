package domain

import (
	"testing"

	"handoff-coordinator/internal/core/geo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTravelMode(t *testing.T) {
	m, err := ParseTravelMode("")
	require.NoError(t, err)
	assert.Equal(t, TravelModeDriving, m)

	m, err = ParseTravelMode(" Walking ")
	require.NoError(t, err)
	assert.Equal(t, TravelModeWalking, m)

	_, err = ParseTravelMode("teleport")
	assert.ErrorIs(t, err, ErrInvalidTravelMode)
}

func TestStop_Validate(t *testing.T) {
	ok := Stop{DeliveryID: "A", Kind: StopKindPickup, Coordinate: geo.Coordinate{Lat: 1, Lng: 2}}
	assert.NoError(t, ok.Validate())

	noID := ok
	noID.DeliveryID = ""
	assert.ErrorIs(t, noID.Validate(), ErrInvalidStop)

	badKind := ok
	badKind.Kind = "detour"
	assert.ErrorIs(t, badKind.Validate(), ErrInvalidStop)

	badCoord := ok
	badCoord.Coordinate.Lng = 181
	assert.ErrorIs(t, badCoord.Validate(), ErrInvalidCoordinate)
}

func TestStop_Less(t *testing.T) {
	aPick := Stop{DeliveryID: "A", Kind: StopKindPickup}
	aDrop := Stop{DeliveryID: "A", Kind: StopKindDropoff}
	bPick := Stop{DeliveryID: "B", Kind: StopKindPickup}

	assert.True(t, aPick.Less(aDrop))
	assert.False(t, aDrop.Less(aPick))
	assert.True(t, aDrop.Less(bPick))
}

func TestRoute_CloneAndSummary(t *testing.T) {
	r := &Route{
		OrderedStops:         []Stop{{DeliveryID: "A"}, {DeliveryID: "B"}},
		Legs:                 []Leg{{DistanceMeters: 1000}, {DistanceMeters: 3200}},
		TotalDistanceMeters:  4200,
		TotalDurationSeconds: 720,
	}
	c := r.Clone()
	c.OrderedStops[0].DeliveryID = "Z"
	assert.Equal(t, "A", r.OrderedStops[0].DeliveryID)

	assert.Equal(t, "2 stops, 4.2 km, 12 min", r.Summary())
	assert.Nil(t, (*Route)(nil).Clone())
}
