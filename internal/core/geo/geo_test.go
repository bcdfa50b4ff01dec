package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValid(t *testing.T) {
	tests := []struct {
		name  string
		coord Coordinate
		want  bool
	}{
		{name: "Manila", coord: Coordinate{Lat: 14.60, Lng: 120.98}, want: true},
		{name: "Bounds", coord: Coordinate{Lat: -90, Lng: 180}, want: true},
		{name: "LatTooHigh", coord: Coordinate{Lat: 90.0001, Lng: 0}, want: false},
		{name: "LatTooLow", coord: Coordinate{Lat: -91, Lng: 0}, want: false},
		{name: "LngTooHigh", coord: Coordinate{Lat: 0, Lng: 180.5}, want: false},
		{name: "LngTooLow", coord: Coordinate{Lat: 0, Lng: -200}, want: false},
		{name: "NaN", coord: Coordinate{Lat: math.NaN(), Lng: 0}, want: false},
		{name: "Inf", coord: Coordinate{Lat: 0, Lng: math.Inf(1)}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Valid(tt.coord))
			if tt.want {
				assert.NoError(t, tt.coord.Validate())
			} else {
				assert.ErrorIs(t, tt.coord.Validate(), ErrInvalidCoordinate)
			}
		})
	}
}

func TestDistanceMeters_SymmetricAndZero(t *testing.T) {
	points := []Coordinate{
		{Lat: 14.60, Lng: 120.98},
		{Lat: 14.61, Lng: 120.99},
		{Lat: -33.8688, Lng: 151.2093},
		{Lat: 51.5074, Lng: -0.1278},
		{Lat: 90, Lng: 0},
		{Lat: 0, Lng: -180},
	}

	for _, a := range points {
		self, err := DistanceMeters(a, a)
		require.NoError(t, err)
		assert.Zero(t, self)

		for _, b := range points {
			ab, err := DistanceMeters(a, b)
			require.NoError(t, err)
			ba, err := DistanceMeters(b, a)
			require.NoError(t, err)
			assert.InDelta(t, ab, ba, 1e-6)
		}
	}
}

func TestDistanceMeters_KnownValue(t *testing.T) {
	// One degree of latitude along a meridian.
	d, err := DistanceMeters(Coordinate{Lat: 0, Lng: 0}, Coordinate{Lat: 1, Lng: 0})
	require.NoError(t, err)
	assert.InDelta(t, 111194.9, d, 1)
}

func TestDistanceMeters_RejectsInvalid(t *testing.T) {
	valid := Coordinate{Lat: 14.6, Lng: 120.98}
	invalid := Coordinate{Lat: 120, Lng: 0}

	_, err := DistanceMeters(valid, invalid)
	assert.ErrorIs(t, err, ErrInvalidCoordinate)

	_, err = DistanceMeters(invalid, valid)
	assert.ErrorIs(t, err, ErrInvalidCoordinate)

	_, err = IsNearby(invalid, valid, 100)
	assert.ErrorIs(t, err, ErrInvalidCoordinate)
}

func TestIsNearby(t *testing.T) {
	a := Coordinate{Lat: 14.6000, Lng: 120.9800}
	b := Coordinate{Lat: 14.6005, Lng: 120.9800}

	near, err := IsNearby(a, b, 100)
	require.NoError(t, err)
	assert.True(t, near)

	near, err = IsNearby(a, b, 10)
	require.NoError(t, err)
	assert.False(t, near)
}

func TestFormatDistance(t *testing.T) {
	assert.Equal(t, "0 m", FormatDistance(0))
	assert.Equal(t, "850 m", FormatDistance(849.6))
	assert.Equal(t, "1.0 km", FormatDistance(1000))
	assert.Equal(t, "12.4 km", FormatDistance(12420))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45 sec", FormatDuration(45))
	assert.Equal(t, "12 min", FormatDuration(720))
	assert.Equal(t, "1 hr", FormatDuration(3600))
	assert.Equal(t, "1 hr 5 min", FormatDuration(3900))
	assert.Equal(t, "2 hr", FormatDuration(3600+59*60+50))
}
