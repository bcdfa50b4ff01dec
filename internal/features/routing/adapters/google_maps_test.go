package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"handoff-coordinator/internal/core/geo"
	"handoff-coordinator/internal/features/routing/domain"
	"handoff-coordinator/internal/features/routing/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const directionsOK = `{
  "status": "OK",
  "routes": [{
    "waypoint_order": [1, 0],
    "legs": [
      {"distance": {"value": 1200}, "duration": {"value": 180}, "start_address": "Origin", "end_address": "B"},
      {"distance": {"value": 800},  "duration": {"value": 120}, "start_address": "B", "end_address": "A"},
      {"distance": {"value": 2500}, "duration": {"value": 300}, "start_address": "A", "end_address": "C"}
    ]
  }]
}`

func newTestGoogleMaps(t *testing.T, handler http.HandlerFunc) *GoogleMaps {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g := NewGoogleMaps(GoogleMapsConfig{APIKey: "test-key", BaseURL: srv.URL + "/", Timeout: 2 * time.Second})
	g.backoff = time.Millisecond
	return g
}

func directionsRequest() ports.DirectionsRequest {
	return ports.DirectionsRequest{
		Origin:            geo.Coordinate{Lat: 14.6, Lng: 120.98},
		Destination:       geo.Coordinate{Lat: 14.7, Lng: 121.0},
		Waypoints:         []geo.Coordinate{{Lat: 14.61, Lng: 120.99}, {Lat: 14.62, Lng: 120.97}},
		OptimizeWaypoints: true,
		Mode:              domain.TravelModeDriving,
	}
}

func TestGoogleMaps_Directions(t *testing.T) {
	g := newTestGoogleMaps(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/directions/json", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "test-key", q.Get("key"))
		assert.Equal(t, "14.600000,120.980000", q.Get("origin"))
		assert.Equal(t, "14.700000,121.000000", q.Get("destination"))
		assert.Equal(t, "driving", q.Get("mode"))
		assert.Equal(t, "optimize:true|14.610000,120.990000|14.620000,120.970000", q.Get("waypoints"))
		w.Write([]byte(directionsOK))
	})

	res, err := g.Directions(context.Background(), directionsRequest())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, res.WaypointOrder)
	require.Len(t, res.Legs, 3)
	assert.Equal(t, 1200.0, res.Legs[0].DistanceMeters)
	assert.Equal(t, 180.0, res.Legs[0].DurationSeconds)
	assert.Equal(t, "C", res.Legs[2].EndAddress)
}

func TestGoogleMaps_DirectionsWithoutWaypoints(t *testing.T) {
	g := newTestGoogleMaps(t, func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("waypoints"))
		w.Write([]byte(`{"status":"OK","routes":[{"legs":[{"distance":{"value":10},"duration":{"value":2}}]}]}`))
	})

	req := directionsRequest()
	req.Waypoints = nil
	res, err := g.Directions(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.Legs, 1)
}

func TestGoogleMaps_StatusMapping(t *testing.T) {
	tests := []struct {
		status string
		want   error
	}{
		{status: "ZERO_RESULTS", want: domain.ErrProviderNoResult},
		{status: "NOT_FOUND", want: domain.ErrProviderNoResult},
		{status: "INVALID_REQUEST", want: domain.ErrProviderNoResult},
		{status: "OVER_QUERY_LIMIT", want: domain.ErrProviderQuotaExceeded},
		{status: "REQUEST_DENIED", want: domain.ErrProviderDenied},
		{status: "UNKNOWN_ERROR", want: domain.ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			g := newTestGoogleMaps(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"status":"` + tt.status + `","error_message":"nope"}`))
			})
			_, err := g.Directions(context.Background(), directionsRequest())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGoogleMaps_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	g := newTestGoogleMaps(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(directionsOK))
	})

	_, err := g.Directions(context.Background(), directionsRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGoogleMaps_HTTPErrors(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		want      error
		wantCalls int32
	}{
		{name: "TooManyRequests", code: http.StatusTooManyRequests, want: domain.ErrProviderQuotaExceeded, wantCalls: 3},
		{name: "Forbidden", code: http.StatusForbidden, want: domain.ErrProviderDenied, wantCalls: 1},
		{name: "BadRequest", code: http.StatusBadRequest, want: domain.ErrProviderNoResult, wantCalls: 1},
		{name: "BadGateway", code: http.StatusBadGateway, want: domain.ErrProviderUnavailable, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			g := newTestGoogleMaps(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.code)
			})
			_, err := g.Directions(context.Background(), directionsRequest())
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestGoogleMaps_MalformedBody(t *testing.T) {
	g := newTestGoogleMaps(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>oops</html>`))
	})
	_, err := g.Directions(context.Background(), directionsRequest())
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestGoogleMaps_CancelledContext(t *testing.T) {
	g := newTestGoogleMaps(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(directionsOK))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Directions(ctx, directionsRequest())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGoogleMaps_Geocode(t *testing.T) {
	g := newTestGoogleMaps(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/geocode/json", r.URL.Path)
		q := r.URL.Query()
		if q.Has("latlng") {
			assert.Equal(t, "14.600000,120.980000", q.Get("latlng"))
			w.Write([]byte(`{"status":"OK","results":[{"formatted_address":"Ermita, Manila"}]}`))
			return
		}
		if strings.Contains(q.Get("address"), "Nowhere") {
			w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
			return
		}
		assert.Equal(t, "Rizal Park, Manila", q.Get("address"))
		w.Write([]byte(`{"status":"OK","results":[{"formatted_address":"Rizal Park","geometry":{"location":{"lat":14.5831,"lng":120.9794}}}]}`))
	})
	ctx := context.Background()

	c, err := g.Geocode(ctx, "  Rizal Park, Manila ")
	require.NoError(t, err)
	assert.Equal(t, geo.Coordinate{Lat: 14.5831, Lng: 120.9794}, c)

	_, err = g.Geocode(ctx, "Nowhere Land")
	assert.ErrorIs(t, err, domain.ErrProviderNoResult)

	_, err = g.Geocode(ctx, "   ")
	assert.ErrorIs(t, err, domain.ErrProviderNoResult)

	address, err := g.ReverseGeocode(ctx, geo.Coordinate{Lat: 14.6, Lng: 120.98})
	require.NoError(t, err)
	assert.Equal(t, "Ermita, Manila", address)

	_, err = g.ReverseGeocode(ctx, geo.Coordinate{Lat: 91, Lng: 0})
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)
}
