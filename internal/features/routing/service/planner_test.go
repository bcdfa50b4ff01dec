package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"handoff-coordinator/internal/core/geo"
	"handoff-coordinator/internal/features/routing/domain"
	"handoff-coordinator/internal/features/routing/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockDirectionsProvider is a mock implementation of ports.DirectionsProvider.
type MockDirectionsProvider struct {
	mock.Mock
}

func (m *MockDirectionsProvider) Directions(ctx context.Context, req ports.DirectionsRequest) (*ports.DirectionsResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.DirectionsResult), args.Error(1)
}

// providerFunc adapts a function to ports.DirectionsProvider.
type providerFunc func(ctx context.Context, req ports.DirectionsRequest) (*ports.DirectionsResult, error)

func (f providerFunc) Directions(ctx context.Context, req ports.DirectionsRequest) (*ports.DirectionsResult, error) {
	return f(ctx, req)
}

// memoryRouteCache is an in-process ports.RouteCache.
type memoryRouteCache struct {
	mu     sync.Mutex
	routes map[string]*domain.Route
	sets   int
}

func newMemoryRouteCache() *memoryRouteCache {
	return &memoryRouteCache{routes: make(map[string]*domain.Route)}
}

func (c *memoryRouteCache) Get(ctx context.Context, key string) (*domain.Route, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.routes[key]
	return r.Clone(), ok, nil
}

func (c *memoryRouteCache) Set(ctx context.Context, key string, route *domain.Route, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[key] = route.Clone()
	c.sets++
	return nil
}

func (c *memoryRouteCache) setCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}

var manila = geo.Coordinate{Lat: 14.60, Lng: 120.98}

func dropoff(id string, lat, lng float64) domain.Stop {
	return domain.Stop{DeliveryID: id, Kind: domain.StopKindDropoff, Coordinate: geo.Coordinate{Lat: lat, Lng: lng}}
}

func pickup(id string, lat, lng float64) domain.Stop {
	return domain.Stop{DeliveryID: id, Kind: domain.StopKindPickup, Coordinate: geo.Coordinate{Lat: lat, Lng: lng}}
}

func ids(stops []domain.Stop) []string {
	out := make([]string, len(stops))
	for i, s := range stops {
		out[i] = fmt.Sprintf("%s/%s", s.DeliveryID, s.Kind)
	}
	return out
}

func newTestPlanner(provider ports.DirectionsProvider, cache ports.RouteCache) *Planner {
	return NewPlanner(provider, cache, Config{AverageSpeedKPH: 36, CacheTTL: time.Minute, Timeout: time.Second}, nil, zap.NewNop())
}

func TestPlanner_FallbackWhenProviderUnavailable(t *testing.T) {
	provider := new(MockDirectionsProvider)
	provider.On("Directions", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: connection refused", domain.ErrProviderUnavailable))

	a := dropoff("A", 14.61, 120.99)
	b := dropoff("B", 14.59, 120.97)
	planner := newTestPlanner(provider, nil)

	route, err := planner.Plan(context.Background(), manila, []domain.Stop{a, b}, domain.TravelModeDriving)
	require.NoError(t, err)

	dA, err := geo.DistanceMeters(manila, a.Coordinate)
	require.NoError(t, err)
	dB, err := geo.DistanceMeters(manila, b.Coordinate)
	require.NoError(t, err)

	first, second := a, b
	if dB < dA {
		first, second = b, a
	}
	assert.Equal(t, domain.SourceFallback, route.Source)
	assert.Equal(t, []string{first.DeliveryID + "/dropoff", second.DeliveryID + "/dropoff"}, ids(route.OrderedStops))

	require.Len(t, route.Legs, 2)
	from := manila
	var total float64
	for i, leg := range route.Legs {
		want, err := geo.DistanceMeters(from, route.OrderedStops[i].Coordinate)
		require.NoError(t, err)
		assert.InDelta(t, want, leg.DistanceMeters, 1e-6)
		// 36 km/h is 10 m/s.
		assert.InDelta(t, want/10, leg.DurationSeconds, 1e-6)
		total += want
		from = route.OrderedStops[i].Coordinate
	}
	assert.InDelta(t, total, route.TotalDistanceMeters, 1e-6)
	provider.AssertNumberOfCalls(t, "Directions", 1)
}

func TestPlanner_NoStops(t *testing.T) {
	provider := new(MockDirectionsProvider)
	planner := newTestPlanner(provider, newMemoryRouteCache())

	route, err := planner.Plan(context.Background(), manila, nil, domain.TravelModeDriving)
	assert.Nil(t, route)
	assert.ErrorIs(t, err, domain.ErrNoStops)

	route, err = planner.Replan(context.Background(), manila, []domain.Stop{}, domain.TravelModeDriving)
	assert.Nil(t, route)
	assert.ErrorIs(t, err, domain.ErrNoStops)

	provider.AssertNotCalled(t, "Directions", mock.Anything, mock.Anything)
}

func TestPlanner_InvalidInput(t *testing.T) {
	planner := newTestPlanner(nil, nil)
	valid := []domain.Stop{dropoff("A", 14.61, 120.99)}

	_, err := planner.Plan(context.Background(), geo.Coordinate{Lat: 91, Lng: 0}, valid, domain.TravelModeDriving)
	assert.ErrorIs(t, err, domain.ErrInvalidCoordinate)

	_, err = planner.Plan(context.Background(), manila, []domain.Stop{dropoff("A", 14.61, 181)}, domain.TravelModeDriving)
	assert.ErrorIs(t, err, domain.ErrInvalidCoordinate)

	_, err = planner.Plan(context.Background(), manila, []domain.Stop{{Kind: domain.StopKindDropoff, Coordinate: manila}}, domain.TravelModeDriving)
	assert.ErrorIs(t, err, domain.ErrInvalidStop)

	_, err = planner.Plan(context.Background(), manila, []domain.Stop{valid[0], valid[0]}, domain.TravelModeDriving)
	assert.ErrorIs(t, err, domain.ErrInvalidStop)

	_, err = planner.Plan(context.Background(), manila, valid, domain.TravelMode("teleport"))
	assert.ErrorIs(t, err, domain.ErrInvalidTravelMode)
}

func TestPlanner_SingleStopIsDirectLeg(t *testing.T) {
	planner := newTestPlanner(nil, nil)
	stop := dropoff("A", 14.65, 121.03)

	route, err := planner.Plan(context.Background(), manila, []domain.Stop{stop}, "")
	require.NoError(t, err)

	require.Len(t, route.Legs, 1)
	assert.Equal(t, manila, route.Legs[0].From)
	assert.Equal(t, stop.Coordinate, route.Legs[0].To)
	assert.Equal(t, domain.TravelModeDriving, route.Mode)
}

func TestPlanner_FallbackIsDeterministic(t *testing.T) {
	stops := []domain.Stop{
		dropoff("C", 14.62, 120.97),
		pickup("B", 14.58, 121.00),
		dropoff("A", 14.63, 121.01),
		dropoff("B", 14.57, 121.02),
		// Equidistant twins: the lower delivery id must win.
		dropoff("E", 14.64, 120.98),
		dropoff("D", 14.64, 120.98),
	}
	reversed := make([]domain.Stop, len(stops))
	for i, s := range stops {
		reversed[len(stops)-1-i] = s
	}

	first, err := newTestPlanner(nil, nil).Plan(context.Background(), manila, stops, domain.TravelModeDriving)
	require.NoError(t, err)
	second, err := newTestPlanner(nil, nil).Plan(context.Background(), manila, reversed, domain.TravelModeDriving)
	require.NoError(t, err)

	assert.Equal(t, ids(first.OrderedStops), ids(second.OrderedStops))

	var posD, posE int
	for i, s := range first.OrderedStops {
		switch s.DeliveryID {
		case "D":
			posD = i
		case "E":
			posE = i
		}
	}
	assert.Equal(t, posD+1, posE)
}

func TestPlanner_FallbackRespectsPickupBeforeDropoff(t *testing.T) {
	// The dropoff is right next to the origin but its pickup is far away.
	stops := []domain.Stop{
		dropoff("A", 14.601, 120.981),
		pickup("A", 14.70, 121.10),
	}

	route, err := newTestPlanner(nil, nil).Plan(context.Background(), manila, stops, domain.TravelModeDriving)
	require.NoError(t, err)

	assert.Equal(t, []string{"A/pickup", "A/dropoff"}, ids(route.OrderedStops))
	assert.True(t, respectsPrecedence(route.OrderedStops))
}

func TestPlanner_DoesNotMutateInput(t *testing.T) {
	stops := []domain.Stop{dropoff("B", 14.59, 120.97), dropoff("A", 14.61, 120.99)}
	before := append([]domain.Stop(nil), stops...)

	_, err := newTestPlanner(nil, nil).Plan(context.Background(), manila, stops, domain.TravelModeDriving)
	require.NoError(t, err)
	assert.Equal(t, before, stops)
}

func TestPlanner_ProviderOrder(t *testing.T) {
	near := dropoff("A", 14.605, 120.985)
	mid := dropoff("B", 14.62, 121.00)
	far := dropoff("C", 14.70, 121.10)

	provider := new(MockDirectionsProvider)
	provider.On("Directions", mock.Anything, mock.MatchedBy(func(req ports.DirectionsRequest) bool {
		return req.Destination == far.Coordinate &&
			req.OptimizeWaypoints &&
			len(req.Waypoints) == 2 &&
			req.Waypoints[0] == near.Coordinate &&
			req.Waypoints[1] == mid.Coordinate &&
			req.Mode == domain.TravelModeWalking
	})).Return(&ports.DirectionsResult{
		WaypointOrder: []int{1, 0},
		Legs: []ports.DirectionsLeg{
			{DistanceMeters: 3000, DurationSeconds: 2400, EndAddress: "Mid St"},
			{DistanceMeters: 2000, DurationSeconds: 1600, EndAddress: "Near St"},
			{DistanceMeters: 15000, DurationSeconds: 12000, EndAddress: "Far St"},
		},
	}, nil).Once()

	route, err := newTestPlanner(provider, nil).Plan(context.Background(), manila, []domain.Stop{far, near, mid}, domain.TravelModeWalking)
	require.NoError(t, err)

	assert.Equal(t, domain.SourceProvider, route.Source)
	assert.Equal(t, []string{"B/dropoff", "A/dropoff", "C/dropoff"}, ids(route.OrderedStops))
	assert.Equal(t, 20000.0, route.TotalDistanceMeters)
	assert.Equal(t, 16000.0, route.TotalDurationSeconds)
	assert.Equal(t, "Far St", route.Legs[2].EndAddress)
	assert.Equal(t, mid.Coordinate, route.Legs[1].From)
	assert.False(t, route.ComputedAt.IsZero())
	provider.AssertExpectations(t)
}

func TestPlanner_ProviderDestinationSkipsPickupWithPendingDropoff(t *testing.T) {
	// The pickup is the farthest stop but cannot be visited last.
	pu := pickup("A", 14.80, 121.20)
	do := dropoff("A", 14.62, 121.00)

	provider := new(MockDirectionsProvider)
	provider.On("Directions", mock.Anything, mock.MatchedBy(func(req ports.DirectionsRequest) bool {
		return req.Destination == do.Coordinate && !req.OptimizeWaypoints && len(req.Waypoints) == 1
	})).Return(&ports.DirectionsResult{
		WaypointOrder: []int{0},
		Legs: []ports.DirectionsLeg{
			{DistanceMeters: 30000, DurationSeconds: 2000},
			{DistanceMeters: 25000, DurationSeconds: 1800},
		},
	}, nil).Once()

	route, err := newTestPlanner(provider, nil).Plan(context.Background(), manila, []domain.Stop{do, pu}, domain.TravelModeDriving)
	require.NoError(t, err)

	assert.Equal(t, []string{"A/pickup", "A/dropoff"}, ids(route.OrderedStops))
	provider.AssertExpectations(t)
}

func TestPlanner_ProviderErrorsPropagate(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "Denied", err: domain.ErrProviderDenied},
		{name: "Quota", err: domain.ErrProviderQuotaExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := new(MockDirectionsProvider)
			provider.On("Directions", mock.Anything, mock.Anything).Return(nil, fmt.Errorf("%w: upstream", tt.err))
			cache := newMemoryRouteCache()

			route, err := newTestPlanner(provider, cache).Plan(context.Background(), manila, []domain.Stop{dropoff("A", 14.61, 120.99)}, domain.TravelModeDriving)
			assert.Nil(t, route)
			assert.ErrorIs(t, err, tt.err)
			assert.Zero(t, cache.setCount())
		})
	}
}

func TestPlanner_MalformedProviderResultFallsBack(t *testing.T) {
	tests := []struct {
		name   string
		result *ports.DirectionsResult
	}{
		{
			name:   "NotAPermutation",
			result: &ports.DirectionsResult{WaypointOrder: []int{0, 0}, Legs: make([]ports.DirectionsLeg, 3)},
		},
		{
			name:   "LegCountMismatch",
			result: &ports.DirectionsResult{WaypointOrder: []int{0, 1}, Legs: make([]ports.DirectionsLeg, 2)},
		},
	}

	stops := []domain.Stop{
		dropoff("A", 14.61, 120.99),
		dropoff("B", 14.59, 120.97),
		dropoff("C", 14.70, 121.10),
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := new(MockDirectionsProvider)
			provider.On("Directions", mock.Anything, mock.Anything).Return(tt.result, nil)

			route, err := newTestPlanner(provider, nil).Plan(context.Background(), manila, stops, domain.TravelModeDriving)
			require.NoError(t, err)
			assert.Equal(t, domain.SourceFallback, route.Source)
			assert.Len(t, route.OrderedStops, 3)
		})
	}
}

func TestPlanner_ProviderPrecedenceViolationFallsBack(t *testing.T) {
	stops := []domain.Stop{
		pickup("A", 14.61, 120.99),
		dropoff("A", 14.62, 121.00),
		dropoff("B", 14.75, 121.15),
	}

	// Waypoints are [A/pickup, A/dropoff]; the provider swaps them.
	provider := new(MockDirectionsProvider)
	provider.On("Directions", mock.Anything, mock.Anything).Return(&ports.DirectionsResult{
		WaypointOrder: []int{1, 0},
		Legs:          make([]ports.DirectionsLeg, 3),
	}, nil)

	route, err := newTestPlanner(provider, nil).Plan(context.Background(), manila, stops, domain.TravelModeDriving)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceFallback, route.Source)
	assert.True(t, respectsPrecedence(route.OrderedStops))
}

func TestPlanner_CacheHitAndReplan(t *testing.T) {
	stop := dropoff("A", 14.61, 120.99)
	provider := new(MockDirectionsProvider)
	provider.On("Directions", mock.Anything, mock.Anything).Return(&ports.DirectionsResult{
		Legs: []ports.DirectionsLeg{{DistanceMeters: 1600, DurationSeconds: 300}},
	}, nil)

	cache := newMemoryRouteCache()
	planner := newTestPlanner(provider, cache)

	first, err := planner.Plan(context.Background(), manila, []domain.Stop{stop}, domain.TravelModeDriving)
	require.NoError(t, err)
	second, err := planner.Plan(context.Background(), manila, []domain.Stop{stop}, domain.TravelModeDriving)
	require.NoError(t, err)

	assert.Equal(t, first.TotalDistanceMeters, second.TotalDistanceMeters)
	provider.AssertNumberOfCalls(t, "Directions", 1)

	_, err = planner.Replan(context.Background(), manila, []domain.Stop{stop}, domain.TravelModeDriving)
	require.NoError(t, err)
	provider.AssertNumberOfCalls(t, "Directions", 2)
	assert.Equal(t, 2, cache.setCount())

	// A moved origin is a different plan.
	_, err = planner.Plan(context.Background(), geo.Coordinate{Lat: 14.58, Lng: 120.98}, []domain.Stop{stop}, domain.TravelModeDriving)
	require.NoError(t, err)
	provider.AssertNumberOfCalls(t, "Directions", 3)
}

func TestPlanner_DegradedRouteIsNotCached(t *testing.T) {
	var mu sync.Mutex
	down := true
	calls := 0
	provider := providerFunc(func(ctx context.Context, req ports.DirectionsRequest) (*ports.DirectionsResult, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if down {
			return nil, fmt.Errorf("%w: connection refused", domain.ErrProviderUnavailable)
		}
		return &ports.DirectionsResult{
			Legs: []ports.DirectionsLeg{{DistanceMeters: 1600, DurationSeconds: 300}},
		}, nil
	})
	cache := newMemoryRouteCache()
	planner := newTestPlanner(provider, cache)
	stops := []domain.Stop{dropoff("A", 14.61, 120.99)}

	route, err := planner.Plan(context.Background(), manila, stops, domain.TravelModeDriving)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceFallback, route.Source)
	assert.Zero(t, cache.setCount())

	mu.Lock()
	down = false
	mu.Unlock()

	route, err = planner.Plan(context.Background(), manila, stops, domain.TravelModeDriving)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceProvider, route.Source)
	assert.Equal(t, 1600.0, route.TotalDistanceMeters)
	assert.Equal(t, 1, cache.setCount())

	// The provider route is now served from cache.
	_, err = planner.Plan(context.Background(), manila, stops, domain.TravelModeDriving)
	require.NoError(t, err)
	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
}

func TestPlanner_FallbackOnlyPlannerCaches(t *testing.T) {
	cache := newMemoryRouteCache()
	planner := newTestPlanner(nil, cache)
	stops := []domain.Stop{dropoff("A", 14.61, 120.99)}

	route, err := planner.Plan(context.Background(), manila, stops, domain.TravelModeDriving)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceFallback, route.Source)
	assert.Equal(t, 1, cache.setCount())

	_, err = planner.Plan(context.Background(), manila, stops, domain.TravelModeDriving)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.setCount())
}

func TestPlanner_CancelledPlanIsNotCached(t *testing.T) {
	started := make(chan struct{})
	provider := providerFunc(func(ctx context.Context, req ports.DirectionsRequest) (*ports.DirectionsResult, error) {
		close(started)
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, ctx.Err())
	})
	cache := newMemoryRouteCache()
	planner := newTestPlanner(provider, cache)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := planner.Plan(ctx, manila, []domain.Stop{dropoff("A", 14.61, 120.99)}, domain.TravelModeDriving)
		errCh <- err
	}()

	<-started
	cancel()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("plan did not return after cancellation")
	}

	// Give the detached computation time to finish.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, cache.setCount())
}

func TestPlanner_ConcurrentPlansAgree(t *testing.T) {
	release := make(chan struct{})
	provider := providerFunc(func(ctx context.Context, req ports.DirectionsRequest) (*ports.DirectionsResult, error) {
		<-release
		return &ports.DirectionsResult{
			WaypointOrder: []int{0},
			Legs:          []ports.DirectionsLeg{{DistanceMeters: 100}, {DistanceMeters: 200}},
		}, nil
	})
	planner := newTestPlanner(provider, newMemoryRouteCache())
	stops := []domain.Stop{dropoff("A", 14.61, 120.99), dropoff("B", 14.70, 121.10)}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*domain.Route, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = planner.Plan(context.Background(), manila, stops, domain.TravelModeDriving)
		}(i)
	}
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids(results[0].OrderedStops), ids(results[i].OrderedStops))
		assert.Equal(t, 300.0, results[i].TotalDistanceMeters)
	}

	// Callers get independent copies.
	results[0].OrderedStops[0].Address = "mutated"
	assert.Empty(t, results[1].OrderedStops[0].Address)
}

func TestCacheKey(t *testing.T) {
	a := dropoff("A", 14.61, 120.99)
	b := pickup("B", 14.59, 120.97)

	k1 := CacheKey(manila, []domain.Stop{a, b}, domain.TravelModeDriving)
	k2 := CacheKey(manila, []domain.Stop{b, a}, domain.TravelModeDriving)
	assert.Equal(t, k1, k2)
	assert.Contains(t, k1, "route:")

	assert.NotEqual(t, k1, CacheKey(manila, []domain.Stop{a, b}, domain.TravelModeWalking))
	moved := a
	moved.Coordinate.Lat = 14.612
	assert.NotEqual(t, k1, CacheKey(manila, []domain.Stop{moved, b}, domain.TravelModeDriving))
}
