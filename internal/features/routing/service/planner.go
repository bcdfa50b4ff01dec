package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"handoff-coordinator/internal/core/geo"
	"handoff-coordinator/internal/core/metrics"
	"handoff-coordinator/internal/features/routing/domain"
	"handoff-coordinator/internal/features/routing/ports"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Config holds the planning policy.
type Config struct {
	// AverageSpeedKPH estimates fallback leg durations.
	AverageSpeedKPH float64
	// CacheTTL is how long a computed route may be reused. Zero disables caching.
	CacheTTL time.Duration
	// Timeout bounds a single plan computation.
	Timeout time.Duration
}

// Planner orders an operator's stops, preferring the directions provider and
// falling back to a local nearest-neighbour sequence when it is unreachable.
type Planner struct {
	provider ports.DirectionsProvider
	cache    ports.RouteCache
	cfg      Config
	metrics  *metrics.Recorder
	log      *zap.Logger
	group    singleflight.Group
	now      func() time.Time
}

// NewPlanner creates a Planner. A nil provider plans with the fallback only;
// a nil cache disables caching.
func NewPlanner(provider ports.DirectionsProvider, cache ports.RouteCache, cfg Config, rec *metrics.Recorder, log *zap.Logger) *Planner {
	if cfg.AverageSpeedKPH <= 0 {
		cfg.AverageSpeedKPH = 33
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Planner{
		provider: provider,
		cache:    cache,
		cfg:      cfg,
		metrics:  rec,
		log:      log,
		now:      time.Now,
	}
}

// Plan returns a route visiting every stop, served from cache when an identical
// plan was computed recently.
func (p *Planner) Plan(ctx context.Context, origin geo.Coordinate, stops []domain.Stop, mode domain.TravelMode) (*domain.Route, error) {
	return p.plan(ctx, origin, stops, mode, false)
}

// Replan recomputes the route from scratch, ignoring any cached plan.
func (p *Planner) Replan(ctx context.Context, origin geo.Coordinate, stops []domain.Stop, mode domain.TravelMode) (*domain.Route, error) {
	return p.plan(ctx, origin, stops, mode, true)
}

func (p *Planner) plan(ctx context.Context, origin geo.Coordinate, stops []domain.Stop, mode domain.TravelMode, refresh bool) (*domain.Route, error) {
	if len(stops) == 0 {
		return nil, domain.ErrNoStops
	}
	if err := origin.Validate(); err != nil {
		return nil, fmt.Errorf("plan: origin: %w", err)
	}
	if err := validateStops(stops); err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	mode, err := domain.ParseTravelMode(string(mode))
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}

	// Planning works on a private copy so the caller's slice is never touched.
	stops = canonical(stops)
	key := CacheKey(origin, stops, mode)

	if !refresh && p.cache != nil && p.cfg.CacheTTL > 0 {
		cached, ok, err := p.cache.Get(ctx, key)
		if err != nil {
			p.log.Warn("Route cache read failed", zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}

	ch := p.group.DoChan(key, func() (interface{}, error) {
		return p.compute(ctx, key, origin, stops, mode)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			// A shared computation cancelled by another caller is retried on our own context.
			if res.Shared && isContextError(res.Err) && ctx.Err() == nil {
				return p.compute(ctx, key, origin, stops, mode)
			}
			return nil, res.Err
		}
		return res.Val.(*domain.Route).Clone(), nil
	}
}

func (p *Planner) compute(ctx context.Context, key string, origin geo.Coordinate, stops []domain.Stop, mode domain.TravelMode) (*domain.Route, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := p.now()
	route, err := p.computeRoute(ctx, origin, stops, mode)
	if err != nil {
		p.metrics.RoutePlanned(sourceLabel(route), "error", time.Since(start))
		return nil, err
	}

	// Nothing is shared once the caller has gone away.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	route.ComputedAt = p.now()
	p.metrics.RoutePlanned(string(route.Source), "ok", time.Since(start))

	if p.cacheable(route) {
		if err := p.cache.Set(ctx, key, route, p.cfg.CacheTTL); err != nil {
			p.log.Warn("Route cache write failed", zap.Error(err))
		}
	}

	p.log.Debug("Route planned",
		zap.String("source", string(route.Source)),
		zap.String("summary", route.Summary()),
	)
	return route, nil
}

// cacheable reports whether route may be reused. A fallback standing in for
// a failed provider is not, so the next plan tries the provider again.
func (p *Planner) cacheable(route *domain.Route) bool {
	if p.cache == nil || p.cfg.CacheTTL <= 0 {
		return false
	}
	return route.Source == domain.SourceProvider || p.provider == nil
}

func (p *Planner) computeRoute(ctx context.Context, origin geo.Coordinate, stops []domain.Stop, mode domain.TravelMode) (*domain.Route, error) {
	if p.provider == nil {
		return p.fallback(origin, stops, mode)
	}

	route, err := p.fromProvider(ctx, origin, stops, mode)
	if err == nil {
		return route, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	reason := degradedReason(err)
	if reason == "" {
		return nil, err
	}

	p.log.Warn("Directions provider failed, planning with nearest-neighbour fallback",
		zap.String("reason", reason),
		zap.Int("stops", len(stops)),
		zap.Error(err),
	)
	p.metrics.PlannerDegraded(reason)
	return p.fallback(origin, stops, mode)
}

func (p *Planner) fallback(origin geo.Coordinate, stops []domain.Stop, mode domain.TravelMode) (*domain.Route, error) {
	speed := p.cfg.AverageSpeedKPH * 1000 / 3600
	ordered, legs, err := NearestNeighbor(origin, stops, speed)
	if err != nil {
		return nil, err
	}
	return newRoute(origin, ordered, legs, mode, domain.SourceFallback), nil
}

func (p *Planner) fromProvider(ctx context.Context, origin geo.Coordinate, stops []domain.Stop, mode domain.TravelMode) (*domain.Route, error) {
	destIdx := chooseDestination(origin, stops)
	destination := stops[destIdx]

	waypoints := make([]domain.Stop, 0, len(stops)-1)
	for i, s := range stops {
		if i != destIdx {
			waypoints = append(waypoints, s)
		}
	}

	req := ports.DirectionsRequest{
		Origin:            origin,
		Destination:       destination.Coordinate,
		Waypoints:         make([]geo.Coordinate, len(waypoints)),
		OptimizeWaypoints: len(waypoints) > 1,
		Mode:              mode,
	}
	for i, w := range waypoints {
		req.Waypoints[i] = w.Coordinate
	}

	res, err := p.provider.Directions(ctx, req)
	if err != nil {
		return nil, err
	}

	order, err := waypointOrder(res.WaypointOrder, len(waypoints))
	if err != nil {
		return nil, err
	}
	if len(res.Legs) != len(stops) {
		return nil, fmt.Errorf("%w: expected %d legs, got %d", domain.ErrProviderNoResult, len(stops), len(res.Legs))
	}

	ordered := make([]domain.Stop, 0, len(stops))
	for _, idx := range order {
		ordered = append(ordered, waypoints[idx])
	}
	ordered = append(ordered, destination)

	if !respectsPrecedence(ordered) {
		return nil, fmt.Errorf("%w: provider order visits a dropoff before its pickup", domain.ErrProviderNoResult)
	}

	legs := make([]domain.Leg, len(ordered))
	from := origin
	for i, s := range ordered {
		pl := res.Legs[i]
		legs[i] = domain.Leg{
			From:            from,
			To:              s.Coordinate,
			DistanceMeters:  pl.DistanceMeters,
			DurationSeconds: pl.DurationSeconds,
			StartAddress:    pl.StartAddress,
			EndAddress:      pl.EndAddress,
		}
		from = s.Coordinate
	}

	return newRoute(origin, ordered, legs, mode, domain.SourceProvider), nil
}

// chooseDestination picks the stop farthest from origin that may legally be
// visited last: any stop except a pickup whose dropoff is also planned.
// stops must be canonical so ties resolve deterministically.
func chooseDestination(origin geo.Coordinate, stops []domain.Stop) int {
	withDropoff := make(map[string]bool)
	for _, s := range stops {
		if s.Kind == domain.StopKindDropoff {
			withDropoff[s.DeliveryID] = true
		}
	}

	best := -1
	var bestDist float64
	for i, s := range stops {
		if s.Kind == domain.StopKindPickup && withDropoff[s.DeliveryID] {
			continue
		}
		d, _ := geo.DistanceMeters(origin, s.Coordinate)
		if best == -1 || d > bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

// waypointOrder validates the provider's order as a permutation of n waypoints.
func waypointOrder(order []int, n int) ([]int, error) {
	if len(order) == 0 && n <= 1 {
		identity := make([]int, n)
		for i := range identity {
			identity[i] = i
		}
		return identity, nil
	}
	if len(order) != n {
		return nil, fmt.Errorf("%w: waypoint order has %d entries, want %d", domain.ErrProviderNoResult, len(order), n)
	}
	seen := make([]bool, n)
	for _, idx := range order {
		if idx < 0 || idx >= n || seen[idx] {
			return nil, fmt.Errorf("%w: waypoint order is not a permutation", domain.ErrProviderNoResult)
		}
		seen[idx] = true
	}
	return order, nil
}

func newRoute(origin geo.Coordinate, ordered []domain.Stop, legs []domain.Leg, mode domain.TravelMode, source domain.Source) *domain.Route {
	r := &domain.Route{
		Origin:       origin,
		OrderedStops: ordered,
		Legs:         legs,
		Mode:         mode,
		Source:       source,
	}
	for _, l := range legs {
		r.TotalDistanceMeters += l.DistanceMeters
		r.TotalDurationSeconds += l.DurationSeconds
	}
	return r
}

func validateStops(stops []domain.Stop) error {
	seen := make(map[string]bool, len(stops))
	for _, s := range stops {
		if err := s.Validate(); err != nil {
			return err
		}
		k := s.DeliveryID + "/" + string(s.Kind)
		if seen[k] {
			return fmt.Errorf("%w: duplicate %s stop for delivery %s", domain.ErrInvalidStop, s.Kind, s.DeliveryID)
		}
		seen[k] = true
	}
	return nil
}

// degradedReason returns the metric label for provider failures absorbed by
// the fallback, or "" when the error must be propagated.
func degradedReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrProviderUnavailable):
		return "unavailable"
	case errors.Is(err, domain.ErrProviderNoResult):
		return "no_result"
	default:
		return ""
	}
}

func sourceLabel(r *domain.Route) string {
	if r == nil {
		return "none"
	}
	return string(r.Source)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
