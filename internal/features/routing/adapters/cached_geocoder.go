package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"handoff-coordinator/internal/core/cache"
	"handoff-coordinator/internal/core/geo"
	"handoff-coordinator/internal/features/routing/ports"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CachedGeocoder decorates a Geocoder with a shared cache. Cache failures
// are logged and fall through to the wrapped geocoder.
type CachedGeocoder struct {
	next  ports.Geocoder
	cache cache.Cache
	ttl   time.Duration
	log   *zap.Logger
	group singleflight.Group
}

// NewCachedGeocoder creates a new CachedGeocoder.
func NewCachedGeocoder(next ports.Geocoder, c cache.Cache, ttl time.Duration, log *zap.Logger) *CachedGeocoder {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedGeocoder{next: next, cache: c, ttl: ttl, log: log}
}

// Geocode implements ports.Geocoder.
func (g *CachedGeocoder) Geocode(ctx context.Context, address string) (geo.Coordinate, error) {
	key := "geocode:" + strings.ToLower(strings.Join(strings.Fields(address), " "))

	var c geo.Coordinate
	if g.lookup(ctx, key, &c) {
		return c, nil
	}

	v, err := g.shared(ctx, key, func(ctx context.Context) (interface{}, error) {
		c, err := g.next.Geocode(ctx, address)
		if err != nil {
			return nil, err
		}
		g.store(ctx, key, c)
		return c, nil
	})
	if err != nil {
		return geo.Coordinate{}, err
	}
	return v.(geo.Coordinate), nil
}

// ReverseGeocode implements ports.Geocoder.
func (g *CachedGeocoder) ReverseGeocode(ctx context.Context, c geo.Coordinate) (string, error) {
	key := "revgeocode:" + c.String()

	var address string
	if g.lookup(ctx, key, &address) {
		return address, nil
	}

	v, err := g.shared(ctx, key, func(ctx context.Context) (interface{}, error) {
		address, err := g.next.ReverseGeocode(ctx, c)
		if err != nil {
			return nil, err
		}
		g.store(ctx, key, address)
		return address, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// shared runs fn once for all concurrent callers of key, on the context of
// whichever caller arrived first. A result that failed only because that
// context ended is retried on ctx.
func (g *CachedGeocoder) shared(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	run := func(ctx context.Context) (interface{}, error) {
		v, err := fn(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		return v, nil
	}

	ch := g.group.DoChan(key, func() (interface{}, error) {
		return run(ctx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil && res.Shared && isContextError(res.Err) && ctx.Err() == nil {
			return run(ctx)
		}
		return res.Val, res.Err
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (g *CachedGeocoder) lookup(ctx context.Context, key string, out any) bool {
	data, err := g.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrKeyNotFound) {
			g.log.Warn("Geocode cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		g.log.Warn("Geocode cache entry is corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (g *CachedGeocoder) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := g.cache.Set(ctx, key, data, g.ttl); err != nil {
		g.log.Warn("Geocode cache write failed", zap.String("key", key), zap.Error(err))
	}
}
