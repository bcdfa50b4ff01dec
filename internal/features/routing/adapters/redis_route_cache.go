package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"handoff-coordinator/internal/core/cache"
	"handoff-coordinator/internal/features/routing/domain"
)

// RedisRouteCache implements ports.RouteCache on top of the shared cache.
type RedisRouteCache struct {
	cache cache.Cache
}

// NewRedisRouteCache creates a new RedisRouteCache.
func NewRedisRouteCache(c cache.Cache) *RedisRouteCache {
	return &RedisRouteCache{cache: c}
}

// Get returns the cached route for key. ok is false on a miss.
func (r *RedisRouteCache) Get(ctx context.Context, key string) (*domain.Route, bool, error) {
	data, err := r.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get route from cache: %w", err)
	}

	var route domain.Route
	if err := json.Unmarshal(data, &route); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal route: %w", err)
	}
	return &route, true, nil
}

// Set stores route under key for ttl.
func (r *RedisRouteCache) Set(ctx context.Context, key string, route *domain.Route, ttl time.Duration) error {
	data, err := json.Marshal(route)
	if err != nil {
		return fmt.Errorf("failed to marshal route: %w", err)
	}
	if err := r.cache.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("failed to save route to cache: %w", err)
	}
	return nil
}
