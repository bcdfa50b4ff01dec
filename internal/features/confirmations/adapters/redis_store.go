package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"handoff-coordinator/internal/core/cache"
	"handoff-coordinator/internal/features/confirmations/domain"
)

// RedisConfirmationStore implements ports.ConfirmationStore using the cache adaptation.
type RedisConfirmationStore struct {
	cache cache.Cache
}

// NewRedisConfirmationStore creates a new RedisConfirmationStore.
func NewRedisConfirmationStore(c cache.Cache) *RedisConfirmationStore {
	return &RedisConfirmationStore{
		cache: c,
	}
}

func confirmationKey(deliveryID string) string {
	return "confirmation:" + deliveryID
}

// CreateIfAbsent stores req unless the delivery already has a request.
func (s *RedisConfirmationStore) CreateIfAbsent(ctx context.Context, req *domain.ConfirmationRequest, ttl time.Duration) (*domain.ConfirmationRequest, bool, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal confirmation: %w", err)
	}

	created, err := s.cache.SetIfAbsent(ctx, confirmationKey(req.DeliveryID), data, ttl)
	if err != nil {
		return nil, false, fmt.Errorf("failed to save confirmation to cache: %w", err)
	}
	if created {
		return req, true, nil
	}

	existing, err := s.Get(ctx, req.DeliveryID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Get retrieves the request for deliveryID.
func (s *RedisConfirmationStore) Get(ctx context.Context, deliveryID string) (*domain.ConfirmationRequest, error) {
	data, err := s.cache.Get(ctx, confirmationKey(deliveryID))
	if err != nil {
		if errors.Is(err, cache.ErrKeyNotFound) {
			return nil, domain.ErrConfirmationNotFound
		}
		return nil, fmt.Errorf("failed to get confirmation from cache: %w", err)
	}

	var req domain.ConfirmationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal confirmation: %w", err)
	}
	return &req, nil
}

// Save overwrites the stored request.
func (s *RedisConfirmationStore) Save(ctx context.Context, req *domain.ConfirmationRequest, ttl time.Duration) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal confirmation: %w", err)
	}
	if err := s.cache.Set(ctx, confirmationKey(req.DeliveryID), data, ttl); err != nil {
		return fmt.Errorf("failed to save confirmation to cache: %w", err)
	}
	return nil
}
