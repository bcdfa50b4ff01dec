package service

import (
	"context"
	"fmt"
	"time"

	"handoff-coordinator/internal/features/confirmations/domain"
	"handoff-coordinator/internal/features/confirmations/ports"

	"go.uber.org/zap"
)

// ConfirmationServiceImpl implements ports.ConfirmationService.
type ConfirmationServiceImpl struct {
	store ports.ConfirmationStore
	ttl   time.Duration
	log   *zap.Logger
	now   func() time.Time
}

// NewConfirmationService creates a new ConfirmationServiceImpl. A zero ttl
// keeps requests until they are resolved.
func NewConfirmationService(store ports.ConfirmationStore, ttl time.Duration, log *zap.Logger) *ConfirmationServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConfirmationServiceImpl{
		store: store,
		ttl:   ttl,
		log:   log,
		now:   time.Now,
	}
}

// Create opens the confirmation request for a delivery. If one already
// exists it is returned unchanged.
func (s *ConfirmationServiceImpl) Create(ctx context.Context, deliveryID, initiatedBy string) (*domain.ConfirmationRequest, error) {
	req, err := domain.NewConfirmationRequest(deliveryID, initiatedBy, s.now().UTC())
	if err != nil {
		return nil, err
	}

	stored, created, err := s.store.CreateIfAbsent(ctx, req, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("service: failed to create confirmation: %w", err)
	}

	if created {
		s.log.Info("Confirmation requested",
			zap.String("delivery_id", deliveryID),
			zap.String("confirmation_id", stored.ID),
		)
	}
	return stored, nil
}

// Get returns the confirmation request of a delivery.
func (s *ConfirmationServiceImpl) Get(ctx context.Context, deliveryID string) (*domain.ConfirmationRequest, error) {
	req, err := s.store.Get(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get confirmation: %w", err)
	}
	return req, nil
}

// Resolve records the receiving party's confirmation.
func (s *ConfirmationServiceImpl) Resolve(ctx context.Context, deliveryID string) (*domain.ConfirmationRequest, error) {
	req, err := s.store.Get(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get confirmation: %w", err)
	}
	if req.Resolved {
		return req, nil
	}

	req.Resolve(s.now().UTC())
	if err := s.store.Save(ctx, req, s.ttl); err != nil {
		return nil, fmt.Errorf("service: failed to resolve confirmation: %w", err)
	}

	s.log.Info("Confirmation resolved", zap.String("delivery_id", deliveryID))
	return req, nil
}
