package ports

import (
	"context"
	"time"

	"handoff-coordinator/internal/features/confirmations/domain"
)

// ConfirmationService defines the primary port for confirmation requests.
type ConfirmationService interface {
	Create(ctx context.Context, deliveryID, initiatedBy string) (*domain.ConfirmationRequest, error)
	Get(ctx context.Context, deliveryID string) (*domain.ConfirmationRequest, error)
	Resolve(ctx context.Context, deliveryID string) (*domain.ConfirmationRequest, error)
}

// ConfirmationStore defines the secondary port for confirmation storage.
// Requests are keyed by delivery id.
type ConfirmationStore interface {
	// CreateIfAbsent stores req unless a request for the same delivery exists,
	// and returns the stored request and whether it was created.
	CreateIfAbsent(ctx context.Context, req *domain.ConfirmationRequest, ttl time.Duration) (*domain.ConfirmationRequest, bool, error)
	// Get returns domain.ErrConfirmationNotFound when there is no request.
	Get(ctx context.Context, deliveryID string) (*domain.ConfirmationRequest, error)
	Save(ctx context.Context, req *domain.ConfirmationRequest, ttl time.Duration) error
}
