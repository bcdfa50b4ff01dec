package ports

import (
	"context"
	"errors"
	"time"

	"handoff-coordinator/internal/core/geo"
	"handoff-coordinator/internal/features/deliveries/domain"
	locationdomain "handoff-coordinator/internal/features/location/domain"
)

// ErrStatusConflict is returned by Repository.Update when the stored status
// no longer matches the expected one.
var ErrStatusConflict = errors.New("delivery status changed concurrently")

// Repository persists deliveries. Implementations must provide read-your-writes.
type Repository interface {
	// Create stores a new delivery. It fails with domain.ErrDuplicateDelivery
	// when the id is taken.
	Create(ctx context.Context, d *domain.Delivery) error
	// Get returns domain.ErrDeliveryNotFound when the id is unknown.
	Get(ctx context.Context, id string) (*domain.Delivery, error)
	// Update applies patch only if the stored status equals expected and
	// returns the updated delivery. It fails with ErrStatusConflict otherwise.
	Update(ctx context.Context, id string, expected domain.Status, patch domain.Patch) (*domain.Delivery, error)
	// ListByOperator returns the operator's deliveries, newest assignment first.
	// activeOnly excludes completed and cancelled deliveries.
	ListByOperator(ctx context.Context, operatorID string, activeOnly bool) ([]*domain.Delivery, error)
	// ListByStatus returns every delivery in the given status.
	ListByStatus(ctx context.Context, status domain.Status) ([]*domain.Delivery, error)
	// UpdateOperatorLocation stores c on every in-transit delivery of the
	// operator whose last location is older than at. It returns how many
	// deliveries were updated.
	UpdateOperatorLocation(ctx context.Context, operatorID string, c geo.Coordinate, at time.Time) (int, error)
}

// TransitionHook is notified after a transition has been persisted.
// A hook's failure never affects the transition or other hooks.
type TransitionHook interface {
	Name() string
	AfterTransition(ctx context.Context, t domain.Transition) error
}

// ConfirmationRequester opens the receiving party's confirmation request
// for a completed delivery. Repeated calls for one delivery must be harmless.
type ConfirmationRequester interface {
	RequestConfirmation(ctx context.Context, deliveryID, operatorID string) error
}

// DeliveryService defines the primary port used by the HTTP layer.
type DeliveryService interface {
	Create(ctx context.Context, d *domain.Delivery) (*domain.Delivery, error)
	Get(ctx context.Context, id string) (*domain.Delivery, error)
	ListByOperator(ctx context.Context, operatorID string, activeOnly bool) ([]*domain.Delivery, error)
	Start(ctx context.Context, id, operatorID string) (*domain.Delivery, error)
	Arrive(ctx context.Context, id, operatorID string) (*domain.Delivery, error)
	Complete(ctx context.Context, id, operatorID string, notes *string, rating *int) (*domain.Delivery, error)
	Cancel(ctx context.Context, id, reason string) (*domain.Delivery, error)
	RecordOperatorLocation(ctx context.Context, fix locationdomain.Fix) error
}
