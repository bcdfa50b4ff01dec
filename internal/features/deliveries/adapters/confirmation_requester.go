package adapters

import (
	"context"

	confirmationports "handoff-coordinator/internal/features/confirmations/ports"
)

// ConfirmationRequester bridges the state machine to the confirmation coordinator.
type ConfirmationRequester struct {
	confirmations confirmationports.ConfirmationService
}

// NewConfirmationRequester creates a new ConfirmationRequester.
func NewConfirmationRequester(confirmations confirmationports.ConfirmationService) *ConfirmationRequester {
	return &ConfirmationRequester{confirmations: confirmations}
}

// RequestConfirmation implements ports.ConfirmationRequester.
func (r *ConfirmationRequester) RequestConfirmation(ctx context.Context, deliveryID, operatorID string) error {
	_, err := r.confirmations.Create(ctx, deliveryID, operatorID)
	return err
}
