package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrConfirmationNotFound = errors.New("confirmation request not found")
	ErrInvalidConfirmation  = errors.New("delivery id and initiating operator are required")
)

// ConfirmationRequest asks the receiving party to confirm a completed hand-off.
type ConfirmationRequest struct {
	ID                    string     `json:"id"`
	DeliveryID            string     `json:"delivery_id"`
	InitiatedByOperatorID string     `json:"initiated_by_operator_id"`
	CreatedAt             time.Time  `json:"created_at"`
	Resolved              bool       `json:"resolved"`
	ResolvedAt            *time.Time `json:"resolved_at,omitempty"`
}

// NewConfirmationRequest creates an open request for deliveryID.
func NewConfirmationRequest(deliveryID, initiatedBy string, now time.Time) (*ConfirmationRequest, error) {
	if deliveryID == "" || initiatedBy == "" {
		return nil, ErrInvalidConfirmation
	}

	return &ConfirmationRequest{
		ID:                    uuid.NewString(),
		DeliveryID:            deliveryID,
		InitiatedByOperatorID: initiatedBy,
		CreatedAt:             now,
	}, nil
}

// Resolve marks the request confirmed. Resolving twice keeps the first time.
func (r *ConfirmationRequest) Resolve(now time.Time) {
	if r.Resolved {
		return
	}
	r.Resolved = true
	r.ResolvedAt = &now
}
