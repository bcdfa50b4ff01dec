package adapters

import (
	"context"
	"fmt"

	"handoff-coordinator/internal/features/deliveries/domain"
	"handoff-coordinator/internal/features/deliveries/ports"
)

// SessionController starts and stops an operator's location watch.
type SessionController interface {
	Start(operatorID string) error
	Restart(operatorID string) error
	Stop(operatorID string)
}

// TrackingHook keeps a location watch running while an operator has at
// least one delivery in transit.
type TrackingHook struct {
	sessions SessionController
	repo     ports.Repository
}

// NewTrackingHook creates a new TrackingHook.
func NewTrackingHook(sessions SessionController, repo ports.Repository) *TrackingHook {
	return &TrackingHook{sessions: sessions, repo: repo}
}

// Name implements ports.TransitionHook.
func (h *TrackingHook) Name() string { return "tracking" }

// AfterTransition implements ports.TransitionHook.
func (h *TrackingHook) AfterTransition(ctx context.Context, t domain.Transition) error {
	operatorID := t.Delivery.AssignedOperatorID

	if t.To == domain.StatusInTransit {
		if err := h.sessions.Start(operatorID); err != nil {
			return fmt.Errorf("start tracking %s: %w", operatorID, err)
		}
		return nil
	}

	if t.From != domain.StatusInTransit {
		return nil
	}

	active, err := h.repo.ListByOperator(ctx, operatorID, true)
	if err != nil {
		return fmt.Errorf("list deliveries of %s: %w", operatorID, err)
	}
	for _, d := range active {
		if d.Status == domain.StatusInTransit {
			return nil
		}
	}
	h.sessions.Stop(operatorID)
	return nil
}

// ResumeSessions starts a watch for every operator with a delivery in
// transit, e.g. after a restart. It returns how many operators it resumed.
func ResumeSessions(ctx context.Context, repo ports.Repository, sessions SessionController) (int, error) {
	inTransit, err := repo.ListByStatus(ctx, domain.StatusInTransit)
	if err != nil {
		return 0, fmt.Errorf("list in-transit deliveries: %w", err)
	}

	seen := make(map[string]bool)
	for _, d := range inTransit {
		if seen[d.AssignedOperatorID] {
			continue
		}
		seen[d.AssignedOperatorID] = true
		if err := sessions.Start(d.AssignedOperatorID); err != nil {
			return len(seen) - 1, fmt.Errorf("resume tracking %s: %w", d.AssignedOperatorID, err)
		}
	}
	return len(seen), nil
}

// ResumeOperator restarts the operator's watch when they have a delivery in
// transit. It runs when location sharing is granted again after a
// revocation, which ends any watch that was running. It reports whether a
// watch was started.
func ResumeOperator(ctx context.Context, repo ports.Repository, sessions SessionController, operatorID string) (bool, error) {
	active, err := repo.ListByOperator(ctx, operatorID, true)
	if err != nil {
		return false, fmt.Errorf("list deliveries of %s: %w", operatorID, err)
	}
	for _, d := range active {
		if d.Status != domain.StatusInTransit {
			continue
		}
		if err := sessions.Restart(operatorID); err != nil {
			return false, fmt.Errorf("resume tracking %s: %w", operatorID, err)
		}
		return true, nil
	}
	return false, nil
}
