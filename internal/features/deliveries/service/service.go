package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"handoff-coordinator/internal/core/metrics"
	"handoff-coordinator/internal/features/deliveries/domain"
	"handoff-coordinator/internal/features/deliveries/ports"
	locationdomain "handoff-coordinator/internal/features/location/domain"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

// DeliveryService is the delivery state machine. Its transition methods are
// the only way a delivery's status changes.
type DeliveryService struct {
	repo          ports.Repository
	confirmations ports.ConfirmationRequester
	metrics       *metrics.Recorder
	log           *zap.Logger
	hookTimeout   time.Duration
	locks         *keyedMutex
	now           func() time.Time

	hooksMu sync.RWMutex
	hooks   []ports.TransitionHook
}

// NewDeliveryService creates a new DeliveryService. confirmations may be nil.
func NewDeliveryService(repo ports.Repository, confirmations ports.ConfirmationRequester, hookTimeout time.Duration, rec *metrics.Recorder, log *zap.Logger) *DeliveryService {
	if hookTimeout <= 0 {
		hookTimeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DeliveryService{
		repo:          repo,
		confirmations: confirmations,
		metrics:       rec,
		log:           log,
		hookTimeout:   hookTimeout,
		locks:         newKeyedMutex(),
		now:           time.Now,
	}
}

// RegisterHook adds a post-transition hook.
func (s *DeliveryService) RegisterHook(h ports.TransitionHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, h)
}

// Create stores a newly assigned delivery.
func (s *DeliveryService) Create(ctx context.Context, d *domain.Delivery) (*domain.Delivery, error) {
	d = d.Clone()
	d.Status = domain.StatusAssigned
	if d.AssignedAt.IsZero() {
		d.AssignedAt = s.now().UTC()
	}
	if d.Priority == "" {
		d.Priority = domain.PriorityMedium
	}
	if _, err := domain.ParsePriority(string(d.Priority)); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, d); err != nil {
		if errors.Is(err, domain.ErrDuplicateDelivery) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: create delivery: %v", domain.ErrPersistenceFailed, err)
	}

	s.log.Info("Delivery assigned",
		zap.String("delivery_id", d.ID),
		zap.String("operator_id", d.AssignedOperatorID),
		zap.String("priority", string(d.Priority)),
	)
	return d, nil
}

// Get returns a delivery by id.
func (s *DeliveryService) Get(ctx context.Context, id string) (*domain.Delivery, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, s.readError(err)
	}
	return d, nil
}

// ListByOperator returns the operator's deliveries.
func (s *DeliveryService) ListByOperator(ctx context.Context, operatorID string, activeOnly bool) ([]*domain.Delivery, error) {
	list, err := s.repo.ListByOperator(ctx, operatorID, activeOnly)
	if err != nil {
		return nil, s.readError(err)
	}
	return list, nil
}

// Start moves an assigned delivery to in_transit.
func (s *DeliveryService) Start(ctx context.Context, id, operatorID string) (*domain.Delivery, error) {
	return s.transition(ctx, id, operatorID, domain.StatusInTransit, func(now time.Time) domain.Patch {
		return domain.Patch{StartedAt: &now}
	})
}

// Arrive moves an in-transit delivery to arrived.
func (s *DeliveryService) Arrive(ctx context.Context, id, operatorID string) (*domain.Delivery, error) {
	return s.transition(ctx, id, operatorID, domain.StatusArrived, func(now time.Time) domain.Patch {
		return domain.Patch{ArrivedAt: &now}
	})
}

// Complete moves an arrived delivery to completed and asks the receiving
// party to confirm the hand-off.
func (s *DeliveryService) Complete(ctx context.Context, id, operatorID string, notes *string, rating *int) (*domain.Delivery, error) {
	if rating != nil && (*rating < 1 || *rating > 5) {
		return nil, domain.ErrInvalidRating
	}

	d, err := s.transition(ctx, id, operatorID, domain.StatusCompleted, func(now time.Time) domain.Patch {
		return domain.Patch{CompletedAt: &now, Notes: notes, Rating: rating}
	})
	if err != nil {
		s.reopenConfirmation(ctx, id, operatorID, err)
		return nil, err
	}

	s.requestConfirmation(ctx, d)
	return d, nil
}

// reopenConfirmation handles a Complete retried by the assignee after the
// delivery was already completed. The first attempt may have persisted the
// transition and then failed to open the confirmation, so it is requested
// again. The coordinator deduplicates.
func (s *DeliveryService) reopenConfirmation(ctx context.Context, id, operatorID string, err error) {
	var ite *domain.InvalidTransitionError
	if !errors.As(err, &ite) || ite.From != domain.StatusCompleted || s.confirmations == nil {
		return
	}
	d, gerr := s.repo.Get(ctx, id)
	if gerr != nil || d.Status != domain.StatusCompleted || d.AssignedOperatorID != operatorID {
		return
	}
	s.requestConfirmation(ctx, d)
}

// ReconcileConfirmations opens the confirmation request of every delivery
// completed after since. A zero since covers all completed deliveries. It
// returns how many requests succeeded.
func (s *DeliveryService) ReconcileConfirmations(ctx context.Context, since time.Time) (int, error) {
	if s.confirmations == nil {
		return 0, nil
	}
	completed, err := s.repo.ListByStatus(ctx, domain.StatusCompleted)
	if err != nil {
		return 0, s.readError(err)
	}

	opened := 0
	for _, d := range completed {
		if !since.IsZero() && (d.CompletedAt == nil || d.CompletedAt.Before(since)) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return opened, err
		}
		if s.requestConfirmation(ctx, d) == nil {
			opened++
		}
	}
	return opened, nil
}

// Cancel moves any non-terminal delivery to cancelled.
func (s *DeliveryService) Cancel(ctx context.Context, id, reason string) (*domain.Delivery, error) {
	return s.transition(ctx, id, "", domain.StatusCancelled, func(now time.Time) domain.Patch {
		p := domain.Patch{CancelledAt: &now}
		if reason != "" {
			p.CancelReason = &reason
		}
		return p
	})
}

// transition performs one guarded, persisted status change. operatorID is
// checked against the assignee unless empty.
func (s *DeliveryService) transition(ctx context.Context, id, operatorID string, to domain.Status, build func(now time.Time) domain.Patch) (*domain.Delivery, error) {
	unlock := s.locks.Lock(id)
	t, err := s.persistTransition(ctx, id, operatorID, to, build)
	unlock()

	if err != nil {
		s.metrics.Transition(string(to), transitionResult(err))
		return nil, err
	}

	s.metrics.Transition(string(to), "ok")
	s.log.Info("Delivery transitioned",
		zap.String("delivery_id", id),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
	)

	s.runHooks(ctx, t)
	return t.Delivery.Clone(), nil
}

func (s *DeliveryService) persistTransition(ctx context.Context, id, operatorID string, to domain.Status, build func(now time.Time) domain.Patch) (domain.Transition, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Transition{}, s.readError(err)
	}
	if operatorID != "" && current.AssignedOperatorID != operatorID {
		return domain.Transition{}, domain.ErrOperatorMismatch
	}
	if !current.Status.CanTransition(to) {
		return domain.Transition{}, &domain.InvalidTransitionError{From: current.Status, Attempted: to}
	}

	now := s.now().UTC()
	patch := build(now)
	patch.Status = to

	updated, err := s.repo.Update(ctx, id, current.Status, patch)
	if err != nil {
		if errors.Is(err, ports.ErrStatusConflict) {
			// Another writer got there first; report against what it stored.
			if latest, gerr := s.repo.Get(ctx, id); gerr == nil {
				return domain.Transition{}, &domain.InvalidTransitionError{From: latest.Status, Attempted: to}
			}
			return domain.Transition{}, &domain.InvalidTransitionError{From: current.Status, Attempted: to}
		}
		s.log.Error("Failed to persist transition",
			zap.String("delivery_id", id),
			zap.String("to", string(to)),
			zap.Error(err),
		)
		return domain.Transition{}, fmt.Errorf("%w: %s to %s: %v", domain.ErrPersistenceFailed, current.Status, to, err)
	}

	return domain.Transition{Delivery: *updated, From: current.Status, To: to, At: now}, nil
}

// runHooks invokes every hook concurrently and waits for them. Each hook gets
// its own timeout and a panic in one is recovered without affecting others.
func (s *DeliveryService) runHooks(ctx context.Context, t domain.Transition) {
	s.hooksMu.RLock()
	hooks := append([]ports.TransitionHook(nil), s.hooks...)
	s.hooksMu.RUnlock()

	if len(hooks) == 0 {
		return
	}

	// Hooks outlive a cancelled request.
	base := context.WithoutCancel(ctx)

	var wg conc.WaitGroup
	for _, h := range hooks {
		hookT := t
		hookT.Delivery = *t.Delivery.Clone()
		wg.Go(func() {
			s.runHook(base, h, hookT)
		})
	}
	wg.Wait()
}

func (s *DeliveryService) runHook(base context.Context, h ports.TransitionHook, t domain.Transition) {
	ctx, cancel := context.WithTimeout(base, s.hookTimeout)
	defer cancel()

	var err error
	var pc panics.Catcher
	pc.Try(func() {
		err = h.AfterTransition(ctx, t)
	})
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}
	if err == nil {
		return
	}

	s.metrics.HookFailed(h.Name())
	s.log.Error("Transition hook failed",
		zap.String("hook", h.Name()),
		zap.String("delivery_id", t.Delivery.ID),
		zap.String("to", string(t.To)),
		zap.Error(err),
	)
}

func (s *DeliveryService) requestConfirmation(ctx context.Context, d *domain.Delivery) error {
	if s.confirmations == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.hookTimeout)
	defer cancel()

	var err error
	var pc panics.Catcher
	pc.Try(func() {
		err = s.confirmations.RequestConfirmation(ctx, d.ID, d.AssignedOperatorID)
	})
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}
	if err != nil {
		s.metrics.HookFailed("confirmation")
		s.log.Error("Failed to open confirmation request",
			zap.String("delivery_id", d.ID),
			zap.Error(err),
		)
	}
	return err
}

// RecordOperatorLocation stores fix on the operator's in-transit deliveries.
// Fixes older than the stored location are ignored.
func (s *DeliveryService) RecordOperatorLocation(ctx context.Context, fix locationdomain.Fix) error {
	if err := fix.Validate(); err != nil {
		s.metrics.LocationWrite("invalid")
		return err
	}

	n, err := s.repo.UpdateOperatorLocation(ctx, fix.OperatorID, fix.Coordinate, fix.Timestamp.UTC())
	if err != nil {
		s.metrics.LocationWrite("error")
		return fmt.Errorf("%w: record operator location: %v", domain.ErrPersistenceFailed, err)
	}

	if n == 0 {
		s.metrics.LocationWrite("skipped")
	} else {
		s.metrics.LocationWrite("ok")
	}
	return nil
}

func (s *DeliveryService) readError(err error) error {
	if errors.Is(err, domain.ErrDeliveryNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
}

func transitionResult(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid"
	case errors.Is(err, domain.ErrOperatorMismatch):
		return "forbidden"
	case errors.Is(err, domain.ErrDeliveryNotFound):
		return "not_found"
	default:
		return "error"
	}
}
