package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"handoff-coordinator/internal/features/location/domain"
	"handoff-coordinator/internal/features/location/ports"

	"go.uber.org/zap"
)

// Sessions keeps at most one watch per operator while the operator is travelling.
type Sessions struct {
	tracker     *Tracker
	broadcaster ports.FixBroadcaster
	log         *zap.Logger

	mu     sync.Mutex
	active map[string]*session
}

type session struct {
	cancel Cancel
}

// NewSessions creates a session registry. broadcaster may be nil.
func NewSessions(tracker *Tracker, broadcaster ports.FixBroadcaster, log *zap.Logger) *Sessions {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sessions{
		tracker:     tracker,
		broadcaster: broadcaster,
		log:         log,
		active:      make(map[string]*session),
	}
}

// Start opens a watch for the operator unless one is already running.
func (s *Sessions) Start(operatorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[operatorID]; ok {
		return nil
	}

	sess := &session{}
	cancel, err := s.tracker.Watch(operatorID,
		func(f domain.Fix) { s.onUpdate(f) },
		func(err error) { s.onError(operatorID, sess, err) },
	)
	if err != nil {
		return err
	}
	sess.cancel = cancel
	s.active[operatorID] = sess
	s.log.Info("Tracking session started", zap.String("operator_id", operatorID))
	return nil
}

// Restart replaces the operator's watch with a fresh one. A watch failed by
// a permission revocation may still be registered when sharing is granted
// again, so Start alone would keep the dead watch.
func (s *Sessions) Restart(operatorID string) error {
	s.Stop(operatorID)
	return s.Start(operatorID)
}

// Stop cancels the operator's watch, if any.
func (s *Sessions) Stop(operatorID string) {
	s.stop(operatorID, nil)
}

// stop cancels the operator's session; when only is set, only that session.
func (s *Sessions) stop(operatorID string, only *session) {
	s.mu.Lock()
	sess, ok := s.active[operatorID]
	if !ok || (only != nil && sess != only) {
		s.mu.Unlock()
		return
	}
	delete(s.active, operatorID)
	s.mu.Unlock()

	sess.cancel()
	s.log.Info("Tracking session stopped", zap.String("operator_id", operatorID))
}

// Active reports whether the operator has a running watch.
func (s *Sessions) Active(operatorID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[operatorID]
	return ok
}

// Close stops every session.
func (s *Sessions) Close() {
	s.mu.Lock()
	all := s.active
	s.active = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range all {
		sess.cancel()
	}
}

func (s *Sessions) onUpdate(f domain.Fix) {
	if s.broadcaster == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.broadcaster.Broadcast(ctx, f); err != nil {
		s.log.Warn("Failed to broadcast fix", zap.String("operator_id", f.OperatorID), zap.Error(err))
	}
}

func (s *Sessions) onError(operatorID string, sess *session, err error) {
	s.log.Warn("Tracking session error", zap.String("operator_id", operatorID), zap.Error(err))
	if errors.Is(err, domain.ErrPermissionDenied) {
		// Cancel waits for the goroutine running this callback.
		go s.stop(operatorID, sess)
	}
}
