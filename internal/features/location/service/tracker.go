package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"handoff-coordinator/internal/features/location/domain"
	"handoff-coordinator/internal/features/location/ports"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

// Config holds the location acquisition policy.
type Config struct {
	// FixTimeout is used when GetCurrentLocation is called without a timeout.
	FixTimeout time.Duration
	// AccuracyThresholdMeters separates accurate fixes from coarse ones.
	AccuracyThresholdMeters float64
	// MaxFixAge is how old a cached fix may be to answer GetCurrentLocation immediately.
	MaxFixAge time.Duration
	// SinkTimeout bounds a single location write.
	SinkTimeout time.Duration
}

// Cancel stops a watch. It is idempotent and returns only once the watch's
// goroutines have exited and the platform subscription is released.
// It must not be called synchronously from onUpdate or onError.
type Cancel func()

// Tracker supplies an operator's current position and live position updates.
type Tracker struct {
	platform ports.Platform
	sink     ports.LocationSink
	cfg      Config
	log      *zap.Logger
	now      func() time.Time
}

// NewTracker creates a Tracker. A nil platform makes every call fail with
// ErrLocationUnavailable; a nil sink disables location persistence.
func NewTracker(platform ports.Platform, sink ports.LocationSink, cfg Config, log *zap.Logger) *Tracker {
	if cfg.FixTimeout <= 0 {
		cfg.FixTimeout = 10 * time.Second
	}
	if cfg.AccuracyThresholdMeters <= 0 {
		cfg.AccuracyThresholdMeters = 100
	}
	if cfg.MaxFixAge <= 0 {
		cfg.MaxFixAge = 30 * time.Second
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		platform: platform,
		sink:     sink,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// AccuracyThreshold returns the configured accuracy threshold in meters.
func (t *Tracker) AccuracyThreshold() float64 {
	return t.cfg.AccuracyThresholdMeters
}

// GetCurrentLocation returns a fresh fix for the operator, waiting up to timeout
// for one to arrive when the cached fix is missing or stale.
func (t *Tracker) GetCurrentLocation(ctx context.Context, operatorID string, timeout time.Duration) (domain.Fix, error) {
	if t.platform == nil {
		return domain.Fix{}, domain.ErrLocationUnavailable
	}
	if timeout <= 0 {
		timeout = t.cfg.FixTimeout
	}

	// Subscribe before reading the cache so a fix landing in between is not missed.
	sub, err := t.platform.Subscribe(operatorID)
	if err != nil {
		return domain.Fix{}, fmt.Errorf("get current location: %w", err)
	}
	defer sub.Close()

	fix, ok, err := t.platform.LatestFix(operatorID)
	if err != nil {
		return domain.Fix{}, fmt.Errorf("get current location: %w", err)
	}
	if ok && !fix.IsStale(t.now(), t.cfg.MaxFixAge) {
		return fix, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case fix, ok := <-sub.Fixes():
		if !ok {
			return domain.Fix{}, domain.ErrLocationUnavailable
		}
		return fix, nil
	case err, ok := <-sub.Errors():
		if !ok {
			return domain.Fix{}, domain.ErrLocationUnavailable
		}
		return domain.Fix{}, fmt.Errorf("get current location: %w", err)
	case <-timer.C:
		return domain.Fix{}, fmt.Errorf("%w: no fix for operator %s within %s", domain.ErrLocationTimeout, operatorID, timeout)
	case <-ctx.Done():
		return domain.Fix{}, ctx.Err()
	}
}

// Watch streams fixes for the operator to onUpdate until the returned Cancel is called.
// Delivery is latest-wins: a slow onUpdate skips intermediate fixes.
// Every fix is also handed to the LocationSink on a separate goroutine; sink
// failures are logged and never reach onError.
func (t *Tracker) Watch(operatorID string, onUpdate func(domain.Fix), onError func(error)) (Cancel, error) {
	if t.platform == nil {
		return nil, domain.ErrLocationUnavailable
	}
	sub, err := t.platform.Subscribe(operatorID)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	updates := newMailbox()
	writes := newMailbox()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		defer updates.close()
		defer writes.close()
		t.pump(ctx, sub, updates, writes, onError)
	}()
	go func() {
		defer wg.Done()
		for f := range updates.ch {
			t.deliver(onUpdate, f)
		}
	}()
	go func() {
		defer wg.Done()
		for f := range writes.ch {
			t.persist(ctx, f)
		}
	}()

	t.log.Debug("Watch started", zap.String("operator_id", operatorID))

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			_ = sub.Close()
			wg.Wait()
			t.log.Debug("Watch cancelled", zap.String("operator_id", operatorID))
		})
	}, nil
}

func (t *Tracker) pump(ctx context.Context, sub ports.Subscription, updates, writes *mailbox, onError func(error)) {
	fixes := sub.Fixes()
	errs := sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-fixes:
			if !ok {
				return
			}
			if !f.IsAccurate(t.cfg.AccuracyThresholdMeters) {
				t.log.Debug("Coarse fix",
					zap.String("operator_id", f.OperatorID),
					zap.Float64("accuracy_meters", f.AccuracyMeters),
				)
			}
			updates.put(f)
			if t.sink != nil {
				writes.put(f)
			}
		case err, ok := <-errs:
			if !ok {
				return
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}

func (t *Tracker) deliver(onUpdate func(domain.Fix), f domain.Fix) {
	if onUpdate == nil {
		return
	}
	var pc panics.Catcher
	pc.Try(func() { onUpdate(f) })
	if r := pc.Recovered(); r != nil {
		t.log.Error("Location update callback panicked",
			zap.String("operator_id", f.OperatorID),
			zap.Error(r.AsError()),
		)
	}
}

func (t *Tracker) persist(ctx context.Context, f domain.Fix) {
	writeCtx, cancel := context.WithTimeout(ctx, t.cfg.SinkTimeout)
	defer cancel()

	if err := t.sink.RecordOperatorLocation(writeCtx, f); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		t.log.Error("Failed to persist operator location",
			zap.String("operator_id", f.OperatorID),
			zap.Time("fix_time", f.Timestamp),
			zap.Error(err),
		)
	}
}

// mailbox holds at most one pending fix, keeping the newest by timestamp.
// put must only be called from a single goroutine.
type mailbox struct {
	ch chan domain.Fix
}

func newMailbox() *mailbox {
	return &mailbox{ch: make(chan domain.Fix, 1)}
}

func (m *mailbox) put(f domain.Fix) {
	select {
	case m.ch <- f:
		return
	default:
	}
	select {
	case pending := <-m.ch:
		if pending.NewerThan(f) {
			f = pending
		}
	default:
	}
	select {
	case m.ch <- f:
	default:
	}
}

func (m *mailbox) close() {
	close(m.ch)
}
