package domain

import (
	"errors"
	"fmt"
	"math"
	"time"

	"handoff-coordinator/internal/core/geo"
)

var (
	// ErrLocationUnavailable is returned when no geolocation source is available for the operator.
	ErrLocationUnavailable = errors.New("location unavailable")
	// ErrLocationTimeout is returned when no fix arrives within the requested timeout.
	ErrLocationTimeout = errors.New("location timeout")
	// ErrPermissionDenied is returned when the operator has revoked location sharing.
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrInvalidFix is returned for fixes missing an operator, timestamp or valid coordinate.
	ErrInvalidFix = errors.New("invalid fix")
)

// Fix is a single geolocation reading for an operator.
type Fix struct {
	OperatorID string         `json:"operator_id"`
	Coordinate geo.Coordinate `json:"coordinate"`
	// AccuracyMeters is the radius of the 68% confidence circle reported by the device.
	AccuracyMeters float64   `json:"accuracy_meters"`
	Timestamp      time.Time `json:"timestamp"`
}

// Validate checks that the fix can be propagated and persisted.
func (f Fix) Validate() error {
	if f.OperatorID == "" {
		return fmt.Errorf("%w: operator id is required", ErrInvalidFix)
	}
	if f.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidFix)
	}
	if math.IsNaN(f.AccuracyMeters) || math.IsInf(f.AccuracyMeters, 0) || f.AccuracyMeters < 0 {
		return fmt.Errorf("%w: accuracy must be a non-negative number", ErrInvalidFix)
	}
	if err := f.Coordinate.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFix, err)
	}
	return nil
}

// IsAccurate reports whether the fix is at least as precise as thresholdMeters.
func (f Fix) IsAccurate(thresholdMeters float64) bool {
	return f.AccuracyMeters <= thresholdMeters
}

// IsStale reports whether the fix is older than maxAge at now.
func (f Fix) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(f.Timestamp) > maxAge
}

// NewerThan reports whether f was taken strictly after other.
func (f Fix) NewerThan(other Fix) bool {
	return f.Timestamp.After(other.Timestamp)
}
