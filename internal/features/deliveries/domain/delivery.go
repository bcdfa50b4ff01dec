package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"handoff-coordinator/internal/core/geo"
)

var (
	// ErrInvalidTransition is matched by every *InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrPersistenceFailed is returned when a transition could not be stored.
	// The delivery keeps its pre-transition state.
	ErrPersistenceFailed = errors.New("persistence failed")
	// ErrDeliveryNotFound is returned when no delivery has the given id.
	ErrDeliveryNotFound = errors.New("delivery not found")
	// ErrOperatorMismatch is returned when an operator acts on a delivery assigned to someone else.
	ErrOperatorMismatch = errors.New("delivery is assigned to another operator")
	// ErrInvalidDelivery is returned when a new delivery fails validation.
	ErrInvalidDelivery = errors.New("invalid delivery")
	// ErrDuplicateDelivery is returned when a delivery id is already taken.
	ErrDuplicateDelivery = errors.New("delivery already exists")
	// ErrInvalidRating is returned when a completion rating is outside 1..5.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
)

// Status is a delivery's lifecycle state.
type Status string

const (
	StatusAssigned  Status = "assigned"
	StatusInTransit Status = "in_transit"
	StatusArrived   Status = "arrived"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusAssigned:  {StatusInTransit, StatusCancelled},
	StatusInTransit: {StatusArrived, StatusCancelled},
	StatusArrived:   {StatusCompleted, StatusCancelled},
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether the machine allows moving from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports a transition the machine does not allow.
type InvalidTransitionError struct {
	From      Status
	Attempted Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.Attempted)
}

// Is makes errors.Is(err, ErrInvalidTransition) match.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Priority ranks deliveries for dispatch.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority parses s, defaulting to medium when s is empty.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityMedium, nil
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidDelivery, s)
	}
}

// Rank orders priorities from low (0) to urgent (3).
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	default:
		return 1
	}
}

// Place is one end of a delivery.
type Place struct {
	Coordinate geo.Coordinate `json:"coordinate"`
	Address    string         `json:"address,omitempty"`
}

// Delivery is a single hand-off of goods from a pickup to a dropoff.
type Delivery struct {
	ID                        string          `json:"id"`
	Status                    Status          `json:"status"`
	Pickup                    Place           `json:"pickup"`
	Dropoff                   Place           `json:"dropoff"`
	AssignedOperatorID        string          `json:"assigned_operator_id"`
	Priority                  Priority        `json:"priority"`
	AssignedAt                time.Time       `json:"assigned_at"`
	StartedAt                 *time.Time      `json:"started_at,omitempty"`
	ArrivedAt                 *time.Time      `json:"arrived_at,omitempty"`
	CompletedAt               *time.Time      `json:"completed_at,omitempty"`
	CancelledAt               *time.Time      `json:"cancelled_at,omitempty"`
	LastKnownOperatorLocation *geo.Coordinate `json:"last_known_operator_location,omitempty"`
	LastLocationAt            *time.Time      `json:"last_location_at,omitempty"`
	Notes                     *string         `json:"notes,omitempty"`
	Rating                    *int            `json:"rating,omitempty"`
	CancelReason              *string         `json:"cancel_reason,omitempty"`
}

// Validate checks a delivery before it is first stored.
func (d *Delivery) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDelivery)
	}
	if d.AssignedOperatorID == "" {
		return fmt.Errorf("%w: assigned operator is required", ErrInvalidDelivery)
	}
	if err := d.Pickup.Coordinate.Validate(); err != nil {
		return fmt.Errorf("%w: pickup: %w", ErrInvalidDelivery, err)
	}
	if err := d.Dropoff.Coordinate.Validate(); err != nil {
		return fmt.Errorf("%w: dropoff: %w", ErrInvalidDelivery, err)
	}
	return nil
}

// Clone returns a deep copy of d.
func (d *Delivery) Clone() *Delivery {
	if d == nil {
		return nil
	}
	c := *d
	c.StartedAt = cloneTime(d.StartedAt)
	c.ArrivedAt = cloneTime(d.ArrivedAt)
	c.CompletedAt = cloneTime(d.CompletedAt)
	c.CancelledAt = cloneTime(d.CancelledAt)
	c.LastLocationAt = cloneTime(d.LastLocationAt)
	if d.LastKnownOperatorLocation != nil {
		loc := *d.LastKnownOperatorLocation
		c.LastKnownOperatorLocation = &loc
	}
	if d.Notes != nil {
		n := *d.Notes
		c.Notes = &n
	}
	if d.Rating != nil {
		r := *d.Rating
		c.Rating = &r
	}
	if d.CancelReason != nil {
		r := *d.CancelReason
		c.CancelReason = &r
	}
	return &c
}

// Apply writes p onto d. Nil fields in p leave d unchanged.
func (d *Delivery) Apply(p Patch) {
	d.Status = p.Status
	if p.StartedAt != nil {
		d.StartedAt = cloneTime(p.StartedAt)
	}
	if p.ArrivedAt != nil {
		d.ArrivedAt = cloneTime(p.ArrivedAt)
	}
	if p.CompletedAt != nil {
		d.CompletedAt = cloneTime(p.CompletedAt)
	}
	if p.CancelledAt != nil {
		d.CancelledAt = cloneTime(p.CancelledAt)
	}
	if p.Notes != nil {
		n := *p.Notes
		d.Notes = &n
	}
	if p.Rating != nil {
		r := *p.Rating
		d.Rating = &r
	}
	if p.CancelReason != nil {
		r := *p.CancelReason
		d.CancelReason = &r
	}
}

// Patch is the set of fields a single transition writes.
type Patch struct {
	Status       Status
	StartedAt    *time.Time
	ArrivedAt    *time.Time
	CompletedAt  *time.Time
	CancelledAt  *time.Time
	Notes        *string
	Rating       *int
	CancelReason *string
}

// Transition describes a persisted status change, as seen by hooks.
type Transition struct {
	Delivery Delivery
	From     Status
	To       Status
	At       time.Time
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
