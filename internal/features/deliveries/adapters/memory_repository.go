package adapters

import (
	"context"
	"sort"
	"sync"
	"time"

	"handoff-coordinator/internal/core/geo"
	"handoff-coordinator/internal/features/deliveries/domain"
	"handoff-coordinator/internal/features/deliveries/ports"
)

// MemoryRepository is an in-process ports.Repository for local runs and tests.
type MemoryRepository struct {
	mu         sync.RWMutex
	deliveries map[string]*domain.Delivery
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{deliveries: make(map[string]*domain.Delivery)}
}

func (r *MemoryRepository) Create(ctx context.Context, d *domain.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.deliveries[d.ID]; ok {
		return domain.ErrDuplicateDelivery
	}
	r.deliveries[d.ID] = d.Clone()
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*domain.Delivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.deliveries[id]
	if !ok {
		return nil, domain.ErrDeliveryNotFound
	}
	return d.Clone(), nil
}

func (r *MemoryRepository) Update(ctx context.Context, id string, expected domain.Status, patch domain.Patch) (*domain.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.deliveries[id]
	if !ok {
		return nil, domain.ErrDeliveryNotFound
	}
	if d.Status != expected {
		return nil, ports.ErrStatusConflict
	}
	d.Apply(patch)
	return d.Clone(), nil
}

func (r *MemoryRepository) ListByOperator(ctx context.Context, operatorID string, activeOnly bool) ([]*domain.Delivery, error) {
	return r.list(func(d *domain.Delivery) bool {
		return d.AssignedOperatorID == operatorID && (!activeOnly || !d.Status.IsTerminal())
	}), nil
}

func (r *MemoryRepository) ListByStatus(ctx context.Context, status domain.Status) ([]*domain.Delivery, error) {
	return r.list(func(d *domain.Delivery) bool { return d.Status == status }), nil
}

func (r *MemoryRepository) UpdateOperatorLocation(ctx context.Context, operatorID string, c geo.Coordinate, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, d := range r.deliveries {
		if d.AssignedOperatorID != operatorID || d.Status != domain.StatusInTransit {
			continue
		}
		if d.LastLocationAt != nil && !d.LastLocationAt.Before(at) {
			continue
		}
		loc := c
		ts := at
		d.LastKnownOperatorLocation = &loc
		d.LastLocationAt = &ts
		n++
	}
	return n, nil
}

func (r *MemoryRepository) list(match func(*domain.Delivery) bool) []*domain.Delivery {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Delivery, 0)
	for _, d := range r.deliveries {
		if match(d) {
			out = append(out, d.Clone())
		}
	}
	sortNewestFirst(out)
	return out
}

func sortNewestFirst(list []*domain.Delivery) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].AssignedAt.Equal(list[j].AssignedAt) {
			return list[i].AssignedAt.After(list[j].AssignedAt)
		}
		return list[i].ID < list[j].ID
	})
}
