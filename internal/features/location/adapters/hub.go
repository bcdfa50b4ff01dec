package adapters

import (
	"sync"

	"handoff-coordinator/internal/features/location/domain"
	"handoff-coordinator/internal/features/location/ports"
)

// Hub is an in-process geolocation platform. Device sources (MQTT, HTTP)
// publish fixes into it and the tracker subscribes to it.
//
// Each subscriber holds at most one pending fix: a slow reader only ever
// sees the newest one.
type Hub struct {
	mu      sync.Mutex
	latest  map[string]domain.Fix
	revoked map[string]bool
	subs    map[string]map[*hubSubscription]struct{}
	onGrant []func(operatorID string)
	closed  bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		latest:  make(map[string]domain.Fix),
		revoked: make(map[string]bool),
		subs:    make(map[string]map[*hubSubscription]struct{}),
	}
}

// Publish records fix as the operator's latest reading and fans it out to subscribers.
// Fixes older than the stored latest are still forwarded; ordering is the consumer's concern.
func (h *Hub) Publish(fix domain.Fix) error {
	if err := fix.Validate(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return domain.ErrLocationUnavailable
	}
	if h.revoked[fix.OperatorID] {
		return domain.ErrPermissionDenied
	}

	if prev, ok := h.latest[fix.OperatorID]; !ok || fix.NewerThan(prev) {
		h.latest[fix.OperatorID] = fix
	}

	for s := range h.subs[fix.OperatorID] {
		s.offer(fix)
	}
	return nil
}

// SetPermission grants or revokes location sharing for an operator.
// Revoking notifies live subscribers with ErrPermissionDenied and forgets the cached fix.
// Granting after a revocation runs the OnGrant callbacks once the hub is unlocked.
func (h *Hub) SetPermission(operatorID string, granted bool) {
	h.mu.Lock()

	if granted {
		wasRevoked := h.revoked[operatorID]
		delete(h.revoked, operatorID)
		callbacks := append([]func(string){}, h.onGrant...)
		h.mu.Unlock()

		if wasRevoked {
			for _, fn := range callbacks {
				fn(operatorID)
			}
		}
		return
	}
	defer h.mu.Unlock()

	h.revoked[operatorID] = true
	delete(h.latest, operatorID)
	for s := range h.subs[operatorID] {
		s.fail(domain.ErrPermissionDenied)
	}
}

// OnGrant registers fn to run when a revoked operator is granted location
// sharing again. fn may call back into the hub.
func (h *Hub) OnGrant(fn func(operatorID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onGrant = append(h.onGrant, fn)
}

// LatestFix implements ports.Platform.
func (h *Hub) LatestFix(operatorID string) (domain.Fix, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return domain.Fix{}, false, domain.ErrLocationUnavailable
	}
	if h.revoked[operatorID] {
		return domain.Fix{}, false, domain.ErrPermissionDenied
	}
	fix, ok := h.latest[operatorID]
	return fix, ok, nil
}

// Subscribe implements ports.Platform.
func (h *Hub) Subscribe(operatorID string) (ports.Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, domain.ErrLocationUnavailable
	}
	if h.revoked[operatorID] {
		return nil, domain.ErrPermissionDenied
	}

	s := &hubSubscription{
		hub:        h,
		operatorID: operatorID,
		fixes:      make(chan domain.Fix, 1),
		errs:       make(chan error, 1),
	}
	if h.subs[operatorID] == nil {
		h.subs[operatorID] = make(map[*hubSubscription]struct{})
	}
	h.subs[operatorID][s] = struct{}{}
	return s, nil
}

// Subscribers returns the number of open subscriptions for an operator.
func (h *Hub) Subscribers(operatorID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[operatorID])
}

// Close ends every subscription. Later calls to Subscribe and Publish fail with ErrLocationUnavailable.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for op, set := range h.subs {
		for s := range set {
			s.closeLocked()
		}
		delete(h.subs, op)
	}
}

type hubSubscription struct {
	hub        *Hub
	operatorID string
	fixes      chan domain.Fix
	errs       chan error
	done       bool
}

func (s *hubSubscription) Fixes() <-chan domain.Fix { return s.fixes }

func (s *hubSubscription) Errors() <-chan error { return s.errs }

// offer replaces any undelivered fix with f. Called with hub.mu held.
func (s *hubSubscription) offer(f domain.Fix) {
	select {
	case s.fixes <- f:
		return
	default:
	}
	select {
	case <-s.fixes:
	default:
	}
	s.fixes <- f
}

// fail delivers err unless one is already pending. Called with hub.mu held.
func (s *hubSubscription) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func (s *hubSubscription) Close() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	if s.done {
		return nil
	}
	delete(s.hub.subs[s.operatorID], s)
	if len(s.hub.subs[s.operatorID]) == 0 {
		delete(s.hub.subs, s.operatorID)
	}
	s.closeLocked()
	return nil
}

func (s *hubSubscription) closeLocked() {
	if s.done {
		return
	}
	s.done = true
	close(s.fixes)
	close(s.errs)
}
