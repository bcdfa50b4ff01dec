package metrics

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exposes the coordination engine's Prometheus collectors.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	plans          *prometheus.CounterVec
	planLatency    *prometheus.HistogramVec
	degraded       *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	hookFailures   *prometheus.CounterVec
	locationWrites *prometheus.CounterVec
	fixes          *prometheus.CounterVec
}

// New registers the collectors on reg. If reg is nil, the default registerer
// is used. Collectors that are already registered are reused.
func New(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	plans := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "handoff_route_plans_total",
		Help: "Route plans computed, by source and outcome",
	}, []string{"source", "outcome"})
	planLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "handoff_route_plan_seconds",
		Help:    "Time spent computing a route plan",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})
	degraded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "handoff_planner_degraded_total",
		Help: "Plans that fell back to local sequencing, by provider failure",
	}, []string{"reason"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "handoff_delivery_transitions_total",
		Help: "Delivery state transitions attempted, by target status and result",
	}, []string{"to", "result"})
	hookFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "handoff_transition_hook_failures_total",
		Help: "Post-transition hooks that returned an error or panicked",
	}, []string{"hook"})
	locationWrites := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "handoff_location_writes_total",
		Help: "Operator location persistence attempts, by result",
	}, []string{"result"})
	fixes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "handoff_location_fixes_total",
		Help: "Location fixes received, by ingestion source",
	}, []string{"source"})

	var err error
	if plans, err = register(reg, plans); err != nil {
		return nil, err
	}
	if planLatency, err = register(reg, planLatency); err != nil {
		return nil, err
	}
	if degraded, err = register(reg, degraded); err != nil {
		return nil, err
	}
	if transitions, err = register(reg, transitions); err != nil {
		return nil, err
	}
	if hookFailures, err = register(reg, hookFailures); err != nil {
		return nil, err
	}
	if locationWrites, err = register(reg, locationWrites); err != nil {
		return nil, err
	}
	if fixes, err = register(reg, fixes); err != nil {
		return nil, err
	}

	return &Recorder{
		plans:          plans,
		planLatency:    planLatency,
		degraded:       degraded,
		transitions:    transitions,
		hookFailures:   hookFailures,
		locationWrites: locationWrites,
		fixes:          fixes,
	}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RoutePlanned records a finished plan. source is "provider" or "fallback".
func (r *Recorder) RoutePlanned(source, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.plans.WithLabelValues(source, outcome).Inc()
	r.planLatency.WithLabelValues(source).Observe(elapsed.Seconds())
}

// PlannerDegraded records a provider failure absorbed by the fallback sequencer.
func (r *Recorder) PlannerDegraded(reason string) {
	if r == nil {
		return
	}
	r.degraded.WithLabelValues(reason).Inc()
}

// Transition records a state machine transition attempt.
func (r *Recorder) Transition(to, result string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(to, result).Inc()
}

// HookFailed records a failing post-transition hook.
func (r *Recorder) HookFailed(hook string) {
	if r == nil {
		return
	}
	r.hookFailures.WithLabelValues(hook).Inc()
}

// LocationWrite records an operator location persistence attempt.
func (r *Recorder) LocationWrite(result string) {
	if r == nil {
		return
	}
	r.locationWrites.WithLabelValues(result).Inc()
}

// FixReceived records an ingested location fix.
func (r *Recorder) FixReceived(source string) {
	if r == nil {
		return
	}
	r.fixes.WithLabelValues(source).Inc()
}

// Handler serves the gatherer's metrics in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) fiber.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return adaptor.HTTPHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
