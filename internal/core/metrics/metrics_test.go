package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := New(reg)
	require.NoError(t, err)

	rec.RoutePlanned("fallback", "ok", 20*time.Millisecond)
	rec.PlannerDegraded("unavailable")
	rec.PlannerDegraded("unavailable")
	rec.Transition("in_transit", "ok")
	rec.HookFailed("publisher")
	rec.LocationWrite("stale")
	rec.FixReceived("mqtt")

	expected := `
# HELP handoff_planner_degraded_total Plans that fell back to local sequencing, by provider failure
# TYPE handoff_planner_degraded_total counter
handoff_planner_degraded_total{reason="unavailable"} 2
`
	assert.NoError(t, testutil.CollectAndCompare(rec.degraded, strings.NewReader(expected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.transitions.WithLabelValues("in_transit", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.locationWrites.WithLabelValues("stale")))
	assert.Equal(t, 1, testutil.CollectAndCount(rec.planLatency))
}

func TestNew_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	first.FixReceived("http")
	assert.Equal(t, 1.0, testutil.ToFloat64(second.fixes.WithLabelValues("http")))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var rec *Recorder
	assert.NotPanics(t, func() {
		rec.RoutePlanned("provider", "ok", time.Second)
		rec.PlannerDegraded("no_result")
		rec.Transition("completed", "invalid")
		rec.HookFailed("x")
		rec.LocationWrite("ok")
		rec.FixReceived("http")
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := New(reg)
	require.NoError(t, err)
	rec.Transition("arrived", "ok")

	app := fiber.New()
	app.Get("/metrics", Handler(reg))

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `handoff_delivery_transitions_total{result="ok",to="arrived"} 1`)
}
