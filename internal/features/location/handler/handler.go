package handler

import (
	"errors"
	"time"

	"handoff-coordinator/internal/core/geo"
	"handoff-coordinator/internal/core/logger"
	"handoff-coordinator/internal/core/metrics"
	"handoff-coordinator/internal/core/server"
	"handoff-coordinator/internal/features/location/domain"
	"handoff-coordinator/internal/features/location/ports"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// maxWaitTimeout caps the timeout a client may request for a one-shot fix.
const maxWaitTimeout = 30 * time.Second

// LocationHandler handles HTTP requests for operator locations.
type LocationHandler struct {
	service  ports.LocationService
	ingestor ports.FixIngestor
	metrics  *metrics.Recorder
	now      func() time.Time
}

// NewLocationHandler creates a new LocationHandler.
func NewLocationHandler(service ports.LocationService, ingestor ports.FixIngestor, rec *metrics.Recorder) *LocationHandler {
	return &LocationHandler{
		service:  service,
		ingestor: ingestor,
		metrics:  rec,
		now:      time.Now,
	}
}

// FixRequest is a fix reported by a device over HTTP.
type FixRequest struct {
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	AccuracyMeters float64 `json:"accuracy_meters"`
	// Timestamp defaults to the time of receipt.
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// LocationResponse wraps a fix with the tracker's accuracy verdict.
type LocationResponse struct {
	Fix        domain.Fix `json:"fix"`
	Accurate   bool       `json:"accurate"`
	AgeSeconds float64    `json:"age_seconds"`
}

// PermissionRequest grants or revokes location sharing.
type PermissionRequest struct {
	Granted *bool `json:"granted"`
}

// PostFix godoc
// @Summary Report a location fix
// @Description Ingests a device location fix for an operator.
// @Tags location
// @Accept json
// @Produce json
// @Param id path string true "Operator ID"
// @Param fix body FixRequest true "Fix"
// @Success 202 {object} map[string]string
// @Failure 400 {object} server.ErrorResponse
// @Failure 403 {object} server.ErrorResponse
// @Router /operators/{id}/fixes [post]
func (h *LocationHandler) PostFix(c *fiber.Ctx) error {
	operatorID := c.Params("id")

	var req FixRequest
	if err := c.BodyParser(&req); err != nil {
		return server.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}

	ts := h.now()
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}

	fix := domain.Fix{
		OperatorID:     operatorID,
		Coordinate:     geo.Coordinate{Lat: req.Lat, Lng: req.Lng},
		AccuracyMeters: req.AccuracyMeters,
		Timestamp:      ts,
	}

	if err := h.ingestor.Publish(fix); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidFix):
			return server.Fail(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrPermissionDenied):
			return server.Fail(c, fiber.StatusForbidden, "location sharing is disabled for this operator")
		default:
			logger.Get().Error("Failed to ingest fix", zap.String("operator_id", operatorID), zap.Error(err))
			return server.Fail(c, fiber.StatusServiceUnavailable, "location platform unavailable")
		}
	}

	h.metrics.FixReceived("http")
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "fix accepted",
	})
}

// GetLocation godoc
// @Summary Get an operator's current location
// @Description Returns a fresh fix, waiting up to timeout for one to arrive.
// @Tags location
// @Produce json
// @Param id path string true "Operator ID"
// @Param timeout query string false "Wait timeout (e.g. 5s)"
// @Success 200 {object} LocationResponse
// @Failure 400 {object} server.ErrorResponse
// @Failure 403 {object} server.ErrorResponse
// @Failure 503 {object} server.ErrorResponse
// @Failure 504 {object} server.ErrorResponse
// @Router /operators/{id}/location [get]
func (h *LocationHandler) GetLocation(c *fiber.Ctx) error {
	operatorID := c.Params("id")

	var timeout time.Duration
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return server.Fail(c, fiber.StatusBadRequest, "timeout must be a positive duration")
		}
		timeout = min(d, maxWaitTimeout)
	}

	fix, err := h.service.GetCurrentLocation(c.UserContext(), operatorID, timeout)
	if err != nil {
		return h.locationError(c, err)
	}

	return c.JSON(LocationResponse{
		Fix:        fix,
		Accurate:   fix.IsAccurate(h.service.AccuracyThreshold()),
		AgeSeconds: h.now().Sub(fix.Timestamp).Seconds(),
	})
}

// SetPermission godoc
// @Summary Grant or revoke location sharing
// @Tags location
// @Accept json
// @Param id path string true "Operator ID"
// @Param permission body PermissionRequest true "Permission"
// @Success 204
// @Failure 400 {object} server.ErrorResponse
// @Router /operators/{id}/location-permission [put]
func (h *LocationHandler) SetPermission(c *fiber.Ctx) error {
	var req PermissionRequest
	if err := c.BodyParser(&req); err != nil || req.Granted == nil {
		return server.Fail(c, fiber.StatusBadRequest, "granted is required")
	}

	h.ingestor.SetPermission(c.Params("id"), *req.Granted)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *LocationHandler) locationError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return server.Fail(c, fiber.StatusForbidden, "location permission denied")
	case errors.Is(err, domain.ErrLocationTimeout):
		return server.Fail(c, fiber.StatusGatewayTimeout, "no location fix received in time")
	case errors.Is(err, domain.ErrLocationUnavailable):
		return server.Fail(c, fiber.StatusServiceUnavailable, "location unavailable")
	default:
		logger.Get().Error("Failed to get location", zap.Error(err))
		return server.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}
}
