package handler

import (
	"context"
	"errors"
	"strconv"

	"handoff-coordinator/internal/core/geo"
	"handoff-coordinator/internal/core/logger"
	"handoff-coordinator/internal/core/server"
	locationdomain "handoff-coordinator/internal/features/location/domain"
	"handoff-coordinator/internal/features/routing/domain"
	"handoff-coordinator/internal/features/routing/ports"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// RouteHandler handles HTTP requests for route planning and geocoding.
type RouteHandler struct {
	planner  ports.RoutePlanner
	stops    ports.StopSource
	origins  ports.OriginSource
	geocoder ports.Geocoder
}

// NewRouteHandler creates a new RouteHandler. A nil geocoder disables the
// geocoding endpoints.
func NewRouteHandler(planner ports.RoutePlanner, stops ports.StopSource, origins ports.OriginSource, geocoder ports.Geocoder) *RouteHandler {
	return &RouteHandler{
		planner:  planner,
		stops:    stops,
		origins:  origins,
		geocoder: geocoder,
	}
}

// PlanRequest asks for a route over the operator's open deliveries.
type PlanRequest struct {
	// Origin defaults to the operator's current location.
	Origin *geo.Coordinate `json:"origin,omitempty"`
	// Mode defaults to driving.
	Mode string `json:"mode"`
	// Refresh bypasses any cached plan.
	Refresh bool `json:"refresh"`
}

// RouteResponse wraps a route with a display summary.
type RouteResponse struct {
	Route   *domain.Route `json:"route"`
	Summary string        `json:"summary"`
}

// GeocodeResponse is a resolved address.
type GeocodeResponse struct {
	Address    string         `json:"address"`
	Coordinate geo.Coordinate `json:"coordinate"`
}

// PlanRoute godoc
// @Summary Plan an operator's route
// @Description Orders the operator's pending pickups and dropoffs, using the directions provider when reachable.
// @Tags routing
// @Accept json
// @Produce json
// @Param id path string true "Operator ID"
// @Param plan body PlanRequest false "Plan options"
// @Success 200 {object} RouteResponse
// @Failure 400 {object} server.ErrorResponse
// @Failure 403 {object} server.ErrorResponse
// @Failure 422 {object} server.ErrorResponse
// @Failure 429 {object} server.ErrorResponse
// @Failure 502 {object} server.ErrorResponse
// @Failure 503 {object} server.ErrorResponse
// @Failure 504 {object} server.ErrorResponse
// @Router /operators/{id}/route [post]
func (h *RouteHandler) PlanRoute(c *fiber.Ctx) error {
	operatorID := c.Params("id")

	var req PlanRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return server.Fail(c, fiber.StatusBadRequest, "invalid request body")
		}
	}

	mode, err := domain.ParseTravelMode(req.Mode)
	if err != nil {
		return server.Fail(c, fiber.StatusBadRequest, err.Error())
	}

	ctx := c.UserContext()

	stops, err := h.stops.StopsForOperator(ctx, operatorID)
	if err != nil {
		logger.Get().Error("Failed to load operator stops", zap.String("operator_id", operatorID), zap.Error(err))
		return server.Fail(c, fiber.StatusServiceUnavailable, "delivery storage unavailable, try again")
	}
	if len(stops) == 0 {
		return h.fail(c, domain.ErrNoStops)
	}

	var origin geo.Coordinate
	if req.Origin != nil {
		origin = *req.Origin
	} else {
		origin, err = h.origins.CurrentOrigin(ctx, operatorID)
		if err != nil {
			return h.fail(c, err)
		}
	}

	plan := h.planner.Plan
	if req.Refresh {
		plan = h.planner.Replan
	}

	route, err := plan(ctx, origin, stops, mode)
	if err != nil {
		return h.fail(c, err)
	}

	logger.Get().Info("Route planned",
		zap.String("operator_id", operatorID),
		zap.String("source", string(route.Source)),
		zap.String("summary", route.Summary()),
	)

	return c.JSON(RouteResponse{Route: route, Summary: route.Summary()})
}

// Geocode godoc
// @Summary Geocode an address
// @Tags routing
// @Produce json
// @Param address query string true "Address"
// @Success 200 {object} GeocodeResponse
// @Failure 400 {object} server.ErrorResponse
// @Failure 404 {object} server.ErrorResponse
// @Failure 503 {object} server.ErrorResponse
// @Router /geocode [get]
func (h *RouteHandler) Geocode(c *fiber.Ctx) error {
	if h.geocoder == nil {
		return server.Fail(c, fiber.StatusServiceUnavailable, "geocoding is not configured")
	}
	address := c.Query("address")
	if address == "" {
		return server.Fail(c, fiber.StatusBadRequest, "address is required")
	}

	coord, err := h.geocoder.Geocode(c.UserContext(), address)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(GeocodeResponse{Address: address, Coordinate: coord})
}

// ReverseGeocode godoc
// @Summary Resolve a coordinate to an address
// @Tags routing
// @Produce json
// @Param lat query number true "Latitude"
// @Param lng query number true "Longitude"
// @Success 200 {object} GeocodeResponse
// @Failure 400 {object} server.ErrorResponse
// @Failure 404 {object} server.ErrorResponse
// @Failure 503 {object} server.ErrorResponse
// @Router /geocode/reverse [get]
func (h *RouteHandler) ReverseGeocode(c *fiber.Ctx) error {
	if h.geocoder == nil {
		return server.Fail(c, fiber.StatusServiceUnavailable, "geocoding is not configured")
	}
	if c.Query("lat") == "" || c.Query("lng") == "" {
		return server.Fail(c, fiber.StatusBadRequest, "lat and lng are required")
	}

	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		return server.Fail(c, fiber.StatusBadRequest, "lat must be a number")
	}
	lng, err := strconv.ParseFloat(c.Query("lng"), 64)
	if err != nil {
		return server.Fail(c, fiber.StatusBadRequest, "lng must be a number")
	}
	coord := geo.Coordinate{Lat: lat, Lng: lng}
	if err := coord.Validate(); err != nil {
		return server.Fail(c, fiber.StatusBadRequest, err.Error())
	}

	address, err := h.geocoder.ReverseGeocode(c.UserContext(), coord)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(GeocodeResponse{Address: address, Coordinate: coord})
}

func (h *RouteHandler) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrNoStops):
		return server.Fail(c, fiber.StatusUnprocessableEntity, "operator has no stops to visit")
	case errors.Is(err, domain.ErrInvalidCoordinate),
		errors.Is(err, domain.ErrInvalidStop),
		errors.Is(err, domain.ErrInvalidTravelMode):
		return server.Fail(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrProviderDenied):
		logger.Get().Error("Directions provider denied request", zap.Error(err))
		return server.Fail(c, fiber.StatusBadGateway, "directions provider rejected the request")
	case errors.Is(err, domain.ErrProviderQuotaExceeded):
		return server.Fail(c, fiber.StatusTooManyRequests, "directions provider quota exceeded, try again later")
	case errors.Is(err, domain.ErrProviderNoResult):
		return server.Fail(c, fiber.StatusNotFound, "no result found")
	case errors.Is(err, domain.ErrProviderUnavailable):
		return server.Fail(c, fiber.StatusServiceUnavailable, "directions provider unavailable")
	case errors.Is(err, locationdomain.ErrPermissionDenied):
		return server.Fail(c, fiber.StatusForbidden, "location sharing is disabled for this operator")
	case errors.Is(err, locationdomain.ErrLocationTimeout), errors.Is(err, context.DeadlineExceeded):
		return server.Fail(c, fiber.StatusGatewayTimeout, "timed out, try again")
	case errors.Is(err, locationdomain.ErrLocationUnavailable):
		return server.Fail(c, fiber.StatusServiceUnavailable, "operator location unavailable")
	default:
		logger.Get().Error("Route request failed", zap.String("path", c.Path()), zap.Error(err))
		return server.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}
}
