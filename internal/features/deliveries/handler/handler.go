package handler

import (
	"errors"

	"handoff-coordinator/internal/core/geo"
	"handoff-coordinator/internal/core/logger"
	"handoff-coordinator/internal/core/server"
	"handoff-coordinator/internal/features/deliveries/domain"
	"handoff-coordinator/internal/features/deliveries/ports"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OperatorHeader identifies the operator acting on a delivery.
const OperatorHeader = "X-Operator-ID"

// DeliveryHandler handles HTTP requests for deliveries.
type DeliveryHandler struct {
	service ports.DeliveryService
}

// NewDeliveryHandler creates a new DeliveryHandler.
func NewDeliveryHandler(service ports.DeliveryService) *DeliveryHandler {
	return &DeliveryHandler{
		service: service,
	}
}

// PlaceRequest is one end of a delivery.
type PlaceRequest struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

// CreateDeliveryRequest assigns a new delivery to an operator.
type CreateDeliveryRequest struct {
	// ID is generated when empty.
	ID         string       `json:"id"`
	OperatorID string       `json:"operator_id"`
	Pickup     PlaceRequest `json:"pickup"`
	Dropoff    PlaceRequest `json:"dropoff"`
	Priority   string       `json:"priority"`
	Notes      string       `json:"notes"`
}

// CompleteRequest closes a delivery.
type CompleteRequest struct {
	Notes  *string `json:"notes"`
	Rating *int    `json:"rating"`
}

// CancelRequest cancels a delivery.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// CreateDelivery handles POST /deliveries.
// @Summary Assign a delivery
// @Description Creates a delivery in the assigned state.
// @Tags deliveries
// @Accept json
// @Produce json
// @Param delivery body CreateDeliveryRequest true "Delivery"
// @Success 201 {object} domain.Delivery
// @Failure 400 {object} server.ErrorResponse
// @Failure 409 {object} server.ErrorResponse
// @Failure 503 {object} server.ErrorResponse
// @Router /deliveries [post]
func (h *DeliveryHandler) CreateDelivery(c *fiber.Ctx) error {
	var req CreateDeliveryRequest
	if err := c.BodyParser(&req); err != nil {
		return server.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}

	priority, err := domain.ParsePriority(req.Priority)
	if err != nil {
		return server.Fail(c, fiber.StatusBadRequest, err.Error())
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	d := &domain.Delivery{
		ID:                 req.ID,
		AssignedOperatorID: req.OperatorID,
		Priority:           priority,
		Pickup:             domain.Place{Coordinate: geo.Coordinate{Lat: req.Pickup.Lat, Lng: req.Pickup.Lng}, Address: req.Pickup.Address},
		Dropoff:            domain.Place{Coordinate: geo.Coordinate{Lat: req.Dropoff.Lat, Lng: req.Dropoff.Lng}, Address: req.Dropoff.Address},
	}
	if req.Notes != "" {
		d.Notes = &req.Notes
	}

	created, err := h.service.Create(c.UserContext(), d)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// GetDelivery handles GET /deliveries/:id.
// @Summary Get a delivery
// @Tags deliveries
// @Produce json
// @Param id path string true "Delivery ID"
// @Success 200 {object} domain.Delivery
// @Failure 404 {object} server.ErrorResponse
// @Router /deliveries/{id} [get]
func (h *DeliveryHandler) GetDelivery(c *fiber.Ctx) error {
	d, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(d)
}

// ListOperatorDeliveries handles GET /operators/:id/deliveries.
// @Summary List an operator's deliveries
// @Tags deliveries
// @Produce json
// @Param id path string true "Operator ID"
// @Param active query bool false "Only deliveries that are not completed or cancelled"
// @Success 200 {array} domain.Delivery
// @Failure 503 {object} server.ErrorResponse
// @Router /operators/{id}/deliveries [get]
func (h *DeliveryHandler) ListOperatorDeliveries(c *fiber.Ctx) error {
	list, err := h.service.ListByOperator(c.UserContext(), c.Params("id"), c.QueryBool("active", false))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(list)
}

// Start handles POST /deliveries/:id/start.
// @Summary Start a delivery
// @Tags deliveries
// @Produce json
// @Param id path string true "Delivery ID"
// @Param X-Operator-ID header string true "Acting operator"
// @Success 200 {object} domain.Delivery
// @Failure 403 {object} server.ErrorResponse
// @Failure 404 {object} server.ErrorResponse
// @Failure 409 {object} server.ErrorResponse
// @Failure 503 {object} server.ErrorResponse
// @Router /deliveries/{id}/start [post]
func (h *DeliveryHandler) Start(c *fiber.Ctx) error {
	operatorID := c.Get(OperatorHeader)
	if operatorID == "" {
		return server.Fail(c, fiber.StatusBadRequest, OperatorHeader+" header is required")
	}
	d, err := h.service.Start(c.UserContext(), c.Params("id"), operatorID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(d)
}

// Arrive handles POST /deliveries/:id/arrive.
// @Summary Mark arrival at the dropoff
// @Tags deliveries
// @Produce json
// @Param id path string true "Delivery ID"
// @Param X-Operator-ID header string true "Acting operator"
// @Success 200 {object} domain.Delivery
// @Failure 403 {object} server.ErrorResponse
// @Failure 404 {object} server.ErrorResponse
// @Failure 409 {object} server.ErrorResponse
// @Failure 503 {object} server.ErrorResponse
// @Router /deliveries/{id}/arrive [post]
func (h *DeliveryHandler) Arrive(c *fiber.Ctx) error {
	operatorID := c.Get(OperatorHeader)
	if operatorID == "" {
		return server.Fail(c, fiber.StatusBadRequest, OperatorHeader+" header is required")
	}
	d, err := h.service.Arrive(c.UserContext(), c.Params("id"), operatorID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(d)
}

// Complete handles POST /deliveries/:id/complete.
// @Summary Complete a delivery
// @Description Completes the hand-off and asks the recipient to confirm it.
// @Tags deliveries
// @Accept json
// @Produce json
// @Param id path string true "Delivery ID"
// @Param X-Operator-ID header string true "Acting operator"
// @Param completion body CompleteRequest false "Notes and rating"
// @Success 200 {object} domain.Delivery
// @Failure 400 {object} server.ErrorResponse
// @Failure 403 {object} server.ErrorResponse
// @Failure 404 {object} server.ErrorResponse
// @Failure 409 {object} server.ErrorResponse
// @Failure 503 {object} server.ErrorResponse
// @Router /deliveries/{id}/complete [post]
func (h *DeliveryHandler) Complete(c *fiber.Ctx) error {
	operatorID := c.Get(OperatorHeader)
	if operatorID == "" {
		return server.Fail(c, fiber.StatusBadRequest, OperatorHeader+" header is required")
	}

	var req CompleteRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return server.Fail(c, fiber.StatusBadRequest, "invalid request body")
		}
	}

	d, err := h.service.Complete(c.UserContext(), c.Params("id"), operatorID, req.Notes, req.Rating)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(d)
}

// Cancel handles POST /deliveries/:id/cancel.
// @Summary Cancel a delivery
// @Tags deliveries
// @Accept json
// @Produce json
// @Param id path string true "Delivery ID"
// @Param cancellation body CancelRequest false "Reason"
// @Success 200 {object} domain.Delivery
// @Failure 404 {object} server.ErrorResponse
// @Failure 409 {object} server.ErrorResponse
// @Failure 503 {object} server.ErrorResponse
// @Router /deliveries/{id}/cancel [post]
func (h *DeliveryHandler) Cancel(c *fiber.Ctx) error {
	var req CancelRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return server.Fail(c, fiber.StatusBadRequest, "invalid request body")
		}
	}

	d, err := h.service.Cancel(c.UserContext(), c.Params("id"), req.Reason)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(d)
}

func (h *DeliveryHandler) fail(c *fiber.Ctx, err error) error {
	var ite *domain.InvalidTransitionError
	switch {
	case errors.As(err, &ite):
		return server.Fail(c, fiber.StatusConflict, ite.Error())
	case errors.Is(err, domain.ErrDuplicateDelivery):
		return server.Fail(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrDeliveryNotFound):
		return server.Fail(c, fiber.StatusNotFound, "delivery not found")
	case errors.Is(err, domain.ErrOperatorMismatch):
		return server.Fail(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrInvalidDelivery), errors.Is(err, domain.ErrInvalidRating):
		return server.Fail(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrPersistenceFailed):
		logger.Get().Error("Delivery storage failed", zap.String("delivery_id", c.Params("id")), zap.Error(err))
		return server.Fail(c, fiber.StatusServiceUnavailable, "delivery storage unavailable, try again")
	default:
		logger.Get().Error("Delivery request failed", zap.String("delivery_id", c.Params("id")), zap.Error(err))
		return server.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}
}
