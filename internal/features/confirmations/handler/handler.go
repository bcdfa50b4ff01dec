package handler

import (
	"errors"

	"handoff-coordinator/internal/core/logger"
	"handoff-coordinator/internal/core/server"
	"handoff-coordinator/internal/features/confirmations/domain"
	"handoff-coordinator/internal/features/confirmations/ports"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ConfirmationHandler handles HTTP requests for hand-off confirmations.
type ConfirmationHandler struct {
	service ports.ConfirmationService
}

// NewConfirmationHandler creates a new ConfirmationHandler.
func NewConfirmationHandler(service ports.ConfirmationService) *ConfirmationHandler {
	return &ConfirmationHandler{
		service: service,
	}
}

// GetConfirmation handles GET /deliveries/:id/confirmation.
// @Summary Get a delivery's confirmation request
// @Tags confirmations
// @Produce json
// @Param id path string true "Delivery ID"
// @Success 200 {object} domain.ConfirmationRequest
// @Failure 404 {object} server.ErrorResponse
// @Failure 500 {object} server.ErrorResponse
// @Router /deliveries/{id}/confirmation [get]
func (h *ConfirmationHandler) GetConfirmation(c *fiber.Ctx) error {
	req, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(req)
}

// ResolveConfirmation handles POST /deliveries/:id/confirmation/resolve.
// @Summary Confirm receipt of a delivery
// @Description Called by the receiving party once the goods are in hand.
// @Tags confirmations
// @Produce json
// @Param id path string true "Delivery ID"
// @Success 200 {object} domain.ConfirmationRequest
// @Failure 404 {object} server.ErrorResponse
// @Failure 500 {object} server.ErrorResponse
// @Router /deliveries/{id}/confirmation/resolve [post]
func (h *ConfirmationHandler) ResolveConfirmation(c *fiber.Ctx) error {
	req, err := h.service.Resolve(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(req)
}

func (h *ConfirmationHandler) fail(c *fiber.Ctx, err error) error {
	if errors.Is(err, domain.ErrConfirmationNotFound) {
		return server.Fail(c, fiber.StatusNotFound, "no confirmation request for this delivery")
	}
	logger.Get().Error("Confirmation request failed", zap.String("delivery_id", c.Params("id")), zap.Error(err))
	return server.Fail(c, fiber.StatusInternalServerError, "internal server error")
}
