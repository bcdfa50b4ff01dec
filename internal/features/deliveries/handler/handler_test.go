package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"handoff-coordinator/internal/core/server"
	"handoff-coordinator/internal/features/deliveries/adapters"
	"handoff-coordinator/internal/features/deliveries/domain"
	"handoff-coordinator/internal/features/deliveries/service"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenRepository fails every read.
type brokenRepository struct {
	*adapters.MemoryRepository
}

func (brokenRepository) Get(ctx context.Context, id string) (*domain.Delivery, error) {
	return nil, errors.New("connection refused")
}

func setupApp(t *testing.T) *fiber.App {
	t.Helper()
	svc := service.NewDeliveryService(adapters.NewMemoryRepository(), nil, 0, nil, nil)
	return newApp(svc)
}

func newApp(svc *service.DeliveryService) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("requestid", "test-ray-id")
		return c.Next()
	})
	h := NewDeliveryHandler(svc)
	app.Post("/deliveries", h.CreateDelivery)
	app.Get("/deliveries/:id", h.GetDelivery)
	app.Post("/deliveries/:id/start", h.Start)
	app.Post("/deliveries/:id/arrive", h.Arrive)
	app.Post("/deliveries/:id/complete", h.Complete)
	app.Post("/deliveries/:id/cancel", h.Cancel)
	app.Get("/operators/:id/deliveries", h.ListOperatorDeliveries)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, operatorID string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if operatorID != "" {
		req.Header.Set(OperatorHeader, operatorID)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func createBody(id string) CreateDeliveryRequest {
	return CreateDeliveryRequest{
		ID:         id,
		OperatorID: "op-1",
		Pickup:     PlaceRequest{Lat: 14.60, Lng: 120.98, Address: "Donor St"},
		Dropoff:    PlaceRequest{Lat: 14.61, Lng: 120.99, Address: "Shelter Ave"},
		Priority:   "high",
	}
}

func TestDeliveryHandler_CreateAndGet(t *testing.T) {
	app := setupApp(t)

	resp := doJSON(t, app, "POST", "/deliveries", "", createBody("d-1"))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var created domain.Delivery
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, domain.StatusAssigned, created.Status)
	assert.Equal(t, domain.PriorityHigh, created.Priority)

	resp = doJSON(t, app, "POST", "/deliveries", "", createBody("d-1"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, app, "GET", "/deliveries/d-1", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, app, "GET", "/deliveries/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeliveryHandler_CreateGeneratesID(t *testing.T) {
	app := setupApp(t)

	resp := doJSON(t, app, "POST", "/deliveries", "", createBody(""))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created domain.Delivery
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.NotEmpty(t, created.ID)
}

func TestDeliveryHandler_CreateValidation(t *testing.T) {
	app := setupApp(t)

	bad := createBody("d-1")
	bad.Dropoff.Lat = 120
	resp := doJSON(t, app, "POST", "/deliveries", "", bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	badPriority := createBody("d-2")
	badPriority.Priority = "asap"
	resp = doJSON(t, app, "POST", "/deliveries", "", badPriority)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeliveryHandler_Transitions(t *testing.T) {
	app := setupApp(t)
	require.Equal(t, http.StatusCreated, doJSON(t, app, "POST", "/deliveries", "", createBody("d-1")).StatusCode)

	t.Run("MissingOperator", func(t *testing.T) {
		resp := doJSON(t, app, "POST", "/deliveries/d-1/start", "", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("WrongOperator", func(t *testing.T) {
		resp := doJSON(t, app, "POST", "/deliveries/d-1/start", "op-2", nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("ArriveBeforeStart", func(t *testing.T) {
		resp := doJSON(t, app, "POST", "/deliveries/d-1/arrive", "op-1", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)

		var errResp server.ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
		assert.Equal(t, "invalid transition from assigned to arrived", errResp.Message)
		assert.Equal(t, "test-ray-id", errResp.RayID)
	})

	t.Run("HappyPath", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, doJSON(t, app, "POST", "/deliveries/d-1/start", "op-1", nil).StatusCode)
		assert.Equal(t, http.StatusOK, doJSON(t, app, "POST", "/deliveries/d-1/arrive", "op-1", nil).StatusCode)

		rating := 9
		resp := doJSON(t, app, "POST", "/deliveries/d-1/complete", "op-1", CompleteRequest{Rating: &rating})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		rating = 5
		resp = doJSON(t, app, "POST", "/deliveries/d-1/complete", "op-1", CompleteRequest{Rating: &rating})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var d domain.Delivery
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&d))
		assert.Equal(t, domain.StatusCompleted, d.Status)
		assert.Equal(t, 5, *d.Rating)

		resp = doJSON(t, app, "POST", "/deliveries/d-1/complete", "op-1", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestDeliveryHandler_Cancel(t *testing.T) {
	app := setupApp(t)
	require.Equal(t, http.StatusCreated, doJSON(t, app, "POST", "/deliveries", "", createBody("d-1")).StatusCode)

	resp := doJSON(t, app, "POST", "/deliveries/d-1/cancel", "", CancelRequest{Reason: "donor withdrew"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var d domain.Delivery
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&d))
	assert.Equal(t, domain.StatusCancelled, d.Status)
	assert.Equal(t, "donor withdrew", *d.CancelReason)
}

func TestDeliveryHandler_ListOperatorDeliveries(t *testing.T) {
	app := setupApp(t)
	require.Equal(t, http.StatusCreated, doJSON(t, app, "POST", "/deliveries", "", createBody("d-1")).StatusCode)
	require.Equal(t, http.StatusCreated, doJSON(t, app, "POST", "/deliveries", "", createBody("d-2")).StatusCode)
	require.Equal(t, http.StatusOK, doJSON(t, app, "POST", "/deliveries/d-2/cancel", "", nil).StatusCode)

	resp := doJSON(t, app, "GET", "/operators/op-1/deliveries?active=true", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []domain.Delivery
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "d-1", list[0].ID)
}

func TestDeliveryHandler_StorageUnavailable(t *testing.T) {
	svc := service.NewDeliveryService(brokenRepository{adapters.NewMemoryRepository()}, nil, 0, nil, nil)
	app := newApp(svc)

	resp := doJSON(t, app, "POST", "/deliveries/d-1/start", "op-1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
