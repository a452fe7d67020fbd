package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
	"github.com/QFiSouthaven/Jynco-sub001/internal/service"
	"github.com/QFiSouthaven/Jynco-sub001/pkg/response"
)

type RenderHandler struct {
	orchestrator *service.Orchestrator
	validator    *validator.Validate
}

func NewRenderHandler(orchestrator *service.Orchestrator, v *validator.Validate) *RenderHandler {
	return &RenderHandler{
		orchestrator: orchestrator,
		validator:    v,
	}
}

// Start handles POST /api/projects/:projectId/render
func (h *RenderHandler) Start(c *fiber.Ctx) error {
	var req model.RenderRequest
	if len(c.Body()) > 0 {
		if err := parse(c, h.validator, &req); err != nil {
			return err
		}
	}

	result, err := h.orchestrator.Render(c.Context(), c.Params("projectId"), req.Interactive)
	if err != nil {
		return serviceError(c, err)
	}
	return response.Accepted(c, result)
}

// Status handles GET /api/projects/:projectId/status
func (h *RenderHandler) Status(c *fiber.Ctx) error {
	result, err := h.orchestrator.Status(c.Context(), c.Params("projectId"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}

// Cancel handles POST /api/projects/:projectId/cancel
func (h *RenderHandler) Cancel(c *fiber.Ctx) error {
	result, err := h.orchestrator.Cancel(c.Context(), c.Params("projectId"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}

// RetrySegment handles POST /api/segments/:segmentId/retry
func (h *RenderHandler) RetrySegment(c *fiber.Ctx) error {
	result, err := h.orchestrator.RetrySegment(c.Context(), c.Params("segmentId"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.Accepted(c, result)
}

// CompositionResult handles POST /api/renders/:renderId/composition
func (h *RenderHandler) CompositionResult(c *fiber.Ctx) error {
	var req model.CompositionResultRequest
	if err := parse(c, h.validator, &req); err != nil {
		return err
	}

	renderID := c.Params("renderId")
	if err := h.orchestrator.HandleCompositionResult(c.Context(), renderID, req.Success, req.ArtifactRef, req.Error); err != nil {
		return serviceError(c, err)
	}
	return response.NoContent(c)
}
