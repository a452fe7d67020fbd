package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
	"github.com/QFiSouthaven/Jynco-sub001/internal/service"
	"github.com/QFiSouthaven/Jynco-sub001/pkg/response"
)

type ProjectHandler struct {
	service   *service.ProjectService
	validator *validator.Validate
}

func NewProjectHandler(svc *service.ProjectService, v *validator.Validate) *ProjectHandler {
	return &ProjectHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/projects
func (h *ProjectHandler) Create(c *fiber.Ctx) error {
	var req model.CreateProjectRequest
	if err := parse(c, h.validator, &req); err != nil {
		return err
	}

	result, err := h.service.CreateProject(c.Context(), &req)
	if err != nil {
		return serviceError(c, err)
	}
	return response.Created(c, result)
}

// Get handles GET /api/projects/:projectId
func (h *ProjectHandler) Get(c *fiber.Ctx) error {
	result, err := h.service.GetProject(c.Context(), c.Params("projectId"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}

// Delete handles DELETE /api/projects/:projectId
func (h *ProjectHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.DeleteProject(c.Context(), c.Params("projectId")); err != nil {
		return serviceError(c, err)
	}
	return response.NoContent(c)
}

// AddSegment handles POST /api/projects/:projectId/segments
func (h *ProjectHandler) AddSegment(c *fiber.Ctx) error {
	var req model.CreateSegmentRequest
	if err := parse(c, h.validator, &req); err != nil {
		return err
	}

	seg, err := h.service.AddSegment(c.Context(), c.Params("projectId"), &req)
	if err != nil {
		return serviceError(c, err)
	}
	return response.Created(c, seg)
}

// Reorder handles PUT /api/projects/:projectId/order
func (h *ProjectHandler) Reorder(c *fiber.Ctx) error {
	var req model.ReorderRequest
	if err := parse(c, h.validator, &req); err != nil {
		return err
	}

	result, err := h.service.ReorderSegments(c.Context(), c.Params("projectId"), &req)
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}

// UpdateSegment handles PUT /api/segments/:segmentId
func (h *ProjectHandler) UpdateSegment(c *fiber.Ctx) error {
	var req model.UpdateSegmentRequest
	if err := parse(c, h.validator, &req); err != nil {
		return err
	}

	seg, err := h.service.UpdateDirective(c.Context(), c.Params("segmentId"), &req)
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, seg)
}

// DeleteSegment handles DELETE /api/segments/:segmentId
func (h *ProjectHandler) DeleteSegment(c *fiber.Ctx) error {
	if err := h.service.RemoveSegment(c.Context(), c.Params("segmentId")); err != nil {
		return serviceError(c, err)
	}
	return response.NoContent(c)
}
