package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/QFiSouthaven/Jynco-sub001/internal/client"
	"github.com/QFiSouthaven/Jynco-sub001/internal/queue"
)

type HealthHandler struct {
	queue    queue.Queue
	registry *client.Registry
}

func NewHealthHandler(q queue.Queue, registry *client.Registry) *HealthHandler {
	return &HealthHandler{queue: q, registry: registry}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	status := "ok"
	code := fiber.StatusOK

	depth, err := h.queue.Depth(c.Context())
	if err != nil {
		status = "degraded"
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(fiber.Map{
		"status":   status,
		"queue":    depth,
		"backends": h.registry.Names(),
	})
}
