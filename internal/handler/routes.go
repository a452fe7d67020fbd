package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/QFiSouthaven/Jynco-sub001/internal/client"
	"github.com/QFiSouthaven/Jynco-sub001/internal/middleware"
	"github.com/QFiSouthaven/Jynco-sub001/internal/queue"
	"github.com/QFiSouthaven/Jynco-sub001/internal/service"
	ws "github.com/QFiSouthaven/Jynco-sub001/internal/websocket"
)

// Dependencies are the components the HTTP API is built on.
type Dependencies struct {
	Projects      *service.ProjectService
	Orchestrator  *service.Orchestrator
	Queue         queue.Queue
	Registry      *client.Registry
	Hub           *ws.Hub // nil disables /ws
	RateLimiter   *middleware.RateLimiter
	RenderPerHour int
	Validator     *validator.Validate
}

// Register mounts the health check, the REST API and the progress websocket.
func Register(app *fiber.App, deps Dependencies) {
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.RateLimiter == nil {
		deps.RateLimiter = middleware.NewRateLimiter(nil)
	}

	projectHandler := NewProjectHandler(deps.Projects, deps.Validator)
	renderHandler := NewRenderHandler(deps.Orchestrator, deps.Validator)
	healthHandler := NewHealthHandler(deps.Queue, deps.Registry)

	app.Get("/health", healthHandler.Health)

	api := app.Group("/api")

	projects := api.Group("/projects")
	projects.Post("/", projectHandler.Create)
	projects.Get("/:projectId", projectHandler.Get)
	projects.Delete("/:projectId", projectHandler.Delete)
	projects.Post("/:projectId/segments", projectHandler.AddSegment)
	projects.Put("/:projectId/order", projectHandler.Reorder)
	projects.Post("/:projectId/render", deps.RateLimiter.RenderLimit(deps.RenderPerHour), renderHandler.Start)
	projects.Get("/:projectId/status", renderHandler.Status)
	projects.Post("/:projectId/cancel", renderHandler.Cancel)

	segments := api.Group("/segments")
	segments.Put("/:segmentId", projectHandler.UpdateSegment)
	segments.Delete("/:segmentId", projectHandler.DeleteSegment)
	segments.Post("/:segmentId/retry", renderHandler.RetrySegment)

	api.Post("/renders/:renderId/composition", renderHandler.CompositionResult)

	if deps.Hub == nil {
		return
	}
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/projects/:projectId", websocket.New(func(c *websocket.Conn) {
		deps.Hub.HandleConnection(c, c.Params("projectId"))
	}))
}

// ErrorHandler renders unhandled errors in the API error format.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
