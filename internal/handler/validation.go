package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/QFiSouthaven/Jynco-sub001/internal/service"
	"github.com/QFiSouthaven/Jynco-sub001/internal/store"
	"github.com/QFiSouthaven/Jynco-sub001/pkg/response"
)

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Namespace()] = e.Tag()
		}
		return errors
	}
	return nil
}

// parse decodes and validates the request body into req.
func parse(c *fiber.Ctx, v *validator.Validate, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := v.Struct(req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	return nil
}

// serviceError maps service errors to API responses.
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrProjectNotFound):
		return response.NotFound(c, "Project not found")
	case errors.Is(err, service.ErrSegmentNotFound):
		return response.NotFound(c, "Segment not found")
	case errors.Is(err, service.ErrRenderNotFound):
		return response.NotFound(c, "Render not found")
	case errors.Is(err, service.ErrEmptyProject),
		errors.Is(err, service.ErrUnknownBackend),
		errors.Is(err, store.ErrInvalidOrder):
		return response.ValidationError(c, err.Error(), nil)
	case errors.Is(err, service.ErrRenderInFlight),
		errors.Is(err, service.ErrNotRetryable):
		return response.Conflict(c, err.Error())
	case errors.Is(err, service.ErrUnavailable):
		return response.ServiceUnavailable(c, err.Error())
	}
	return response.ServiceError(c, err.Error())
}
