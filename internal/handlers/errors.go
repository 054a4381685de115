package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/quiltdb/quilt/internal/coordinator"
	"github.com/quiltdb/quilt/internal/models"
)

// respondError maps routing errors onto stable API error codes.
// Anything unrecognized is an internal error with a generic message.
func (h *Handler) respondError(c *fiber.Ctx, err error) error {
	var code string
	var status int

	switch {
	case errors.Is(err, coordinator.ErrNoWriterAvailable):
		status, code = fiber.StatusServiceUnavailable, "NO_WRITER_AVAILABLE"
	case errors.Is(err, coordinator.ErrNodeUnavailable):
		status, code = fiber.StatusServiceUnavailable, "NODE_UNAVAILABLE"
	case errors.Is(err, coordinator.ErrNotFound):
		status, code = fiber.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, coordinator.ErrMissingInWorker):
		status, code = fiber.StatusBadGateway, "MISSING_IN_WORKER"
	case errors.Is(err, coordinator.ErrNodeExists):
		status, code = fiber.StatusConflict, "NODE_EXISTS"
	default:
		h.logger.Error("Request failed", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    "INTERNAL_ERROR",
				Message: "Internal server error",
				Path:    c.Path(),
			},
		})
	}

	return c.Status(status).JSON(models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    code,
			Message: err.Error(),
			Path:    c.Path(),
		},
	})
}

func badRequest(c *fiber.Ctx, code, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    code,
			Message: message,
			Path:    c.Path(),
		},
	})
}
