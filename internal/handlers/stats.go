package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/quiltdb/quilt/internal/models"
)

// Stats returns fleet-wide usage totals and the current writer
func (h *Handler) Stats(c *fiber.Ctx) error {
	summary, err := h.store.AggregateUsage(c.UserContext())
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(models.StatsResponse{
		ActiveNodes:        summary.ActiveNodes,
		TotalUsedBytes:     summary.TotalUsedBytes,
		TotalCapacityBytes: summary.TotalCapacityBytes,
		TotalRecords:       summary.TotalRecords,
		CurrentWriter:      summary.CurrentWriter,
		SoftLimitMB:        h.writer.SoftLimitBytes(c.UserContext()) / bytesPerMB,
	})
}
