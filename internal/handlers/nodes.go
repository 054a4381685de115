package handlers

import (
	"errors"
	"regexp"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/quiltdb/quilt/internal/coordinator"
	"github.com/quiltdb/quilt/internal/logging"
	"github.com/quiltdb/quilt/internal/metadata"
	"github.com/quiltdb/quilt/internal/models"
)

var nodeNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const bytesPerMB = 1024 * 1024

// AddNode registers a new worker node
func (h *Handler) AddNode(c *fiber.Ctx) error {
	var req models.AddNodeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "INVALID_REQUEST", "Invalid request body: "+err.Error())
	}

	if req.Name == "" || !nodeNameRegex.MatchString(req.Name) {
		return badRequest(c, "INVALID_NAME",
			"Node name must contain only alphanumeric characters, underscores, and hyphens")
	}
	if len(req.Name) > 64 {
		return badRequest(c, "INVALID_NAME", "Node name must not exceed 64 characters")
	}
	if req.DSN == "" {
		return badRequest(c, "INVALID_DSN", "Connection descriptor is required")
	}

	actor := logging.ActorFromContext(c.UserContext())

	node, err := h.writer.RegisterNode(c.UserContext(), coordinator.RegisterRequest{
		Name:          req.Name,
		DSN:           req.DSN,
		Notes:         req.Notes,
		AddedBy:       actor,
		CapacityBytes: req.CapacityMB * bytesPerMB,
	})
	if err != nil {
		return h.respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(nodeToResponse(node, h.writer.SoftLimitBytes(c.UserContext())))
}

// ListNodes returns registered worker nodes. By default only active
// nodes are listed; ?all=true includes deactivated ones.
func (h *Handler) ListNodes(c *fiber.Ctx) error {
	filter := metadata.NodeFilter{ActiveOnly: c.Query("all") != "true"}

	nodes, err := h.store.ListNodes(c.UserContext(), filter)
	if err != nil {
		return h.respondError(c, err)
	}

	limit := h.writer.SoftLimitBytes(c.UserContext())
	resp := models.NodeListResponse{Nodes: make([]models.NodeResponse, 0, len(nodes))}
	for _, n := range nodes {
		resp.Nodes = append(resp.Nodes, nodeToResponse(n, limit))
	}
	resp.Count = len(resp.Nodes)

	return c.JSON(resp)
}

// GetNode returns one worker node by id
func (h *Handler) GetNode(c *fiber.Ctx) error {
	node, err := h.store.GetNode(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return h.respondError(c, coordinator.ErrNotFound)
		}
		return h.respondError(c, err)
	}
	return c.JSON(nodeToResponse(node, h.writer.SoftLimitBytes(c.UserContext())))
}

// RemoveNode deactivates a worker node. Records mapped to it stay in
// place and become unavailable.
func (h *Handler) RemoveNode(c *fiber.Ctx) error {
	actor := logging.ActorFromContext(c.UserContext())

	if err := h.writer.DeactivateNode(c.UserContext(), c.Params("id"), actor); err != nil {
		return h.respondError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// PingNodes probes every active node on demand
func (h *Handler) PingNodes(c *fiber.Ctx) error {
	report, err := h.prober.ProbeAll(c.UserContext())
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(report)
}

func nodeToResponse(n *metadata.WorkerNode, softLimitBytes int64) models.NodeResponse {
	resp := models.NodeResponse{
		ID:            n.ID,
		Name:          n.Name,
		DSN:           metadata.MaskDSN(n.DSN),
		Active:        n.Active,
		CurrentWriter: n.IsCurrentWriter,
		UsedBytes:     n.UsedBytes,
		CapacityBytes: n.CapacityBytes,
		RecordCount:   n.RecordCount,
		UsageRatio:    n.UsageRatio(softLimitBytes),
		HealthStatus:  string(n.HealthStatus),
		LatencyMillis: n.LatencyMillis,
		AddedBy:       n.AddedBy,
		Notes:         n.Notes,
		CreatedAt:     n.CreatedAt.Format(time.RFC3339),
	}
	if n.LastProbedAt != nil {
		probed := n.LastProbedAt.Format(time.RFC3339)
		resp.LastProbedAt = &probed
	}
	return resp
}
