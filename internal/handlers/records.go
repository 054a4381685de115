package handlers

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/quiltdb/quilt/internal/coordinator"
	"github.com/quiltdb/quilt/internal/logging"
	"github.com/quiltdb/quilt/internal/models"
)

const maxSearchLimit = 1000

// WriteRecord stores a record on the current writer. Re-writing an
// existing key updates it in place on its original node.
func (h *Handler) WriteRecord(c *fiber.Ctx) error {
	var req models.WriteRecordRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "INVALID_REQUEST", "Invalid request body: "+err.Error())
	}

	if req.RecordType == "" {
		return badRequest(c, "INVALID_RECORD_TYPE", "record_type is required")
	}
	if len(req.Payload) == 0 || string(req.Payload) == "null" {
		return badRequest(c, "INVALID_PAYLOAD", "payload is required")
	}
	if !json.Valid(req.Payload) {
		return badRequest(c, "INVALID_PAYLOAD", "payload must be valid JSON")
	}
	if len(req.Key) > 128 {
		return badRequest(c, "INVALID_KEY", "key must not exceed 128 characters")
	}

	res, err := h.records.Write(c.UserContext(), coordinator.WriteRequest{
		Key:        req.Key,
		RecordType: req.RecordType,
		Payload:    req.Payload,
		Owner:      req.Owner,
	})
	if err != nil {
		return h.respondError(c, err)
	}

	status := fiber.StatusCreated
	if res.Updated {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(models.WriteRecordResponse{
		Key:       res.Key,
		Node:      res.NodeName,
		SizeBytes: res.SizeBytes,
		Updated:   res.Updated,
	})
}

// ReadRecord returns a record by key with its provenance
func (h *Handler) ReadRecord(c *fiber.Ctx) error {
	key := c.Params("key")
	if key == "" {
		return badRequest(c, "INVALID_KEY", "key is required")
	}

	res, err := h.records.Read(c.UserContext(), key)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(recordToResponse(res))
}

// SearchRecords queries every active node and merges the results
func (h *Handler) SearchRecords(c *fiber.Ctx) error {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxSearchLimit {
			return badRequest(c, "INVALID_LIMIT",
				"limit must be a positive integer up to "+strconv.Itoa(maxSearchLimit))
		}
		limit = parsed
	}

	page := 0
	if raw := c.Query("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return badRequest(c, "INVALID_PAGE", "page must be a non-negative integer")
		}
		page = parsed
	}

	res, err := h.records.Search(c.UserContext(), coordinator.SearchQuery{
		RecordType: c.Query("type"),
		Owner:      c.Query("owner"),
		Page:       page,
		Limit:      limit,
	})
	if err != nil {
		return h.respondError(c, err)
	}

	resp := models.SearchResponse{
		Records:     make([]models.RecordResponse, 0, len(res.Records)),
		TotalNodes:  res.TotalNodes,
		FailedNodes: res.FailedNodes,
	}
	for _, r := range res.Records {
		resp.Records = append(resp.Records, recordToResponse(r))
	}
	resp.Count = len(resp.Records)

	return c.JSON(resp)
}

// DeleteRecord removes a record and its mapping
func (h *Handler) DeleteRecord(c *fiber.Ctx) error {
	key := c.Params("key")
	if key == "" {
		return badRequest(c, "INVALID_KEY", "key is required")
	}

	actor := c.Query("by")
	if actor == "" {
		actor = logging.ActorFromContext(c.UserContext())
	}
	if err := h.records.Delete(c.UserContext(), key, actor); err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(models.DeleteRecordResponse{Key: key, Deleted: true})
}

func recordToResponse(r *coordinator.ReadResult) models.RecordResponse {
	rec := r.Record
	return models.RecordResponse{
		Key:        rec.Key,
		RecordType: rec.RecordType,
		Payload:    json.RawMessage(rec.Payload),
		Owner:      rec.Owner,
		SizeBytes:  rec.SizeBytes,
		Node:       r.NodeName,
		CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  rec.UpdatedAt.Format(time.RFC3339),
	}
}
