package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quiltdb/quilt/internal/config"
	"github.com/quiltdb/quilt/internal/events"
	"github.com/quiltdb/quilt/internal/logging"
	"github.com/quiltdb/quilt/internal/metadata"
	"github.com/quiltdb/quilt/internal/nodepool"
)

const bytesPerMB = 1024 * 1024

// WriteTargetRouter owns the single-writer invariant: at most one
// active node carries the writer flag, and every transition happens
// under one mutex.
type WriteTargetRouter struct {
	logger  *logging.Logger
	store   metadata.Store
	pool    nodepool.Pool
	emitter *events.Emitter
	cfg     config.RouterConfig

	// mu serializes writer selection and hand-off. This is the only
	// lock in the routing path; record I/O never runs under it.
	mu sync.Mutex
}

// NewWriteTargetRouter creates the writer selector
func NewWriteTargetRouter(logger *logging.Logger, store metadata.Store, pool nodepool.Pool,
	emitter *events.Emitter, cfg config.RouterConfig,
) *WriteTargetRouter {
	return &WriteTargetRouter{
		logger:  logger,
		store:   store,
		pool:    pool,
		emitter: emitter,
		cfg:     cfg,
	}
}

// SoftLimitBytes resolves the per-node soft limit: the runtime setting
// overrides the configured default.
func (r *WriteTargetRouter) SoftLimitBytes(ctx context.Context) int64 {
	limitMB := r.cfg.SoftLimitMB

	if raw, err := r.store.GetSetting(ctx, metadata.SettingSoftLimitMB); err == nil {
		if parsed, perr := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); perr == nil && parsed > 0 {
			limitMB = parsed
		} else {
			r.logger.Warn("Ignoring malformed soft limit setting", "value", raw)
		}
	}

	return limitMB * bytesPerMB
}

// Acquire returns the node new records should be written to.
//
// The current writer is kept while it stays under the soft limit. When
// it crosses the limit its flag is cleared and the first under-limit
// active node in registration order is promoted. When nothing is
// eligible the registry is left with no writer and ErrNoWriterAvailable
// is returned; callers treat it as terminal.
func (r *WriteTargetRouter) Acquire(ctx context.Context) (*metadata.WorkerNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	limit := r.SoftLimitBytes(ctx)

	nodes, err := r.store.ListNodes(ctx, metadata.NodeFilter{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes for writer selection: %w", err)
	}

	var current *metadata.WorkerNode
	for _, n := range nodes {
		if n.IsCurrentWriter {
			current = n
			break
		}
	}

	if current != nil && current.UsedBytes < limit {
		return current, nil
	}

	// Demote-and-promote: the full (or missing) writer gives way to the
	// first eligible node in stable registration order.
	var next *metadata.WorkerNode
	for _, n := range nodes {
		if current != nil && n.ID == current.ID {
			continue
		}
		if n.UsedBytes < limit {
			next = n
			break
		}
	}

	if next == nil {
		// Exhausted: clear the stale flag so the registry reflects the
		// no-writer state, then fail the write.
		ev := events.Event{Type: events.TypeWriterExhausted, Reason: "capacity"}
		if current != nil {
			if err := r.store.SetCurrentWriter(ctx, ""); err != nil {
				r.logger.Error("Failed to clear writer flag on exhaustion", "error", err)
			}
			ev.PrevNodeID = current.ID
			ev.PrevNodeName = current.Name
		}
		r.emitter.Emit(ctx, ev)
		return nil, ErrNoWriterAvailable
	}

	if err := r.store.SetCurrentWriter(ctx, next.ID); err != nil {
		return nil, fmt.Errorf("failed to promote writer %s: %w", next.Name, err)
	}
	next.IsCurrentWriter = true

	ev := events.Event{
		Type:     events.TypeWriterSwitch,
		NodeID:   next.ID,
		NodeName: next.Name,
		Reason:   "bootstrap",
	}
	if current != nil {
		ev.PrevNodeID = current.ID
		ev.PrevNodeName = current.Name
		ev.Reason = "capacity"
	}
	r.emitter.Emit(ctx, ev)

	r.logger.Info("Writer switched",
		"node", next.Name,
		"reason", ev.Reason,
		"previous", ev.PrevNodeName)

	return next, nil
}

// RegisterRequest describes a node to add to the fleet
type RegisterRequest struct {
	Name          string
	DSN           string
	Notes         string
	AddedBy       string
	CapacityBytes int64
}

// RegisterNode validates the descriptor, proves the node answers, then
// persists it. The first active node becomes the writer.
func (r *WriteTargetRouter) RegisterNode(ctx context.Context, req RegisterRequest) (*metadata.WorkerNode, error) {
	if req.Name == "" || req.DSN == "" {
		return nil, fmt.Errorf("node name and dsn are required")
	}

	if _, err := r.store.GetNodeByName(ctx, req.Name); err == nil {
		return nil, fmt.Errorf("%w: name %s", ErrNodeExists, req.Name)
	} else if !errors.Is(err, metadata.ErrNotFound) {
		return nil, fmt.Errorf("failed to check node name: %w", err)
	}

	if _, err := r.store.GetNodeByDSN(ctx, req.DSN); err == nil {
		return nil, fmt.Errorf("%w: descriptor already registered", ErrNodeExists)
	} else if !errors.Is(err, metadata.ErrNotFound) {
		return nil, fmt.Errorf("failed to check node descriptor: %w", err)
	}

	capacity := req.CapacityBytes
	if capacity <= 0 {
		capacity = r.cfg.SoftLimitMB * bytesPerMB
	}

	node := &metadata.WorkerNode{
		ID:            uuid.New().String(),
		Name:          req.Name,
		DSN:           req.DSN,
		Active:        true,
		CapacityBytes: capacity,
		HealthStatus:  metadata.HealthUnknown,
		AddedBy:       req.AddedBy,
		Notes:         req.Notes,
		CreatedAt:     time.Now().UTC(),
	}

	// Prove the node answers before it joins the fleet. Opening also
	// ensures the records table exists.
	probeCtx, cancel := context.WithTimeout(ctx, r.cfg.NodeTimeout)
	defer cancel()

	started := time.Now()
	ws, err := r.pool.Get(probeCtx, node)
	if err == nil {
		err = ws.Ping(probeCtx)
	}
	if err != nil {
		r.pool.Release(node.ID)
		r.logger.Warn("Node registration failed connectivity check",
			"node", node.Name, "dsn", metadata.MaskDSN(node.DSN), "error", err)
		return nil, fmt.Errorf("%w: %s", ErrNodeUnavailable, node.Name)
	}
	node.HealthStatus = metadata.HealthOnline
	node.LatencyMillis = time.Since(started).Milliseconds()
	now := time.Now().UTC()
	node.LastProbedAt = &now

	if err := r.store.SaveNode(ctx, node); err != nil {
		r.pool.Release(node.ID)
		return nil, fmt.Errorf("failed to persist node: %w", err)
	}

	// First active node bootstraps the writer flag. Under mu so a
	// concurrent Acquire cannot double-flag.
	r.mu.Lock()
	summary, serr := r.store.AggregateUsage(ctx)
	if serr == nil && summary.CurrentWriter == "" {
		if err := r.store.SetCurrentWriter(ctx, node.ID); err != nil {
			r.logger.Error("Failed to bootstrap writer flag", "node", node.Name, "error", err)
		} else {
			node.IsCurrentWriter = true
		}
	}
	r.mu.Unlock()

	r.emitter.Emit(ctx, events.Event{
		Type:     events.TypeNodeRegistered,
		NodeID:   node.ID,
		NodeName: node.Name,
		Actor:    req.AddedBy,
	})

	r.logger.Info("Worker node registered",
		"node", node.Name,
		"dsn", metadata.MaskDSN(node.DSN),
		"writer", node.IsCurrentWriter,
		"added_by", req.AddedBy)

	return node, nil
}

// DeactivateNode soft-deletes a node. Mappings pointing at it survive;
// reads against them surface ErrNodeUnavailable.
func (r *WriteTargetRouter) DeactivateNode(ctx context.Context, id, actor string) error {
	node, err := r.store.GetNode(ctx, id)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load node: %w", err)
	}

	r.mu.Lock()
	err = r.store.DeactivateNode(ctx, id)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to deactivate node %s: %w", node.Name, err)
	}

	r.pool.Release(id)

	r.emitter.Emit(ctx, events.Event{
		Type:     events.TypeNodeDeactivated,
		NodeID:   node.ID,
		NodeName: node.Name,
		Actor:    actor,
	})

	r.logger.Info("Worker node deactivated", "node", node.Name, "actor", actor)
	return nil
}
