package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/quiltdb/quilt/internal/config"
	"github.com/quiltdb/quilt/internal/events"
	"github.com/quiltdb/quilt/internal/logging"
	"github.com/quiltdb/quilt/internal/metadata"
	"github.com/quiltdb/quilt/internal/nodepool"
	"github.com/quiltdb/quilt/internal/workerstore"
)

const capacityWarningRatio = 0.9

// RecordCoordinator routes record operations across the fleet: writes
// land on the current writer, reads follow the key's mapping, searches
// scatter to every active node.
type RecordCoordinator struct {
	logger  *logging.Logger
	store   metadata.Store
	pool    nodepool.Pool
	writer  *WriteTargetRouter
	emitter *events.Emitter
	cfg     config.RouterConfig
}

// NewRecordCoordinator creates the record router
func NewRecordCoordinator(logger *logging.Logger, store metadata.Store, pool nodepool.Pool,
	writer *WriteTargetRouter, emitter *events.Emitter, cfg config.RouterConfig,
) *RecordCoordinator {
	return &RecordCoordinator{
		logger:  logger,
		store:   store,
		pool:    pool,
		writer:  writer,
		emitter: emitter,
		cfg:     cfg,
	}
}

// WriteRequest carries one record to store
type WriteRequest struct {
	Key        string // Empty generates a key
	RecordType string
	Payload    []byte // Serialized payload; its length is the accounted size
	Owner      string
}

// WriteResult reports where a record landed
type WriteResult struct {
	Key       string `json:"key"`
	NodeID    string `json:"node_id"`
	NodeName  string `json:"node"`
	SizeBytes int64  `json:"size_bytes"`
	Updated   bool   `json:"updated"`
}

// ReadResult is a record plus its provenance
type ReadResult struct {
	Record   *workerstore.Record `json:"record"`
	NodeID   string              `json:"node_id"`
	NodeName string              `json:"node"`
}

// SearchQuery filters a fleet-wide search
type SearchQuery struct {
	RecordType string
	Owner      string
	Page       int // Zero-based
	Limit      int
}

// SearchResult aggregates per-node results. Nodes that failed are
// listed, never fatal.
type SearchResult struct {
	Records     []*ReadResult `json:"records"`
	FailedNodes []string      `json:"failed_nodes,omitempty"`
	TotalNodes  int           `json:"total_nodes"`
}

func (c *RecordCoordinator) nodeStore(ctx context.Context, node *metadata.WorkerNode) (workerstore.Store, error) {
	ws, err := c.pool.Get(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeUnavailable, node.Name)
	}
	return ws, nil
}

// Write stores a record. A key that already has a mapping is updated in
// place on its original node; new keys go to the current writer.
func (c *RecordCoordinator) Write(ctx context.Context, req WriteRequest) (*WriteResult, error) {
	if len(req.Payload) == 0 {
		return nil, fmt.Errorf("payload is required")
	}

	key := req.Key
	if key == "" {
		key = uuid.New().String()
	}

	size := int64(len(req.Payload))

	mapping, err := c.store.GetMapping(ctx, key)
	if err != nil && !errors.Is(err, metadata.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up mapping: %w", err)
	}

	if mapping != nil {
		return c.updateExisting(ctx, req, key, size, mapping)
	}

	// New key: route to the current writer. Exhaustion propagates
	// untouched and leaves no mapping behind.
	node, err := c.writer.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.putOnNode(ctx, node, key, req, size); err != nil {
		return nil, err
	}

	newMapping := &metadata.ShardMapping{
		Key:        key,
		RecordType: req.RecordType,
		NodeID:     node.ID,
		SizeBytes:  size,
	}
	if err := c.store.PutMappingWithUsage(ctx, newMapping, size, 1); err != nil {
		// Record landed but the registry write failed. Surface the error;
		// the prober reconciles the counters on its next cycle.
		return nil, fmt.Errorf("record stored on %s but mapping failed: %w", node.Name, err)
	}

	c.maybeWarnCapacity(ctx, node, node.UsedBytes+size)

	c.logger.Debug("Record written", "key", key, "node", node.Name, "size_bytes", size)

	return &WriteResult{Key: key, NodeID: node.ID, NodeName: node.Name, SizeBytes: size}, nil
}

// updateExisting rewrites a record on the node its mapping names.
// The writer flag is irrelevant here; updates never move records. A
// mapping owned by a deactivated node is refused the same way reads
// are, so the released pool handle stays closed.
func (c *RecordCoordinator) updateExisting(ctx context.Context, req WriteRequest, key string, size int64, mapping *metadata.ShardMapping) (*WriteResult, error) {
	node, err := c.store.GetNode(ctx, mapping.NodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load owning node: %w", err)
	}
	if !node.Active {
		return nil, fmt.Errorf("%w: %s is deactivated", ErrNodeUnavailable, node.Name)
	}

	if err := c.putOnNode(ctx, node, key, req, size); err != nil {
		return nil, err
	}

	sizeDelta := size - mapping.SizeBytes
	updated := &metadata.ShardMapping{
		Key:        key,
		RecordType: req.RecordType,
		NodeID:     mapping.NodeID,
		SizeBytes:  size,
	}
	if err := c.store.PutMappingWithUsage(ctx, updated, sizeDelta, 0); err != nil {
		return nil, fmt.Errorf("record updated on %s but mapping refresh failed: %w", node.Name, err)
	}

	c.maybeWarnCapacity(ctx, node, node.UsedBytes+sizeDelta)

	c.logger.Debug("Record updated in place",
		"key", key, "node", node.Name, "size_bytes", size, "size_delta", sizeDelta)

	return &WriteResult{Key: key, NodeID: node.ID, NodeName: node.Name, SizeBytes: size, Updated: true}, nil
}

func (c *RecordCoordinator) putOnNode(ctx context.Context, node *metadata.WorkerNode, key string, req WriteRequest, size int64) error {
	ws, err := c.nodeStore(ctx, node)
	if err != nil {
		return err
	}

	nodeCtx, cancel := context.WithTimeout(ctx, c.cfg.NodeTimeout)
	defer cancel()

	rec := &workerstore.Record{
		Key:        key,
		RecordType: req.RecordType,
		Payload:    req.Payload,
		Owner:      req.Owner,
		SizeBytes:  size,
	}
	if err := ws.Put(nodeCtx, rec); err != nil {
		c.logger.Warn("Worker write failed", "key", key, "node", node.Name, "error", err)
		return fmt.Errorf("%w: %s", ErrNodeUnavailable, node.Name)
	}
	return nil
}

// maybeWarnCapacity emits a capacity warning when projected usage
// crosses 90% of the soft limit
func (c *RecordCoordinator) maybeWarnCapacity(ctx context.Context, node *metadata.WorkerNode, projectedBytes int64) {
	limit := c.writer.SoftLimitBytes(ctx)
	if limit <= 0 {
		return
	}
	if float64(projectedBytes) >= capacityWarningRatio*float64(limit) {
		c.emitter.Emit(ctx, events.Event{
			Type:     events.TypeCapacityWarning,
			NodeID:   node.ID,
			NodeName: node.Name,
			Reason:   fmt.Sprintf("used %d of %d bytes", projectedBytes, limit),
		})
	}
}

// Read returns the record for a key with provenance.
//
// No mapping is ErrNotFound. An unreachable or inactive owning node is
// ErrNodeUnavailable. A mapping whose node answers but holds no record
// is ErrMissingInWorker: the inconsistency is reported, not repaired.
func (c *RecordCoordinator) Read(ctx context.Context, key string) (*ReadResult, error) {
	mapping, err := c.store.GetMapping(ctx, key)
	if errors.Is(err, metadata.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up mapping: %w", err)
	}

	node, err := c.store.GetNode(ctx, mapping.NodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load owning node: %w", err)
	}
	if !node.Active {
		return nil, fmt.Errorf("%w: %s is deactivated", ErrNodeUnavailable, node.Name)
	}

	ws, err := c.nodeStore(ctx, node)
	if err != nil {
		return nil, err
	}

	nodeCtx, cancel := context.WithTimeout(ctx, c.cfg.NodeTimeout)
	defer cancel()

	rec, err := ws.Get(nodeCtx, key)
	if errors.Is(err, workerstore.ErrRecordNotFound) {
		c.logger.Error("Mapping points at a record the worker does not hold",
			"key", key, "node", node.Name)
		return nil, fmt.Errorf("%w: key %s mapped to %s", ErrMissingInWorker, key, node.Name)
	}
	if err != nil {
		c.logger.Warn("Worker read failed", "key", key, "node", node.Name, "error", err)
		return nil, fmt.Errorf("%w: %s", ErrNodeUnavailable, node.Name)
	}

	return &ReadResult{Record: rec, NodeID: node.ID, NodeName: node.Name}, nil
}

// nodeSearchResult carries one node's slice of a scattered search
type nodeSearchResult struct {
	node    *metadata.WorkerNode
	records []*workerstore.Record
	err     error
}

// Search scatters the query to every active node in parallel and
// concatenates the results. A failing node is skipped and reported.
func (c *RecordCoordinator) Search(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	nodes, err := c.store.ListNodes(ctx, metadata.NodeFilter{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes for search: %w", err)
	}

	if len(nodes) == 0 {
		return &SearchResult{Records: []*ReadResult{}}, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := 0
	if q.Page > 0 {
		offset = q.Page * limit
	}
	wq := workerstore.Query{
		RecordType: q.RecordType,
		Owner:      q.Owner,
		Limit:      limit,
		Offset:     offset,
	}

	var wg sync.WaitGroup
	resultsChan := make(chan nodeSearchResult, len(nodes))

	for _, node := range nodes {
		wg.Add(1)
		go func(node *metadata.WorkerNode) {
			defer wg.Done()

			ws, err := c.nodeStore(ctx, node)
			if err != nil {
				resultsChan <- nodeSearchResult{node: node, err: err}
				return
			}

			nodeCtx, cancel := context.WithTimeout(ctx, c.cfg.NodeTimeout)
			defer cancel()

			records, err := ws.Search(nodeCtx, wq)
			resultsChan <- nodeSearchResult{node: node, records: records, err: err}
		}(node)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	result := &SearchResult{Records: []*ReadResult{}, TotalNodes: len(nodes)}
	for nr := range resultsChan {
		if nr.err != nil {
			result.FailedNodes = append(result.FailedNodes, nr.node.Name)
			c.logger.Warn("Node search failed", "node", nr.node.Name, "error", nr.err)
			continue
		}
		for _, rec := range nr.records {
			result.Records = append(result.Records, &ReadResult{
				Record:   rec,
				NodeID:   nr.node.ID,
				NodeName: nr.node.Name,
			})
		}
	}

	// Deterministic order across nodes: newest first, key breaks ties
	sort.Slice(result.Records, func(i, j int) bool {
		ri, rj := result.Records[i].Record, result.Records[j].Record
		if !ri.CreatedAt.Equal(rj.CreatedAt) {
			return ri.CreatedAt.After(rj.CreatedAt)
		}
		return ri.Key < rj.Key
	})
	sort.Strings(result.FailedNodes)

	if len(result.FailedNodes) > 0 {
		c.logger.Warn("Search completed with partial data",
			"total_nodes", len(nodes),
			"failed_nodes", result.FailedNodes)
	}

	return result, nil
}

// Delete removes a record and its mapping. A key without a mapping is
// ErrNotFound; callers treat it as a normal outcome.
func (c *RecordCoordinator) Delete(ctx context.Context, key, actor string) error {
	mapping, err := c.store.GetMapping(ctx, key)
	if errors.Is(err, metadata.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up mapping: %w", err)
	}

	node, err := c.store.GetNode(ctx, mapping.NodeID)
	if err != nil {
		return fmt.Errorf("failed to load owning node: %w", err)
	}
	if !node.Active {
		return fmt.Errorf("%w: %s is deactivated", ErrNodeUnavailable, node.Name)
	}

	ws, err := c.nodeStore(ctx, node)
	if err != nil {
		return err
	}

	nodeCtx, cancel := context.WithTimeout(ctx, c.cfg.NodeTimeout)
	defer cancel()

	existed, err := ws.Delete(nodeCtx, key)
	if err != nil {
		c.logger.Warn("Worker delete failed", "key", key, "node", node.Name, "error", err)
		return fmt.Errorf("%w: %s", ErrNodeUnavailable, node.Name)
	}
	if !existed {
		// Mapping without a record: clean up the mapping anyway and flag
		// the drift.
		c.logger.Error("Delete found mapping without record",
			"key", key, "node", node.Name)
	}

	if err := c.store.DeleteMappingWithUsage(ctx, key, node.ID, -mapping.SizeBytes, -1); err != nil {
		return fmt.Errorf("record deleted on %s but mapping removal failed: %w", node.Name, err)
	}

	c.logger.Info("Record deleted", "key", key, "node", node.Name, "actor", actor)
	return nil
}
