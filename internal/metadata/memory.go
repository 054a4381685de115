package metadata

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store with in-process maps.
// Used for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	nodes    map[string]*WorkerNode
	mappings map[string]*ShardMapping
	settings map[string]string
}

// NewMemoryStore creates an empty in-memory registry
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:    make(map[string]*WorkerNode),
		mappings: make(map[string]*ShardMapping),
		settings: make(map[string]string),
	}
}

func copyNode(n *WorkerNode) *WorkerNode {
	c := *n
	if n.LastProbedAt != nil {
		t := *n.LastProbedAt
		c.LastProbedAt = &t
	}
	return &c
}

// ListNodes returns nodes in stable registration order
func (s *MemoryStore) ListNodes(ctx context.Context, filter NodeFilter) ([]*WorkerNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]*WorkerNode, 0, len(s.nodes))
	for _, n := range s.nodes {
		if filter.ActiveOnly && !n.Active {
			continue
		}
		nodes = append(nodes, copyNode(n))
	}

	sort.Slice(nodes, func(i, j int) bool {
		if !nodes[i].CreatedAt.Equal(nodes[j].CreatedAt) {
			return nodes[i].CreatedAt.Before(nodes[j].CreatedAt)
		}
		return nodes[i].ID < nodes[j].ID
	})

	return nodes, nil
}

// GetNode returns a node by id
func (s *MemoryStore) GetNode(ctx context.Context, id string) (*WorkerNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n, ok := s.nodes[id]; ok {
		return copyNode(n), nil
	}
	return nil, ErrNotFound
}

// GetNodeByName returns a node by its unique name
func (s *MemoryStore) GetNodeByName(ctx context.Context, name string) (*WorkerNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.nodes {
		if n.Name == name {
			return copyNode(n), nil
		}
	}
	return nil, ErrNotFound
}

// GetNodeByDSN returns a node by its connection descriptor
func (s *MemoryStore) GetNodeByDSN(ctx context.Context, dsn string) (*WorkerNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.nodes {
		if n.DSN == dsn {
			return copyNode(n), nil
		}
	}
	return nil, ErrNotFound
}

// SaveNode inserts or updates a node by id
func (s *MemoryStore) SaveNode(ctx context.Context, node *WorkerNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes[node.ID] = copyNode(node)
	return nil
}

// DeactivateNode soft-deletes a node and clears its writer flag
func (s *MemoryStore) DeactivateNode(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return ErrNotFound
	}
	n.Active = false
	n.IsCurrentWriter = false
	return nil
}

// SetCurrentWriter clears all writer flags and sets the given node's flag
func (s *MemoryStore) SetCurrentWriter(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if _, ok := s.nodes[id]; !ok {
			return ErrNotFound
		}
	}

	for _, n := range s.nodes {
		n.IsCurrentWriter = n.ID == id && id != ""
	}
	return nil
}

// AdjustNodeUsage applies usage deltas, clamping counters at zero
func (s *MemoryStore) AdjustNodeUsage(ctx context.Context, id string, bytesDelta, recordsDelta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return ErrNotFound
	}
	n.UsedBytes = max64(0, n.UsedBytes+bytesDelta)
	n.RecordCount = max64(0, n.RecordCount+recordsDelta)
	return nil
}

// SetNodeUsage overwrites usage counters with authoritative values
func (s *MemoryStore) SetNodeUsage(ctx context.Context, id string, usedBytes, recordCount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return ErrNotFound
	}
	n.UsedBytes = usedBytes
	n.RecordCount = recordCount
	return nil
}

// SetNodeHealth records the latest probe outcome
func (s *MemoryStore) SetNodeHealth(ctx context.Context, id string, status HealthStatus, latencyMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	n.HealthStatus = status
	n.LatencyMillis = latencyMillis
	n.LastProbedAt = &now
	return nil
}

// GetMapping returns the mapping for a key
func (s *MemoryStore) GetMapping(ctx context.Context, key string) (*ShardMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if m, ok := s.mappings[key]; ok {
		c := *m
		return &c, nil
	}
	return nil, ErrNotFound
}

// PutMappingWithUsage upserts the mapping and adjusts the owning node's counters
func (s *MemoryStore) PutMappingWithUsage(ctx context.Context, m *ShardMapping, bytesDelta, recordsDelta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.mappings[m.Key]; ok {
		existing.RecordType = m.RecordType
		existing.SizeBytes = m.SizeBytes
		existing.UpdatedAt = now
	} else {
		c := *m
		c.CreatedAt = now
		c.UpdatedAt = now
		s.mappings[m.Key] = &c
	}

	if n, ok := s.nodes[m.NodeID]; ok {
		n.UsedBytes = max64(0, n.UsedBytes+bytesDelta)
		n.RecordCount = max64(0, n.RecordCount+recordsDelta)
	}
	return nil
}

// DeleteMappingWithUsage removes the mapping and adjusts the owning node's counters
func (s *MemoryStore) DeleteMappingWithUsage(ctx context.Context, key, nodeID string, bytesDelta, recordsDelta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mappings[key]; !ok {
		return ErrNotFound
	}
	delete(s.mappings, key)

	if n, ok := s.nodes[nodeID]; ok {
		n.UsedBytes = max64(0, n.UsedBytes+bytesDelta)
		n.RecordCount = max64(0, n.RecordCount+recordsDelta)
	}
	return nil
}

// AggregateUsage sums counters over active nodes
func (s *MemoryStore) AggregateUsage(ctx context.Context) (*UsageSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var summary UsageSummary
	for _, n := range s.nodes {
		if !n.Active {
			continue
		}
		summary.ActiveNodes++
		summary.TotalUsedBytes += n.UsedBytes
		summary.TotalCapacityBytes += n.CapacityBytes
		summary.TotalRecords += n.RecordCount
		if n.IsCurrentWriter {
			summary.CurrentWriter = n.Name
		}
	}
	return &summary, nil
}

// GetSetting returns a runtime setting value
func (s *MemoryStore) GetSetting(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.settings[key]; ok {
		return v, nil
	}
	return "", ErrNotFound
}

// PutSetting upserts a runtime setting
func (s *MemoryStore) PutSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[key] = value
	return nil
}

// Close is a no-op for the in-memory registry
func (s *MemoryStore) Close() error {
	return nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
