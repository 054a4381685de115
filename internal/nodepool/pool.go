// Package nodepool keeps one live connection handle per worker node.
// Handles are created lazily on first use and reused until the node is
// released or the pool shuts down.
package nodepool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quiltdb/quilt/internal/logging"
	"github.com/quiltdb/quilt/internal/metadata"
	"github.com/quiltdb/quilt/internal/workerstore"
)

// Pool hands out worker store handles keyed by node id
type Pool interface {
	// Get returns the store for a node, opening it on first use
	Get(ctx context.Context, node *metadata.WorkerNode) (workerstore.Store, error)

	// Release closes and forgets the handle for a node
	Release(nodeID string)

	// Len returns the number of open handles
	Len() int

	// CloseAll closes every handle
	CloseAll()
}

// OpenFunc opens a store for a node. Injected in tests.
type OpenFunc func(ctx context.Context, node *metadata.WorkerNode) (workerstore.Store, error)

// entry is one node's slot in the pool. The open runs through once so
// concurrent Gets for the same node share a single open, while Gets
// for other nodes proceed without waiting on it.
type entry struct {
	once  sync.Once
	store workerstore.Store
	err   error
}

// Manager implements Pool with a mutex-guarded entry map. The lock is
// held only around map access; opening a store, which connects and
// ensures the worker schema, always runs outside it.
type Manager struct {
	mu          sync.RWMutex
	entries     map[string]*entry
	open        OpenFunc
	openTimeout time.Duration
	logger      *logging.Logger
}

// Config bounds connections per worker node
type Config struct {
	MaxOpenConns int
	MaxIdleConns int

	// OpenTimeout bounds the first open of a node's store, the only
	// pool operation that touches the network.
	OpenTimeout time.Duration
}

// NewManager creates a pool that opens SQL stores for worker nodes
func NewManager(logger *logging.Logger, cfg Config) *Manager {
	return &Manager{
		entries:     make(map[string]*entry),
		logger:      logger,
		openTimeout: cfg.OpenTimeout,
		open: func(ctx context.Context, node *metadata.WorkerNode) (workerstore.Store, error) {
			return workerstore.Open(ctx, node.DSN, workerstore.Options{
				MaxOpenConns: cfg.MaxOpenConns,
				MaxIdleConns: cfg.MaxIdleConns,
			})
		},
	}
}

// NewManagerWithOpener creates a pool with a custom store opener (tests)
func NewManagerWithOpener(logger *logging.Logger, open OpenFunc) *Manager {
	return &Manager{
		entries: make(map[string]*entry),
		logger:  logger,
		open:    open,
	}
}

// Get returns the store for a node, opening it on first use. A failed
// open is not cached; the next Get retries.
func (m *Manager) Get(ctx context.Context, node *metadata.WorkerNode) (workerstore.Store, error) {
	m.mu.RLock()
	e, exists := m.entries[node.ID]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		e, exists = m.entries[node.ID]
		if !exists {
			e = &entry{}
			m.entries[node.ID] = e
		}
		m.mu.Unlock()
	}

	e.once.Do(func() {
		openCtx := ctx
		if m.openTimeout > 0 {
			var cancel context.CancelFunc
			openCtx, cancel = context.WithTimeout(ctx, m.openTimeout)
			defer cancel()
		}
		e.store, e.err = m.open(openCtx, node)
		if e.err == nil {
			m.logger.Debug("Opened worker store", "node", node.Name, "node_id", node.ID)
		}
	})

	if e.err != nil {
		m.mu.Lock()
		if m.entries[node.ID] == e {
			delete(m.entries, node.ID)
		}
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to open store for node %s: %w", node.Name, e.err)
	}

	// The node may have been released while the open was in flight;
	// the freshly opened store must not outlive its entry.
	m.mu.RLock()
	current := m.entries[node.ID]
	m.mu.RUnlock()
	if current != e {
		_ = e.store.Close()
		return nil, fmt.Errorf("node %s was released while its store was opening", node.Name)
	}

	return e.store, nil
}

// Release closes and forgets the handle for a node
func (m *Manager) Release(nodeID string) {
	m.mu.Lock()
	e, exists := m.entries[nodeID]
	if exists {
		delete(m.entries, nodeID)
	}
	m.mu.Unlock()

	if !exists {
		return
	}

	// Claim the slot so an open that never started stays closed, and
	// wait out one that is in flight before touching e.store.
	e.once.Do(func() { e.err = fmt.Errorf("node released") })

	if e.store != nil {
		if err := e.store.Close(); err != nil {
			m.logger.Warn("Failed to close worker store", "node_id", nodeID, "error", err)
		}
	}
	m.logger.Debug("Released worker store", "node_id", nodeID)
}

// Len returns the number of open handles
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// CloseAll closes every handle
func (m *Manager) CloseAll() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	for nodeID, e := range entries {
		e.once.Do(func() { e.err = fmt.Errorf("pool closed") })
		if e.store == nil {
			continue
		}
		if err := e.store.Close(); err != nil {
			m.logger.Warn("Failed to close worker store", "node_id", nodeID, "error", err)
		}
	}
	m.logger.Info("Closed all worker stores")
}
