// Package workerstore reads and writes records inside a single worker
// datastore. Every worker carries the same records table; the router
// talks to many workers through this one contract.
package workerstore

import (
	"context"
	"time"
)

// Record is one stored payload inside a worker node
type Record struct {
	Key        string    `json:"key"`
	RecordType string    `json:"record_type"`
	Payload    []byte    `json:"payload"`
	Owner      string    `json:"owner,omitempty"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Query filters a record search within one worker
type Query struct {
	RecordType string
	Owner      string
	Limit      int
	Offset     int
}

// Usage is the authoritative on-node footprint
type Usage struct {
	UsedBytes   int64
	RecordCount int64
}

// Store is the record surface of one worker node
type Store interface {
	// Ping verifies the node answers within the context deadline
	Ping(ctx context.Context) error

	// Put inserts or replaces the record for its key
	Put(ctx context.Context, rec *Record) error

	// Get returns the record for a key, or ErrRecordNotFound
	Get(ctx context.Context, key string) (*Record, error)

	// Delete removes the record for a key. Returns false when no record existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Search returns records matching the query, newest first
	Search(ctx context.Context, q Query) ([]*Record, error)

	// Usage reports the node's current footprint from the table itself
	Usage(ctx context.Context) (*Usage, error)

	Close() error
}
