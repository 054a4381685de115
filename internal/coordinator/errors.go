package coordinator

import "errors"

var (
	// ErrNoWriterAvailable means every active node is at or over the soft
	// limit. Terminal for the write that hit it; the registry is left with
	// no writer flagged.
	ErrNoWriterAvailable = errors.New("no writer available: all active nodes are at capacity")

	// ErrNotFound means no mapping exists for the key. Expected outcome,
	// not a fault.
	ErrNotFound = errors.New("record not found")

	// ErrNodeUnavailable means the owning node is inactive or did not
	// answer within the deadline.
	ErrNodeUnavailable = errors.New("worker node unavailable")

	// ErrMissingInWorker means the registry maps the key to a node but the
	// node holds no such record. Reported, never repaired silently.
	ErrMissingInWorker = errors.New("record missing in worker node")

	// ErrNodeExists means a node with the same name or connection
	// descriptor is already registered.
	ErrNodeExists = errors.New("worker node already registered")
)
