package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/quiltdb/quilt/internal/config"
)

// ErrNotFound is returned when a node, mapping or setting does not exist
var ErrNotFound = errors.New("not found")

// Well-known runtime setting keys
const (
	SettingSoftLimitMB   = "soft_limit_mb"
	SettingProberEnabled = "prober_enabled"
)

// Store is the metadata registry: worker nodes, key mappings and
// runtime settings. Implementations must be safe for concurrent use.
type Store interface {
	// Node registry
	ListNodes(ctx context.Context, filter NodeFilter) ([]*WorkerNode, error)
	GetNode(ctx context.Context, id string) (*WorkerNode, error)
	GetNodeByName(ctx context.Context, name string) (*WorkerNode, error)
	GetNodeByDSN(ctx context.Context, dsn string) (*WorkerNode, error)
	SaveNode(ctx context.Context, node *WorkerNode) error
	DeactivateNode(ctx context.Context, id string) error

	// SetCurrentWriter flags the given node as the single write target,
	// clearing the flag everywhere else. An empty id clears all flags.
	SetCurrentWriter(ctx context.Context, id string) error

	// Usage counters. AdjustNodeUsage applies deltas (clamped at zero),
	// SetNodeUsage overwrites with authoritative values from a probe.
	AdjustNodeUsage(ctx context.Context, id string, bytesDelta, recordsDelta int64) error
	SetNodeUsage(ctx context.Context, id string, usedBytes, recordCount int64) error
	SetNodeHealth(ctx context.Context, id string, status HealthStatus, latencyMillis int64) error

	// Key mappings. The WithUsage variants also apply the usage delta to
	// the owning node, transactionally when the backend supports it.
	GetMapping(ctx context.Context, key string) (*ShardMapping, error)
	PutMappingWithUsage(ctx context.Context, m *ShardMapping, bytesDelta, recordsDelta int64) error
	DeleteMappingWithUsage(ctx context.Context, key, nodeID string, bytesDelta, recordsDelta int64) error

	AggregateUsage(ctx context.Context) (*UsageSummary, error)

	// Runtime settings
	GetSetting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error

	Close() error
}

// NewStore creates a Store from configuration
func NewStore(cfg config.MetadataConfig) (Store, error) {
	switch cfg.Backend {
	case "postgres":
		return NewPostgresStore(cfg)
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported metadata backend: %s (supported: postgres, memory)", cfg.Backend)
	}
}
