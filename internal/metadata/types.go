package metadata

import (
	"net/url"
	"strings"
	"time"
)

// HealthStatus is the last observed liveness of a worker node
type HealthStatus string

const (
	HealthUnknown HealthStatus = "unknown"
	HealthOnline  HealthStatus = "online"
	HealthOffline HealthStatus = "offline"
)

// WorkerNode represents a registered worker datastore
type WorkerNode struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	DSN             string       `json:"-"` // Never serialized or logged in full
	Active          bool         `json:"active"`
	IsCurrentWriter bool         `json:"is_current_writer"`
	UsedBytes       int64        `json:"used_bytes"`
	CapacityBytes   int64        `json:"capacity_bytes"`
	RecordCount     int64        `json:"record_count"`
	HealthStatus    HealthStatus `json:"health_status"`
	LatencyMillis   int64        `json:"latency_ms"`
	LastProbedAt    *time.Time   `json:"last_probed_at,omitempty"`
	AddedBy         string       `json:"added_by,omitempty"`
	Notes           string       `json:"notes,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// UsageRatio returns used capacity as a fraction of the given soft limit
func (n *WorkerNode) UsageRatio(softLimitBytes int64) float64 {
	if softLimitBytes <= 0 {
		return 0
	}
	return float64(n.UsedBytes) / float64(softLimitBytes)
}

// ShardMapping records which node holds the record for a key.
// Exactly one mapping exists per key.
type ShardMapping struct {
	Key        string    `json:"key"`
	RecordType string    `json:"record_type"`
	NodeID     string    `json:"node_id"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NodeFilter narrows ListNodes results
type NodeFilter struct {
	ActiveOnly bool
}

// UsageSummary aggregates registry-wide usage counters
type UsageSummary struct {
	ActiveNodes        int    `json:"active_nodes"`
	TotalUsedBytes     int64  `json:"total_used_bytes"`
	TotalCapacityBytes int64  `json:"total_capacity_bytes"`
	TotalRecords       int64  `json:"total_records"`
	CurrentWriter      string `json:"current_writer,omitempty"`
}

// MaskDSN redacts credentials and path detail from a connection string
// so it can be logged or returned safely.
func MaskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err == nil && u.Host != "" {
		masked := u.Scheme + "://"
		if u.User != nil {
			masked += u.User.Username() + ":****@"
		}
		masked += u.Host
		if u.Path != "" && u.Path != "/" {
			masked += u.Path
		}
		return masked
	}

	// Key=value or opaque descriptors: keep a short prefix only
	trimmed := strings.TrimSpace(dsn)
	if len(trimmed) <= 8 {
		return "****"
	}
	return trimmed[:8] + "****"
}
