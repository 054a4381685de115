package models

import "encoding/json"

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// NodeResponse represents worker node metadata in API responses.
// The connection descriptor is always masked.
type NodeResponse struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	DSN           string  `json:"dsn"`
	Active        bool    `json:"active"`
	CurrentWriter bool    `json:"current_writer"`
	UsedBytes     int64   `json:"used_bytes"`
	CapacityBytes int64   `json:"capacity_bytes"`
	RecordCount   int64   `json:"record_count"`
	UsageRatio    float64 `json:"usage_ratio"`
	HealthStatus  string  `json:"health_status"`
	LatencyMillis int64   `json:"latency_ms"`
	LastProbedAt  *string `json:"last_probed_at,omitempty"`
	AddedBy       string  `json:"added_by,omitempty"`
	Notes         string  `json:"notes,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

// NodeListResponse represents list nodes response
type NodeListResponse struct {
	Nodes []NodeResponse `json:"nodes"`
	Count int            `json:"count"`
}

// WriteRecordResponse represents write response
type WriteRecordResponse struct {
	Key       string `json:"key"`
	Node      string `json:"node"`
	SizeBytes int64  `json:"size_bytes"`
	Updated   bool   `json:"updated"`
}

// RecordResponse represents a record with its provenance
type RecordResponse struct {
	Key        string          `json:"key"`
	RecordType string          `json:"record_type"`
	Payload    json.RawMessage `json:"payload"`
	Owner      string          `json:"owner,omitempty"`
	SizeBytes  int64           `json:"size_bytes"`
	Node       string          `json:"node"`
	CreatedAt  string          `json:"created_at"`
	UpdatedAt  string          `json:"updated_at"`
}

// SearchResponse represents search results aggregated across nodes
type SearchResponse struct {
	Records     []RecordResponse `json:"records"`
	Count       int              `json:"count"`
	TotalNodes  int              `json:"total_nodes"`
	FailedNodes []string         `json:"failed_nodes,omitempty"`
}

// DeleteRecordResponse represents delete response
type DeleteRecordResponse struct {
	Key     string `json:"key"`
	Deleted bool   `json:"deleted"`
}

// StatsResponse represents fleet-wide usage totals
type StatsResponse struct {
	ActiveNodes        int    `json:"active_nodes"`
	TotalUsedBytes     int64  `json:"total_used_bytes"`
	TotalCapacityBytes int64  `json:"total_capacity_bytes"`
	TotalRecords       int64  `json:"total_records"`
	CurrentWriter      string `json:"current_writer,omitempty"`
	SoftLimitMB        int64  `json:"soft_limit_mb"`
}

// ErrorResponse represents error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Path    string                 `json:"path,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}
