package models

import "encoding/json"

// AddNodeRequest represents a node registration request
type AddNodeRequest struct {
	Name       string `json:"name" validate:"required,min=1,max=64"`
	DSN        string `json:"dsn" validate:"required"`
	CapacityMB int64  `json:"capacity_mb,omitempty"`
	Notes      string `json:"notes,omitempty" validate:"max=256"`
}

// WriteRecordRequest represents a record write request
type WriteRecordRequest struct {
	Key        string          `json:"key,omitempty" validate:"max=128"`
	RecordType string          `json:"record_type" validate:"required,min=1,max=64"`
	Payload    json.RawMessage `json:"payload" validate:"required"`
	Owner      string          `json:"owner,omitempty" validate:"max=128"`
}
