// Package events publishes router audit events to a pluggable bus.
// Writer hand-offs, node lifecycle changes and capacity warnings are
// emitted best-effort; a bus outage never fails the operation that
// produced the event.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/quiltdb/quilt/internal/logging"
)

// Subject is the bus subject/topic all router events are published to
const Subject = "quilt.router.events"

// Event types
const (
	TypeWriterSwitch    = "writer_switch"
	TypeWriterExhausted = "writer_exhausted"
	TypeNodeRegistered  = "node_registered"
	TypeNodeDeactivated = "node_deactivated"
	TypeNodeOffline     = "node_offline"
	TypeCapacityWarning = "capacity_warning"
)

// Event is one auditable router occurrence
type Event struct {
	Type         string    `json:"type"`
	NodeID       string    `json:"node_id,omitempty"`
	NodeName     string    `json:"node_name,omitempty"`
	PrevNodeID   string    `json:"prev_node_id,omitempty"`
	PrevNodeName string    `json:"prev_node_name,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Actor        string    `json:"actor,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Publisher publishes raw messages to a bus subject
type Publisher interface {
	// Publish publishes a message to a subject/topic
	Publish(ctx context.Context, subject string, data []byte) error

	// Close closes the connection
	Close() error
}

// Emitter serializes events and publishes them best-effort
type Emitter struct {
	pub    Publisher
	logger *logging.Logger
}

// NewEmitter creates an emitter over a publisher
func NewEmitter(pub Publisher, logger *logging.Logger) *Emitter {
	return &Emitter{pub: pub, logger: logger}
}

// Emit publishes an event. Failures are logged, never returned: audit
// events must not fail the routing operation that produced them.
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if e == nil || e.pub == nil {
		return
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		e.logger.Error("Failed to marshal router event", "type", ev.Type, "error", err)
		return
	}

	if err := e.pub.Publish(ctx, Subject, data); err != nil {
		e.logger.Warn("Failed to publish router event",
			"type", ev.Type, "node", ev.NodeName, "error", err)
		return
	}

	e.logger.Debug("Router event published", "type", ev.Type, "node", ev.NodeName)
}
