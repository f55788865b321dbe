// Package events decouples the enqueue path from queue processing: the
// service emits an event when documents arrive and the controller reacts,
// without either knowing about the other.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the application.
const (
	// TypeDocumentsEnqueued fires after new records are persisted to the
	// queue. The controller uses it to start a pass immediately instead
	// of waiting for the next poll.
	TypeDocumentsEnqueued = "documents.enqueued"

	// TypeRecordCompleted fires after a record finishes processing.
	TypeRecordCompleted = "record.completed"
)

// QueueEvent is the envelope passed between emitters and handlers.
type QueueEvent struct {
	// ID uniquely identifies this event instance.
	ID uuid.UUID `json:"id"`

	// Type names the event, one of the Type constants above.
	Type string `json:"type"`

	// Payload carries event-specific data as JSON.
	Payload json.RawMessage `json:"payload"`

	// CreatedAt is when the event was emitted.
	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalPayload decodes the payload into v.
func (e *QueueEvent) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// NewQueueEvent builds an event of the given type around payload.
func NewQueueEvent(eventType string, payload any) (*QueueEvent, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &QueueEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Payload:   payloadBytes,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// DocumentsEnqueuedPayload accompanies TypeDocumentsEnqueued.
type DocumentsEnqueuedPayload struct {
	ContractID string `json:"contract_id"`
	Count      int    `json:"count"`
}

// RecordCompletedPayload accompanies TypeRecordCompleted.
type RecordCompletedPayload struct {
	RecordID   string `json:"record_id"`
	ContractID string `json:"contract_id"`
	PageCount  int    `json:"page_count"`
}

// EventHandler processes emitted events.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *QueueEvent) error
}

// EventEmitter publishes events to registered handlers.
type EventEmitter interface {
	EmitEvent(ctx context.Context, event *QueueEvent) error
}
