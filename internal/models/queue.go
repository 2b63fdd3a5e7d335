package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// OperationType is the mutation a queued operation replays remotely.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// Valid reports whether o is a known operation.
func (o OperationType) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// QueuedOperation is a pending mutation awaiting remote acknowledgment.
// At most one exists per (EntityType, EntityID).
type QueuedOperation struct {
	ID           string        `db:"id" json:"id"`
	EntityType   EntityType    `db:"entity_type" json:"entity_type"`
	EntityID     string        `db:"entity_id" json:"entity_id"` // local id
	Operation    OperationType `db:"operation" json:"operation"`
	Payload      *Payload      `db:"payload" json:"payload,omitempty"`
	Priority     int           `db:"priority" json:"priority"`
	RetryCount   int           `db:"retry_count" json:"retry_count"`
	LastError    string        `db:"last_error" json:"last_error,omitempty"`
	CreatedAt    int64         `db:"created_at" json:"created_at"`
	ScheduledFor int64         `db:"scheduled_for" json:"scheduled_for,omitempty"` // 0 = immediately
	// Revision increments on every merge so a dispatcher can tell whether the
	// entry changed while it was in flight.
	Revision int64 `db:"revision" json:"revision"`
}

// TableName returns the table name for QueuedOperation.
func (QueuedOperation) TableName() string {
	return "sync_queue"
}

// Ready reports whether the operation may be attempted at nowMs.
func (o *QueuedOperation) Ready(nowMs int64) bool {
	return o.ScheduledFor == 0 || o.ScheduledFor <= nowMs
}

// Value implements driver.Valuer. A nil payload is stored as NULL.
func (p *Payload) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (p *Payload) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*p = Payload{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Payload", value)
	}
	var decoded Payload
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	*p = decoded
	return nil
}
