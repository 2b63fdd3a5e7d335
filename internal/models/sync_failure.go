package models

// SyncFailure is an operation that exhausted its retries. It stays in the
// ledger until the user retries or dismisses it.
type SyncFailure struct {
	ID         string        `db:"id" json:"id"`
	EntityType EntityType    `db:"entity_type" json:"entity_type"`
	EntityID   string        `db:"entity_id" json:"entity_id"`
	Operation  OperationType `db:"operation" json:"operation"`
	Payload    *Payload      `db:"payload" json:"payload,omitempty"`
	Priority   int           `db:"priority" json:"priority"`
	RetryCount int           `db:"retry_count" json:"retry_count"`
	LastError  string        `db:"last_error" json:"last_error"`
	FailedAt   int64         `db:"failed_at" json:"failed_at"`
}

// TableName returns the table name for SyncFailure.
func (SyncFailure) TableName() string {
	return "sync_failures"
}
