package models

import "time"

// ConflictStrategy selects how a detected conflict is reconciled.
type ConflictStrategy string

const (
	StrategyKeepLocal  ConflictStrategy = "keep_local"
	StrategyKeepServer ConflictStrategy = "keep_server"
	StrategyMerge      ConflictStrategy = "merge"
	StrategyCreateCopy ConflictStrategy = "create_copy"
)

// Valid reports whether s is a known strategy.
func (s ConflictStrategy) Valid() bool {
	switch s {
	case StrategyKeepLocal, StrategyKeepServer, StrategyMerge, StrategyCreateCopy:
		return true
	}
	return false
}

// ConflictLog records resolved concurrent edits for user awareness.
type ConflictLog struct {
	ID              int64            `db:"id" json:"id"`
	EntityType      EntityType       `db:"entity_type" json:"entity_type"`
	LocalID         string           `db:"local_id" json:"local_id"`
	CopyLocalID     string           `db:"copy_local_id" json:"copy_local_id,omitempty"`
	LocalTimestamp  int64            `db:"local_timestamp" json:"local_timestamp"`
	RemoteTimestamp int64            `db:"remote_timestamp" json:"remote_timestamp"`
	Strategy        ConflictStrategy `db:"strategy" json:"strategy"`
	DetectedAt      int64            `db:"detected_at" json:"detected_at"`
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns DetectedAt as time.Time.
func (c *ConflictLog) DetectedAtTime() time.Time {
	return TimeOf(c.DetectedAt)
}
