// Package models provides the local entity, queue and sync bookkeeping types.
package models

import (
	"fmt"
	"time"
)

// EntityType names one of the synchronized record kinds.
type EntityType string

const (
	EntityNote   EntityType = "note"
	EntityFolder EntityType = "folder"
	EntityAction EntityType = "action"
)

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityNote, EntityFolder, EntityAction:
		return true
	}
	return false
}

// ParseEntityType converts a string to an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return t, nil
}

// SyncStatus is the reconciliation state of a local record.
type SyncStatus string

const (
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusConflict SyncStatus = "conflict"
)

// SyncFields carries the identity and sync metadata every entity shares.
// Timestamps are Unix milliseconds. ServerID == "" and ServerUpdatedAt == 0
// mean the record has never been acknowledged by the remote service.
type SyncFields struct {
	LocalID         string     `db:"local_id" json:"local_id"`
	ServerID        string     `db:"server_id" json:"server_id,omitempty"`
	SyncStatus      SyncStatus `db:"sync_status" json:"sync_status"`
	LocalUpdatedAt  int64      `db:"local_updated_at" json:"local_updated_at"`
	ServerUpdatedAt int64      `db:"server_updated_at" json:"server_updated_at,omitempty"`
	IsDeleted       bool       `db:"is_deleted" json:"is_deleted"`
	CreatedAt       int64      `db:"created_at" json:"created_at"`
}

// Sync returns the embedded sync metadata.
func (s *SyncFields) Sync() *SyncFields {
	return s
}

// HasServerState reports whether the record has ever matched a server version.
func (s *SyncFields) HasServerState() bool {
	return s.ServerUpdatedAt > 0
}

// HasLocalChanges reports whether the record was edited after the last agreed server version.
func (s *SyncFields) HasLocalChanges() bool {
	return s.LocalUpdatedAt > s.ServerUpdatedAt
}

// Entity is implemented by Note, Folder and Action.
type Entity interface {
	Sync() *SyncFields
	EntityType() EntityType
}

// Millis converts a time to the millisecond timestamps stored locally.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// TimeOf converts a stored millisecond timestamp back to time.Time.
func TimeOf(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
