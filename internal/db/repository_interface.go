package db

import (
	"context"

	"github.com/glidenotes/notesync/internal/models"
)

// NoteStore defines note persistence.
type NoteStore interface {
	CreateNote(ctx context.Context, n *models.Note) error
	GetNote(ctx context.Context, localID string) (*models.Note, error)
	GetNoteByServerID(ctx context.Context, serverID string) (*models.Note, error)
	UpdateNote(ctx context.Context, localID string, patch models.NotePatch, origin Origin) (*models.Note, error)
	SoftDeleteNote(ctx context.Context, localID string) (bool, error)
	UpsertNoteFromRemote(ctx context.Context, n *models.Note) (UpsertResult, error)
	ListNotes(ctx context.Context, f NoteFilter) ([]*models.Note, error)
}

// FolderStore defines folder persistence.
type FolderStore interface {
	CreateFolder(ctx context.Context, f *models.Folder) error
	GetFolder(ctx context.Context, localID string) (*models.Folder, error)
	GetFolderByServerID(ctx context.Context, serverID string) (*models.Folder, error)
	UpdateFolder(ctx context.Context, localID string, patch models.FolderPatch, origin Origin) (*models.Folder, error)
	SoftDeleteFolder(ctx context.Context, localID string) (bool, error)
	UpsertFolderFromRemote(ctx context.Context, f *models.Folder) (UpsertResult, error)
	ListFolders(ctx context.Context, includeDeleted bool) ([]*models.Folder, error)
}

// ActionStore defines action persistence.
type ActionStore interface {
	CreateAction(ctx context.Context, a *models.Action) error
	GetAction(ctx context.Context, localID string) (*models.Action, error)
	GetActionByServerID(ctx context.Context, serverID string) (*models.Action, error)
	UpdateAction(ctx context.Context, localID string, patch models.ActionPatch, origin Origin) (*models.Action, error)
	SoftDeleteAction(ctx context.Context, localID string) (bool, error)
	UpsertActionFromRemote(ctx context.Context, a *models.Action) (UpsertResult, error)
	ListActions(ctx context.Context, noteID string) ([]*models.Action, error)
}

// ConflictLogStore defines conflict log persistence.
type ConflictLogStore interface {
	CreateConflictLog(ctx context.Context, c *models.ConflictLog) error
}

// EntityStore combines the per-entity stores with the type-agnostic sync
// bookkeeping the engine needs.
type EntityStore interface {
	NoteStore
	FolderStore
	ActionStore
	ConflictLogStore

	GetEntity(ctx context.Context, t models.EntityType, localID string) (models.Entity, error)
	ServerIDOf(ctx context.Context, t models.EntityType, localID string) (string, error)
	LocalIDOf(ctx context.Context, t models.EntityType, serverID string) (string, error)
	MarkSynced(ctx context.Context, t models.EntityType, localID, serverID string, serverUpdatedAt, observedLocal int64) (bool, error)
	TouchServerVersion(ctx context.Context, t models.EntityType, localID string, serverUpdatedAt int64) error
	Purge(ctx context.Context, t models.EntityType, localID string) (bool, error)
	PruneMissing(ctx context.Context, t models.EntityType, seen map[string]bool) ([]string, error)
	PruneCandidates(ctx context.Context, t models.EntityType, seen map[string]bool) ([]string, error)
}

// Ensure *Repository implements the interfaces at compile time.
var (
	_ NoteStore        = (*Repository)(nil)
	_ FolderStore      = (*Repository)(nil)
	_ ActionStore      = (*Repository)(nil)
	_ ConflictLogStore = (*Repository)(nil)
	_ EntityStore      = (*Repository)(nil)
)
