package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/glidenotes/notesync/internal/models"
)

var noteKind = kind[*models.Note]{
	entity: models.EntityNote,
	table:  "notes",
	columns: []string{
		"title", "transcript", "summary", "duration", "audio_url", "folder_id",
		"tags", "is_pinned", "is_archived", "ai_metadata", "deleted_at",
	},
	scan:   scanNote,
	values: noteValues,
	onDelete: func(n *models.Note, at int64) {
		n.DeletedAt = at
	},
	onRestore: func(n *models.Note) {
		n.DeletedAt = 0
	},
}

func scanNote(s rowScanner) (*models.Note, error) {
	var n models.Note
	var sid sql.NullString
	var tags, meta string
	dest := append(syncDest(&n.SyncFields, &sid),
		&n.Title, &n.Transcript, &n.Summary, &n.Duration, &n.AudioURL, &n.FolderID,
		&tags, &n.IsPinned, &n.IsArchived, &meta, &n.DeletedAt)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	n.ServerID = sid.String
	if err := decodeJSON(tags, &n.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := decodeJSON(meta, &n.AIMetadata); err != nil {
		return nil, fmt.Errorf("decode ai_metadata: %w", err)
	}
	return &n, nil
}

func noteValues(n *models.Note) ([]interface{}, error) {
	tags := n.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := encodeJSON(tags)
	if err != nil {
		return nil, err
	}
	meta := n.AIMetadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := encodeJSON(meta)
	if err != nil {
		return nil, err
	}
	return []interface{}{
		n.Title, n.Transcript, n.Summary, n.Duration, n.AudioURL, n.FolderID,
		tagsJSON, n.IsPinned, n.IsArchived, metaJSON, n.DeletedAt,
	}, nil
}

// CreateNote inserts a new note, assigning its local id if empty.
func (r *Repository) CreateNote(ctx context.Context, n *models.Note) error {
	return create(ctx, r, noteKind, n)
}

// GetNote retrieves a note by local id, tombstones included.
func (r *Repository) GetNote(ctx context.Context, localID string) (*models.Note, error) {
	return getOne(ctx, r.db, noteKind, "local_id = ?", localID)
}

// GetNoteByServerID retrieves a note by server id.
func (r *Repository) GetNoteByServerID(ctx context.Context, serverID string) (*models.Note, error) {
	return getOne(ctx, r.db, noteKind, "server_id = ?", serverID)
}

// UpdateNote applies patch to a live note.
func (r *Repository) UpdateNote(ctx context.Context, localID string, patch models.NotePatch, origin Origin) (*models.Note, error) {
	return update(ctx, r, noteKind, localID, origin, func(n *models.Note) { patch.Apply(n) })
}

// SoftDeleteNote tombstones a note. It returns false if the note does not exist.
func (r *Repository) SoftDeleteNote(ctx context.Context, localID string) (bool, error) {
	return softDelete(ctx, r, noteKind, localID)
}

// RestoreNote clears a note's tombstone.
func (r *Repository) RestoreNote(ctx context.Context, localID string) (*models.Note, error) {
	return restore(ctx, r, noteKind, localID)
}

// UpsertNoteFromRemote stores a server version of a note. FolderID must
// already be a local folder id.
func (r *Repository) UpsertNoteFromRemote(ctx context.Context, n *models.Note) (UpsertResult, error) {
	return upsertFromRemote(ctx, r, noteKind, n)
}

// ListNotes returns notes matching f, pinned first then most recently edited.
func (r *Repository) ListNotes(ctx context.Context, f NoteFilter) ([]*models.Note, error) {
	where, args := f.builder().Build()
	tail := "ORDER BY is_pinned DESC, local_updated_at DESC, local_id"
	if f.Limit > 0 {
		tail += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	return listWhere(ctx, r.db, noteKind, where, tail, args...)
}
