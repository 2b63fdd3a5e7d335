package services

import (
	"context"
	"strings"

	"github.com/glidenotes/notesync/internal/db"
	apperrors "github.com/glidenotes/notesync/internal/errors"
	"github.com/glidenotes/notesync/internal/models"
	"github.com/glidenotes/notesync/internal/remote"
	"github.com/glidenotes/notesync/internal/sync/queue"
)

// CreateNote stores a new note and queues its create. The note's LocalID is
// assigned if empty.
func (s *Service) CreateNote(ctx context.Context, n *models.Note) (*models.Note, error) {
	n.ServerID = ""
	n.ServerUpdatedAt = 0
	if n.Tags == nil {
		n.Tags = []string{}
	}
	if err := remote.CheckNote(models.NotePatchOf(n)); err != nil {
		return nil, err
	}

	err := s.mutate(ctx, func(repo *db.Repository, q *queue.Queue) error {
		if n.FolderID != "" {
			if err := requireLive(ctx, repo, models.EntityFolder, n.FolderID); err != nil {
				return err
			}
		}
		if err := repo.CreateNote(ctx, n); err != nil {
			return err
		}
		op, err := q.Enqueue(ctx, models.EntityNote, n.LocalID, models.OpCreate, models.PayloadOf(n), PriorityNote)
		if err != nil {
			return err
		}
		s.logQueued(op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// UpdateNote applies patch to a live note and queues the changed fields.
func (s *Service) UpdateNote(ctx context.Context, localID string, patch models.NotePatch) (*models.Note, error) {
	p := models.NotePayload(patch)
	if len(p.Fields()) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalid, "no fields to update")
	}
	if err := remote.CheckNote(patch); err != nil {
		return nil, err
	}

	var out *models.Note
	err := s.mutate(ctx, func(repo *db.Repository, q *queue.Queue) error {
		if patch.FolderID != nil && *patch.FolderID != "" {
			if err := requireLive(ctx, repo, models.EntityFolder, *patch.FolderID); err != nil {
				return err
			}
		}
		n, err := repo.UpdateNote(ctx, localID, patch, db.OriginLocal)
		if err != nil {
			return notFound(err, models.EntityNote, localID)
		}
		op, err := q.Enqueue(ctx, models.EntityNote, localID, models.OpUpdate, p, PriorityNote)
		if err != nil {
			return err
		}
		s.logQueued(op)
		out = n
		return nil
	})
	return out, err
}

// DeleteNote tombstones a note and its actions and queues their deletes.
func (s *Service) DeleteNote(ctx context.Context, localID string) error {
	if localID == "" {
		return apperrors.New(apperrors.ErrInvalid, "note id is required")
	}
	return s.mutate(ctx, func(repo *db.Repository, q *queue.Queue) error {
		actions, err := repo.ListActions(ctx, localID)
		if err != nil {
			return err
		}
		for _, a := range actions {
			if err := deleteAction(ctx, repo, q, a.LocalID); err != nil {
				return err
			}
		}
		ok, err := repo.SoftDeleteNote(ctx, localID)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.Newf(apperrors.ErrNotFound, "note %s not found", localID)
		}
		op, err := q.Enqueue(ctx, models.EntityNote, localID, models.OpDelete, nil, PriorityNote)
		if err != nil {
			return err
		}
		s.logQueued(op)
		return nil
	})
}

// RestoreNote clears a note's tombstone while its delete is still local. The
// queued delete is replaced by a create, or by an update carrying every field
// when the note already exists remotely. Once the delete has been
// acknowledged the note is gone and NOT_FOUND is returned.
func (s *Service) RestoreNote(ctx context.Context, localID string) (*models.Note, error) {
	var out *models.Note
	err := s.mutate(ctx, func(repo *db.Repository, q *queue.Queue) error {
		n, err := repo.RestoreNote(ctx, localID)
		if err != nil {
			return notFound(err, models.EntityNote, localID)
		}
		if _, err := q.ClearForEntity(ctx, models.EntityNote, localID); err != nil {
			return err
		}
		kind := models.OpUpdate
		if n.ServerID == "" {
			kind = models.OpCreate
		}
		op, err := q.Enqueue(ctx, models.EntityNote, localID, kind, models.PayloadOf(n), PriorityNote)
		if err != nil {
			return err
		}
		s.logQueued(op)
		out = n
		return nil
	})
	return out, err
}

// GetNote returns a note, tombstoned or not.
func (s *Service) GetNote(ctx context.Context, localID string) (*models.Note, error) {
	n, err := s.repo.GetNote(ctx, localID)
	if err != nil {
		return nil, notFound(err, models.EntityNote, localID)
	}
	return n, nil
}

// ListNotes returns notes matching f.
func (s *Service) ListNotes(ctx context.Context, f db.NoteFilter) ([]*models.Note, error) {
	return s.repo.ListNotes(ctx, f)
}

// SearchNotes runs a full-text query over live notes.
func (s *Service) SearchNotes(ctx context.Context, query string, f db.NoteFilter) ([]*db.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "search query is required")
	}
	return s.repo.SearchNotes(ctx, query, f)
}
