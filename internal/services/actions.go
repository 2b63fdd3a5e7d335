package services

import (
	"context"

	"github.com/glidenotes/notesync/internal/db"
	apperrors "github.com/glidenotes/notesync/internal/errors"
	"github.com/glidenotes/notesync/internal/models"
	"github.com/glidenotes/notesync/internal/remote"
	"github.com/glidenotes/notesync/internal/sync/queue"
)

// CreateAction stores a follow-up on a live note and queues its create.
func (s *Service) CreateAction(ctx context.Context, a *models.Action) (*models.Action, error) {
	a.ServerID = ""
	a.ServerUpdatedAt = 0
	if a.ActionType == "" {
		a.ActionType = models.ActionNextStep
	}
	if a.Status == "" {
		a.Status = models.ActionStatusPending
	}
	if a.Priority == "" {
		a.Priority = models.ActionPriorityMedium
	}
	if err := remote.CheckAction(models.ActionPatchOf(a), true); err != nil {
		return nil, err
	}

	err := s.mutate(ctx, func(repo *db.Repository, q *queue.Queue) error {
		if err := requireLive(ctx, repo, models.EntityNote, a.NoteID); err != nil {
			return err
		}
		if err := repo.CreateAction(ctx, a); err != nil {
			return err
		}
		op, err := q.Enqueue(ctx, models.EntityAction, a.LocalID, models.OpCreate, models.PayloadOf(a), PriorityAction)
		if err != nil {
			return err
		}
		s.logQueued(op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// UpdateAction applies patch to a live action and queues the changed fields.
func (s *Service) UpdateAction(ctx context.Context, localID string, patch models.ActionPatch) (*models.Action, error) {
	p := models.ActionPayload(patch)
	if len(p.Fields()) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalid, "no fields to update")
	}
	if err := remote.CheckAction(patch, false); err != nil {
		return nil, err
	}

	var out *models.Action
	err := s.mutate(ctx, func(repo *db.Repository, q *queue.Queue) error {
		a, err := repo.UpdateAction(ctx, localID, patch, db.OriginLocal)
		if err != nil {
			return notFound(err, models.EntityAction, localID)
		}
		op, err := q.Enqueue(ctx, models.EntityAction, localID, models.OpUpdate, p, PriorityAction)
		if err != nil {
			return err
		}
		s.logQueued(op)
		out = a
		return nil
	})
	return out, err
}

// DeleteAction tombstones an action and queues its delete.
func (s *Service) DeleteAction(ctx context.Context, localID string) error {
	return s.mutate(ctx, func(repo *db.Repository, q *queue.Queue) error {
		return deleteAction(ctx, repo, q, localID)
	})
}

func deleteAction(ctx context.Context, repo *db.Repository, q *queue.Queue, localID string) error {
	ok, err := repo.SoftDeleteAction(ctx, localID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Newf(apperrors.ErrNotFound, "action %s not found", localID)
	}
	_, err = q.Enqueue(ctx, models.EntityAction, localID, models.OpDelete, nil, PriorityAction)
	return err
}

// ListActions returns the live actions of a note.
func (s *Service) ListActions(ctx context.Context, noteID string) ([]*models.Action, error) {
	return s.repo.ListActions(ctx, noteID)
}
