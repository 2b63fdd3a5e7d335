package services

import (
	"context"
	stderrors "errors"

	"github.com/glidenotes/notesync/internal/db"
	apperrors "github.com/glidenotes/notesync/internal/errors"
	"github.com/glidenotes/notesync/internal/models"
	"github.com/glidenotes/notesync/internal/remote"
	"github.com/glidenotes/notesync/internal/sync/queue"
)

// CreateFolder stores a new folder and queues its create.
func (s *Service) CreateFolder(ctx context.Context, f *models.Folder) (*models.Folder, error) {
	f.ServerID = ""
	f.ServerUpdatedAt = 0
	f.IsSystem = false
	if err := remote.CheckFolder(models.FolderPatchOf(f), true); err != nil {
		return nil, err
	}

	err := s.mutate(ctx, func(repo *db.Repository, q *queue.Queue) error {
		if f.ParentID != "" {
			if err := requireLive(ctx, repo, models.EntityFolder, f.ParentID); err != nil {
				return err
			}
		}
		if err := repo.CreateFolder(ctx, f); err != nil {
			return err
		}
		op, err := q.Enqueue(ctx, models.EntityFolder, f.LocalID, models.OpCreate, models.PayloadOf(f), PriorityFolder)
		if err != nil {
			return err
		}
		s.logQueued(op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// UpdateFolder applies patch to a live folder and queues the changed fields.
func (s *Service) UpdateFolder(ctx context.Context, localID string, patch models.FolderPatch) (*models.Folder, error) {
	p := models.FolderPayload(patch)
	if len(p.Fields()) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalid, "no fields to update")
	}
	if err := remote.CheckFolder(patch, false); err != nil {
		return nil, err
	}

	var out *models.Folder
	err := s.mutate(ctx, func(repo *db.Repository, q *queue.Queue) error {
		if patch.ParentID != nil && *patch.ParentID != "" {
			if err := checkParent(ctx, repo, localID, *patch.ParentID); err != nil {
				return err
			}
		}
		f, err := repo.UpdateFolder(ctx, localID, patch, db.OriginLocal)
		if err != nil {
			return notFound(err, models.EntityFolder, localID)
		}
		op, err := q.Enqueue(ctx, models.EntityFolder, localID, models.OpUpdate, p, PriorityFolder)
		if err != nil {
			return err
		}
		s.logQueued(op)
		out = f
		return nil
	})
	return out, err
}

// checkParent rejects a missing parent and a parent chain that reaches localID.
func checkParent(ctx context.Context, repo *db.Repository, localID, parentID string) error {
	for cur := parentID; cur != ""; {
		if cur == localID {
			return apperrors.New(apperrors.ErrValidation, "folder cannot be its own ancestor")
		}
		f, err := repo.GetFolder(ctx, cur)
		if stderrors.Is(err, db.ErrNotFound) || (err == nil && f.IsDeleted) {
			return apperrors.Newf(apperrors.ErrValidation, "folder %s does not exist", cur)
		}
		if err != nil {
			return err
		}
		cur = f.ParentID
	}
	return nil
}

// DeleteFolder tombstones a user folder and queues its delete. System
// folders are rejected.
func (s *Service) DeleteFolder(ctx context.Context, localID string) error {
	return s.mutate(ctx, func(repo *db.Repository, q *queue.Queue) error {
		f, err := repo.GetFolder(ctx, localID)
		if err != nil {
			return notFound(err, models.EntityFolder, localID)
		}
		if f.IsSystem {
			return apperrors.Newf(apperrors.ErrValidation, "system folder %q cannot be deleted", f.Name)
		}
		ok, err := repo.SoftDeleteFolder(ctx, localID)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.Newf(apperrors.ErrNotFound, "folder %s not found", localID)
		}
		op, err := q.Enqueue(ctx, models.EntityFolder, localID, models.OpDelete, nil, PriorityFolder)
		if err != nil {
			return err
		}
		s.logQueued(op)
		return nil
	})
}

// EnsureDefaultFolders creates the local system folder if none exists. It is
// not queued: the first pull links it to the remote system folder by name.
func (s *Service) EnsureDefaultFolders(ctx context.Context) (*models.Folder, error) {
	f, err := s.repo.FindSystemFolder(ctx, models.SystemFolderName)
	if err == nil {
		return f, nil
	}
	if !stderrors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	f = &models.Folder{Name: models.SystemFolderName, Icon: "folder", IsSystem: true}
	if err := s.repo.CreateFolder(ctx, f); err != nil {
		return nil, err
	}
	s.log.Info("Created default system folder", map[string]interface{}{"local_id": f.LocalID})
	return f, nil
}

// GetFolder returns a folder.
func (s *Service) GetFolder(ctx context.Context, localID string) (*models.Folder, error) {
	f, err := s.repo.GetFolder(ctx, localID)
	if err != nil {
		return nil, notFound(err, models.EntityFolder, localID)
	}
	return f, nil
}

// ListFolders returns live folders.
func (s *Service) ListFolders(ctx context.Context) ([]*models.Folder, error) {
	return s.repo.ListFolders(ctx, false)
}
