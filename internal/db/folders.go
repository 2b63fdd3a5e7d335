package db

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/glidenotes/notesync/internal/models"
)

var folderKind = kind[*models.Folder]{
	entity:  models.EntityFolder,
	table:   "folders",
	columns: []string{"name", "icon", "color", "parent_id", "sort_order", "is_system"},
	scan:    scanFolder,
	values:  folderValues,
	protected: func(f *models.Folder) bool {
		return f.IsSystem
	},
	link:       linkSystemFolder,
	pruneGuard: "is_system = 0",
}

func scanFolder(s rowScanner) (*models.Folder, error) {
	var f models.Folder
	var sid sql.NullString
	dest := append(syncDest(&f.SyncFields, &sid),
		&f.Name, &f.Icon, &f.Color, &f.ParentID, &f.SortOrder, &f.IsSystem)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	f.ServerID = sid.String
	return &f, nil
}

func folderValues(f *models.Folder) ([]interface{}, error) {
	return []interface{}{f.Name, f.Icon, f.Color, f.ParentID, f.SortOrder, f.IsSystem}, nil
}

// linkSystemFolder matches a remote system folder to the local one created
// before first sync, by name.
func linkSystemFolder(ctx context.Context, q DBTX, k kind[*models.Folder], rec *models.Folder) (*models.Folder, bool, error) {
	if !rec.IsSystem {
		return nil, false, nil
	}
	f, err := getOne(ctx, q, k, "is_system = 1 AND server_id IS NULL AND name = ? ORDER BY created_at LIMIT 1", rec.Name)
	if stderrors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}

// CreateFolder inserts a new folder, assigning its local id if empty.
func (r *Repository) CreateFolder(ctx context.Context, f *models.Folder) error {
	return create(ctx, r, folderKind, f)
}

// GetFolder retrieves a folder by local id, tombstones included.
func (r *Repository) GetFolder(ctx context.Context, localID string) (*models.Folder, error) {
	return getOne(ctx, r.db, folderKind, "local_id = ?", localID)
}

// GetFolderByServerID retrieves a folder by server id.
func (r *Repository) GetFolderByServerID(ctx context.Context, serverID string) (*models.Folder, error) {
	return getOne(ctx, r.db, folderKind, "server_id = ?", serverID)
}

// FindSystemFolder returns the live system folder with the given name.
func (r *Repository) FindSystemFolder(ctx context.Context, name string) (*models.Folder, error) {
	return getOne(ctx, r.db, folderKind, "is_system = 1 AND is_deleted = 0 AND name = ? ORDER BY created_at LIMIT 1", name)
}

// UpdateFolder applies patch to a live folder.
func (r *Repository) UpdateFolder(ctx context.Context, localID string, patch models.FolderPatch, origin Origin) (*models.Folder, error) {
	return update(ctx, r, folderKind, localID, origin, func(f *models.Folder) { patch.Apply(f) })
}

// SoftDeleteFolder tombstones a folder. It returns false if the folder does
// not exist or is a system folder.
func (r *Repository) SoftDeleteFolder(ctx context.Context, localID string) (bool, error) {
	return softDelete(ctx, r, folderKind, localID)
}

// UpsertFolderFromRemote stores a server version of a folder. ParentID must
// already be a local folder id.
func (r *Repository) UpsertFolderFromRemote(ctx context.Context, f *models.Folder) (UpsertResult, error) {
	return upsertFromRemote(ctx, r, folderKind, f)
}

// ListFolders returns folders ordered for display.
func (r *Repository) ListFolders(ctx context.Context, includeDeleted bool) ([]*models.Folder, error) {
	where := "is_deleted = 0"
	if includeDeleted {
		where = ""
	}
	return listWhere(ctx, r.db, folderKind, where, "ORDER BY is_system DESC, sort_order, name, local_id")
}
