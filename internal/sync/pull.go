package sync

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/glidenotes/notesync/internal/db"
	"github.com/glidenotes/notesync/internal/models"
	"github.com/glidenotes/notesync/internal/remote"
	"github.com/glidenotes/notesync/internal/sync/conflict"
)

// pullState tracks one pull: server-to-local id mappings and the server ids
// the listing returned, per type.
type pullState struct {
	folders map[string]string
	seen    map[models.EntityType]map[string]bool
}

func newPullState() *pullState {
	return &pullState{
		folders: make(map[string]string),
		seen: map[models.EntityType]map[string]bool{
			models.EntityFolder: {},
			models.EntityNote:   {},
			models.EntityAction: {},
		},
	}
}

// pull fetches folders, then notes page by page with their actions, and
// applies each record. A remote error stops the pull; records already applied
// stay applied. It reports whether every collection was listed completely.
func (e *Engine) pull(ctx context.Context, c *cycle, prune bool) (bool, error) {
	st := newPullState()

	e.progress(c, "pull folders", 0, 0)
	if err := e.wait(ctx); err != nil {
		return false, err
	}
	roots, err := e.remote.ListFolders(ctx)
	if err != nil {
		return false, fmt.Errorf("list folders: %w", err)
	}
	folders := remote.Flatten(roots)
	for i, rf := range folders {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		parent, err := e.localRef(ctx, models.EntityFolder, rf.ParentID, st.folders)
		if err != nil {
			return false, err
		}
		localID, err := e.apply(ctx, c, folderFromRemote(rf, parent))
		if err != nil {
			return false, err
		}
		st.folders[rf.ID] = localID
		st.seen[models.EntityFolder][rf.ID] = true
		e.progress(c, "pull folders", i+1, len(folders))
	}

	for page := 1; ; page++ {
		if err := e.wait(ctx); err != nil {
			return false, err
		}
		p, err := e.remote.ListNotes(ctx, page, e.pageSize)
		if err != nil {
			return false, fmt.Errorf("list notes page %d: %w", page, err)
		}
		for i, rn := range p.Items {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			if err := e.pullNote(ctx, c, st, rn); err != nil {
				return false, err
			}
			e.progress(c, fmt.Sprintf("pull notes page %d/%d", page, p.Pages), (page-1)*p.PerPage+i+1, p.Total)
		}
		if page >= p.Pages || len(p.Items) == 0 {
			break
		}
	}

	if prune {
		if err := e.pruneMissing(ctx, c, st); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (e *Engine) pullNote(ctx context.Context, c *cycle, st *pullState, rn *remote.Note) error {
	folder, err := e.localRef(ctx, models.EntityFolder, rn.FolderID, st.folders)
	if err != nil {
		return err
	}
	noteID, err := e.apply(ctx, c, noteFromRemote(rn, folder))
	if err != nil {
		return err
	}
	st.seen[models.EntityNote][rn.ID] = true

	for _, ra := range rn.Actions {
		if _, err := e.apply(ctx, c, actionFromRemote(ra, noteID)); err != nil {
			return err
		}
		st.seen[models.EntityAction][ra.ID] = true
	}
	return nil
}

// localRef translates a server reference to a local id, "" if unknown.
func (e *Engine) localRef(ctx context.Context, t models.EntityType, serverID string, cache map[string]string) (string, error) {
	if serverID == "" {
		return "", nil
	}
	if id, ok := cache[serverID]; ok {
		return id, nil
	}
	id, err := e.repo.LocalIDOf(ctx, t, serverID)
	if stderrors.Is(err, db.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", e.storageErr("resolve reference", err)
	}
	cache[serverID] = id
	return id, nil
}

// apply reconciles one remote record with the store and returns the local id
// it landed in. A locally pending record is left alone unless both sides
// changed since the last agreed version, in which case the resolver decides.
func (e *Engine) apply(ctx context.Context, c *cycle, in models.Entity) (string, error) {
	var (
		localID string
		applied bool
		res     *conflict.Resolution
	)
	s := in.Sync()

	err := db.RunInTx(ctx, e.conn, func(tx *sql.Tx) error {
		repo, q := e.repo.WithTx(tx), e.queue.WithTx(tx)

		id, err := repo.LocalIDOf(ctx, in.EntityType(), s.ServerID)
		switch {
		case err == nil:
			local, err := repo.GetEntity(ctx, in.EntityType(), id)
			if err != nil {
				return err
			}
			ls := local.Sync()
			localID = id
			if ls.SyncStatus != models.SyncStatusSynced && ls.HasLocalChanges() {
				if !conflict.HasConflict(ls, s.ServerUpdatedAt) {
					return nil
				}
				res, err = e.resolver.WithStore(repo).Resolve(ctx, local, in, e.strategy)
				if err != nil {
					return err
				}
				if res.ServerApplied {
					if _, err := q.ClearForEntity(ctx, in.EntityType(), id); err != nil {
						return err
					}
				}
				if res.Copy != nil {
					_, err := q.Enqueue(ctx, res.Copy.EntityType(), res.CopyLocalID(), models.OpCreate, models.PayloadOf(res.Copy), 0)
					return err
				}
				return nil
			}
		case !stderrors.Is(err, db.ErrNotFound):
			return err
		}

		up, err := upsert(ctx, repo, in)
		if err != nil {
			return err
		}
		localID = up.LocalID
		applied = up.Outcome != db.UpsertUnchanged
		if up.Outcome == db.UpsertLinked {
			// The local record was created before first sync and now holds
			// the remote state; its queued create is moot.
			_, err = q.ClearForEntity(ctx, in.EntityType(), up.LocalID)
		}
		return err
	})
	if err != nil {
		return "", e.storageErr(fmt.Sprintf("apply remote %s %s", in.EntityType(), s.ServerID), err)
	}

	if res != nil {
		c.res.Conflicts++
		if res.ServerApplied {
			c.res.Pulled++
		}
		e.emit(c, Event{
			Type:             EventConflict,
			CurrentOperation: fmt.Sprintf("%s %s %s", res.Strategy, in.EntityType(), localID),
		})
	} else if applied {
		c.res.Pulled++
	}
	return localID, nil
}

func upsert(ctx context.Context, repo *db.Repository, in models.Entity) (db.UpsertResult, error) {
	switch v := in.(type) {
	case *models.Note:
		return repo.UpsertNoteFromRemote(ctx, v)
	case *models.Folder:
		return repo.UpsertFolderFromRemote(ctx, v)
	case *models.Action:
		return repo.UpsertActionFromRemote(ctx, v)
	}
	return db.UpsertResult{}, fmt.Errorf("unsupported entity %T", in)
}

// pruneMissing purges synced records the complete listing did not return.
// Notes missing from the paged listing are looked up one by one first, since
// a note reordered between pages can be skipped; only NOT_FOUND ones are
// purged. Actions go first so no note is purged ahead of its follow-ups.
func (e *Engine) pruneMissing(ctx context.Context, c *cycle, st *pullState) error {
	if err := e.confirmMissingNotes(ctx, c, st); err != nil {
		return err
	}
	for _, t := range []models.EntityType{models.EntityAction, models.EntityNote, models.EntityFolder} {
		purged, err := e.repo.PruneMissing(ctx, t, st.seen[t])
		if err != nil {
			return e.storageErr("prune", err)
		}
		if len(purged) > 0 {
			c.res.Pruned += len(purged)
			e.log.Info("Pruned records deleted remotely", map[string]interface{}{
				"entity_type": string(t),
				"count":       len(purged),
			})
		}
	}
	return nil
}

// confirmMissingNotes fetches each synced note the listing skipped. A live
// note is applied and marked seen along with its actions; any remote error
// other than NOT_FOUND aborts the prune.
func (e *Engine) confirmMissingNotes(ctx context.Context, c *cycle, st *pullState) error {
	ids, err := e.repo.PruneCandidates(ctx, models.EntityNote, st.seen[models.EntityNote])
	if err != nil {
		return e.storageErr("prune", err)
	}
	for _, id := range ids {
		if err := e.wait(ctx); err != nil {
			return err
		}
		rn, err := e.remote.GetNote(ctx, id)
		if remote.IsNotFound(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("confirm note %s: %w", id, err)
		}
		e.log.Debug("Note missing from listing is still live", map[string]interface{}{
			"server_id": id,
		})
		if err := e.pullNote(ctx, c, st, rn); err != nil {
			return err
		}
	}
	return nil
}
