package sync

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/glidenotes/notesync/internal/db"
	apperrors "github.com/glidenotes/notesync/internal/errors"
	"github.com/glidenotes/notesync/internal/models"
	"github.com/glidenotes/notesync/internal/remote"
	"github.com/glidenotes/notesync/internal/sync/queue"
)

type pushOutcome int

const (
	pushed pushOutcome = iota
	// skipped: the entity is gone locally, the entry was completed without dispatch.
	skipped
	deferred
	failed
	dropped
)

// ack is the remote acknowledgment of a create or update.
type ack struct {
	serverID  string
	updatedAt int64
	// replaced is the server id the record held before a re-create.
	replaced string
}

// push drains due queue entries one at a time in queue order.
func (e *Engine) push(ctx context.Context, c *cycle) error {
	ops, err := e.queue.GetPendingOperations(ctx)
	if err != nil {
		return e.storageErr("read queue", err)
	}
	if len(ops) == 0 {
		return nil
	}

	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.progress(c, fmt.Sprintf("push %s %s %s", op.Operation, op.EntityType, op.EntityID), i, len(ops))

		outcome, err := e.pushOne(ctx, c, op)
		if err != nil {
			return err
		}
		switch outcome {
		case pushed:
			c.res.Pushed++
		case deferred:
			c.res.Deferred++
		case dropped:
			c.res.Dropped++
		}
	}
	e.progress(c, "push", len(ops), len(ops))
	return nil
}

// pushOne dispatches a single queued operation. A non-nil error ends the cycle.
func (e *Engine) pushOne(ctx context.Context, c *cycle, op *models.QueuedOperation) (pushOutcome, error) {
	fields := map[string]interface{}{
		"op_id":       op.ID,
		"entity_type": string(op.EntityType),
		"entity_id":   op.EntityID,
		"operation":   string(op.Operation),
		"retry_count": op.RetryCount,
	}

	ent, err := e.repo.GetEntity(ctx, op.EntityType, op.EntityID)
	if stderrors.Is(err, db.ErrNotFound) {
		if err := e.queue.Complete(ctx, op.ID); err != nil && !stderrors.Is(err, queue.ErrNotFound) {
			return 0, e.storageErr("complete orphaned operation", err)
		}
		e.log.Debug("Entity gone, operation discarded", fields)
		return skipped, nil
	}
	if err != nil {
		return 0, e.storageErr("load entity", err)
	}

	if op.Operation == models.OpDelete || ent.Sync().IsDeleted {
		return e.pushDelete(ctx, c, op, ent, fields)
	}

	a, err := e.dispatch(ctx, op, ent)
	switch {
	case err == nil:
	case apperrors.Is(err, apperrors.ErrDependencyNotSynced):
		fields["reason"] = err.Error()
		e.log.Debug("Operation deferred", fields)
		return deferred, nil
	case e.fatal(ctx, err):
		return 0, err
	default:
		return e.fail(ctx, c, op, err)
	}

	if err := e.acknowledge(ctx, op, ent, a); err != nil {
		if apperrors.Is(err, apperrors.ErrServerIDConflict) {
			return e.fail(ctx, c, op, err)
		}
		return 0, e.storageErr("record acknowledgment", err)
	}
	fields["server_id"] = a.serverID
	e.log.Debug("Operation pushed", fields)
	return pushed, nil
}

// pushDelete removes the remote record, then the local tombstone. A record
// that never reached the server is purged without any remote call, and a
// remote NOT_FOUND counts as success.
func (e *Engine) pushDelete(ctx context.Context, c *cycle, op *models.QueuedOperation, ent models.Entity, fields map[string]interface{}) (pushOutcome, error) {
	s := ent.Sync()
	if s.ServerID != "" {
		err := e.wait(ctx)
		if err == nil {
			err = e.deleteRemote(ctx, op.EntityType, s.ServerID)
		}
		switch {
		case err == nil:
		case remote.IsNotFound(err):
			e.log.Debug("Remote record already gone", fields)
		case e.fatal(ctx, err):
			return 0, err
		default:
			return e.fail(ctx, c, op, err)
		}
	}

	ctx = context.WithoutCancel(ctx)
	err := db.RunInTx(ctx, e.conn, func(tx *sql.Tx) error {
		done, err := e.queue.WithTx(tx).CompleteRevision(ctx, op.ID, op.Revision)
		if err != nil || !done {
			// Restored while the delete was in flight; the queued update
			// will find the remote record gone and re-create it.
			return err
		}
		_, err = e.repo.WithTx(tx).Purge(ctx, op.EntityType, s.LocalID)
		return err
	})
	if err != nil {
		return 0, e.storageErr("purge tombstone", err)
	}
	return pushed, nil
}

// acknowledge records the server id and version and completes the queue
// entry in one transaction. If the entity was edited while the call was in
// flight it stays pending and its entry stays queued, as an update.
func (e *Engine) acknowledge(ctx context.Context, op *models.QueuedOperation, ent models.Entity, a ack) error {
	s := ent.Sync()
	ctx = context.WithoutCancel(ctx)
	return db.RunInTx(ctx, e.conn, func(tx *sql.Tx) error {
		repo, q := e.repo.WithTx(tx), e.queue.WithTx(tx)
		if a.replaced != "" {
			if err := repo.ReplaceServerID(ctx, op.EntityType, s.LocalID, a.replaced, a.serverID); err != nil {
				return err
			}
		}
		if _, err := repo.MarkSynced(ctx, op.EntityType, s.LocalID, a.serverID, a.updatedAt, s.LocalUpdatedAt); err != nil {
			return err
		}
		done, err := q.CompleteRevision(ctx, op.ID, op.Revision)
		if err != nil || done {
			return err
		}
		return q.PromoteToUpdate(ctx, op.ID)
	})
}

// fail records a failed attempt on the queue entry and in the cycle result.
func (e *Engine) fail(ctx context.Context, c *cycle, op *models.QueuedOperation, cause error) (pushOutcome, error) {
	out, err := e.queue.Fail(context.WithoutCancel(ctx), op.ID, cause)
	if err != nil {
		return 0, e.storageErr("record failure", err)
	}
	c.res.addError("%s %s %s (attempt %d): %v", op.Operation, op.EntityType, op.EntityID, out.RetryCount, cause)
	fields := map[string]interface{}{
		"op_id":       op.ID,
		"entity_type": string(op.EntityType),
		"entity_id":   op.EntityID,
		"operation":   string(op.Operation),
		"retry_count": out.RetryCount,
		"retryable":   apperrors.Retryable(cause),
		"dropped":     out.Dropped,
	}
	if apperrors.Retryable(cause) {
		e.log.Warn("Push attempt failed", fields)
	} else {
		e.log.Error("Push attempt failed", cause, fields)
	}
	if out.Dropped {
		return dropped, nil
	}
	return failed, nil
}

// serverRef translates a local reference to the server id of its target.
// An empty or dangling reference translates to "". A target that exists but
// has not been created remotely yet defers the operation.
func (e *Engine) serverRef(ctx context.Context, t models.EntityType, localID string) (string, error) {
	if localID == "" {
		return "", nil
	}
	sid, err := e.repo.ServerIDOf(ctx, t, localID)
	switch {
	case stderrors.Is(err, db.ErrNotFound):
		return "", nil
	case err != nil:
		return "", e.storageErr("resolve reference", err)
	case sid == "":
		return "", apperrors.Newf(apperrors.ErrDependencyNotSynced, "%s %s has no server id yet", t, localID)
	}
	return sid, nil
}

// dispatch sends a create or update. An entity without a server id is
// created; an update answered with NOT_FOUND is re-created from the full
// local record.
func (e *Engine) dispatch(ctx context.Context, op *models.QueuedOperation, ent models.Entity) (ack, error) {
	switch v := ent.(type) {
	case *models.Note:
		return e.pushNote(ctx, op, v)
	case *models.Folder:
		return e.pushFolder(ctx, op, v)
	case *models.Action:
		return e.pushAction(ctx, op, v)
	}
	return ack{}, apperrors.Newf(apperrors.ErrInvalid, "unsupported entity %T", ent)
}

func (e *Engine) pushNote(ctx context.Context, op *models.QueuedOperation, n *models.Note) (ack, error) {
	full := func() (models.NotePatch, error) {
		p := models.NotePatchOf(n)
		err := e.noteRefs(ctx, &p)
		return p, err
	}
	create := func(replaced string) (ack, error) {
		p, err := full()
		if err != nil {
			return ack{}, err
		}
		if err := e.wait(ctx); err != nil {
			return ack{}, err
		}
		rn, err := e.remote.CreateNote(ctx, p)
		if err != nil {
			return ack{}, err
		}
		return ack{serverID: rn.ID, updatedAt: rn.UpdatedAt, replaced: replaced}, nil
	}

	if n.ServerID == "" {
		return create("")
	}
	var p models.NotePatch
	var err error
	if op.Payload != nil && op.Payload.Note != nil && op.Operation == models.OpUpdate {
		p = *op.Payload.Note
		err = e.noteRefs(ctx, &p)
	} else {
		p, err = full()
	}
	if err != nil {
		return ack{}, err
	}
	if err := e.wait(ctx); err != nil {
		return ack{}, err
	}
	rn, err := e.remote.UpdateNote(ctx, n.ServerID, p)
	if remote.IsNotFound(err) {
		e.logRecreate(op, n.ServerID)
		return create(n.ServerID)
	}
	if err != nil {
		return ack{}, err
	}
	return ack{serverID: rn.ID, updatedAt: rn.UpdatedAt}, nil
}

func (e *Engine) noteRefs(ctx context.Context, p *models.NotePatch) error {
	if p.FolderID == nil {
		return nil
	}
	sid, err := e.serverRef(ctx, models.EntityFolder, *p.FolderID)
	if err != nil {
		return err
	}
	p.FolderID = &sid
	return nil
}

func (e *Engine) pushFolder(ctx context.Context, op *models.QueuedOperation, f *models.Folder) (ack, error) {
	full := func() (models.FolderPatch, error) {
		p := models.FolderPatchOf(f)
		err := e.folderRefs(ctx, &p)
		return p, err
	}
	create := func(replaced string) (ack, error) {
		p, err := full()
		if err != nil {
			return ack{}, err
		}
		if err := e.wait(ctx); err != nil {
			return ack{}, err
		}
		rf, err := e.remote.CreateFolder(ctx, p)
		if err != nil {
			return ack{}, err
		}
		return ack{serverID: rf.ID, updatedAt: rf.UpdatedAt, replaced: replaced}, nil
	}

	if f.ServerID == "" {
		return create("")
	}
	var p models.FolderPatch
	var err error
	if op.Payload != nil && op.Payload.Folder != nil && op.Operation == models.OpUpdate {
		p = *op.Payload.Folder
		err = e.folderRefs(ctx, &p)
	} else {
		p, err = full()
	}
	if err != nil {
		return ack{}, err
	}
	if err := e.wait(ctx); err != nil {
		return ack{}, err
	}
	rf, err := e.remote.UpdateFolder(ctx, f.ServerID, p)
	if remote.IsNotFound(err) {
		e.logRecreate(op, f.ServerID)
		return create(f.ServerID)
	}
	if err != nil {
		return ack{}, err
	}
	return ack{serverID: rf.ID, updatedAt: rf.UpdatedAt}, nil
}

func (e *Engine) folderRefs(ctx context.Context, p *models.FolderPatch) error {
	if p.ParentID == nil {
		return nil
	}
	sid, err := e.serverRef(ctx, models.EntityFolder, *p.ParentID)
	if err != nil {
		return err
	}
	p.ParentID = &sid
	return nil
}

func (e *Engine) pushAction(ctx context.Context, op *models.QueuedOperation, a *models.Action) (ack, error) {
	create := func(replaced string) (ack, error) {
		noteID, err := e.serverRef(ctx, models.EntityNote, a.NoteID)
		if err != nil {
			return ack{}, err
		}
		if noteID == "" {
			return ack{}, apperrors.Newf(apperrors.ErrValidation, "action %s has no note", a.LocalID)
		}
		if err := e.wait(ctx); err != nil {
			return ack{}, err
		}
		ra, err := e.remote.CreateAction(ctx, noteID, models.ActionPatchOf(a))
		if err != nil {
			return ack{}, err
		}
		return ack{serverID: ra.ID, updatedAt: ra.UpdatedAt, replaced: replaced}, nil
	}

	if a.ServerID == "" {
		return create("")
	}
	p := models.ActionPatchOf(a)
	if op.Payload != nil && op.Payload.Action != nil && op.Operation == models.OpUpdate {
		p = *op.Payload.Action
	}
	if err := e.wait(ctx); err != nil {
		return ack{}, err
	}
	ra, err := e.remote.UpdateAction(ctx, a.ServerID, p)
	if remote.IsNotFound(err) {
		e.logRecreate(op, a.ServerID)
		return create(a.ServerID)
	}
	if err != nil {
		return ack{}, err
	}
	return ack{serverID: ra.ID, updatedAt: ra.UpdatedAt}, nil
}

func (e *Engine) deleteRemote(ctx context.Context, t models.EntityType, serverID string) error {
	switch t {
	case models.EntityNote:
		return e.remote.DeleteNote(ctx, serverID)
	case models.EntityFolder:
		return e.remote.DeleteFolder(ctx, serverID)
	case models.EntityAction:
		return e.remote.DeleteAction(ctx, serverID)
	}
	return apperrors.Newf(apperrors.ErrInvalid, "unknown entity type %q", t)
}

func (e *Engine) logRecreate(op *models.QueuedOperation, serverID string) {
	e.log.Warn("Remote record missing, re-creating", map[string]interface{}{
		"op_id":       op.ID,
		"entity_type": string(op.EntityType),
		"entity_id":   op.EntityID,
		"server_id":   serverID,
	})
}
