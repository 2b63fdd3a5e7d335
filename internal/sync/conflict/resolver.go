package conflict

import (
	"context"
	"fmt"
	"time"

	"github.com/glidenotes/notesync/internal/db"
	apperrors "github.com/glidenotes/notesync/internal/errors"
	"github.com/glidenotes/notesync/internal/logging"
	"github.com/glidenotes/notesync/internal/models"
)

// DefaultCopyPrefix marks the title of a conflict copy.
const DefaultCopyPrefix = "(Conflicted copy) "

// DefaultStrategy is what the pull phase applies to detected conflicts.
const DefaultStrategy = models.StrategyKeepServer

// Store is the part of the Entity Store the resolver writes through.
type Store interface {
	CreateNote(ctx context.Context, n *models.Note) error
	CreateFolder(ctx context.Context, f *models.Folder) error
	CreateAction(ctx context.Context, a *models.Action) error
	UpsertNoteFromRemote(ctx context.Context, n *models.Note) (db.UpsertResult, error)
	UpsertFolderFromRemote(ctx context.Context, f *models.Folder) (db.UpsertResult, error)
	UpsertActionFromRemote(ctx context.Context, a *models.Action) (db.UpsertResult, error)
	UpdateNote(ctx context.Context, localID string, patch models.NotePatch, origin db.Origin) (*models.Note, error)
	TouchServerVersion(ctx context.Context, t models.EntityType, localID string, serverUpdatedAt int64) error
	CreateConflictLog(ctx context.Context, c *models.ConflictLog) error
}

var _ Store = (*db.Repository)(nil)

// Resolution reports what Resolve did.
type Resolution struct {
	Strategy    models.ConflictStrategy
	Significant bool
	// Copy is the conflict copy holding the pre-conflict local content, if one
	// was created. It is pending and has no server id.
	Copy models.Entity
	// ServerApplied is true when the local record now holds the remote state.
	ServerApplied bool
	Log           *models.ConflictLog
}

// CopyLocalID returns the conflict copy's local id, or "".
func (r *Resolution) CopyLocalID() string {
	if r == nil || r.Copy == nil {
		return ""
	}
	return r.Copy.Sync().LocalID
}

// Resolver reconciles conflicting local and remote versions of a record.
type Resolver struct {
	store      Store
	copyPrefix string
	log        *logging.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCopyPrefix overrides the conflict copy title prefix.
func WithCopyPrefix(p string) Option {
	return func(r *Resolver) { r.copyPrefix = p }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// NewResolver creates a Resolver writing through store.
func NewResolver(store Store, opts ...Option) *Resolver {
	r := &Resolver{store: store, copyPrefix: DefaultCopyPrefix}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logging.Get()
	}
	return r
}

// WithStore returns a copy of the resolver writing through s, typically a
// transaction-bound repository.
func (r *Resolver) WithStore(s Store) *Resolver {
	c := *r
	c.store = s
	return &c
}

// Resolve reconciles local with remote using strategy. remote must carry the
// server id and server_updated_at of the incoming version, with references
// already translated to local ids.
func (r *Resolver) Resolve(ctx context.Context, local, remote models.Entity, strategy models.ConflictStrategy) (*Resolution, error) {
	if local == nil || remote == nil {
		return nil, ErrInvalidConflict
	}
	if local.EntityType() != remote.EntityType() {
		return nil, ErrTypeMismatch
	}
	if !strategy.Valid() {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown conflict strategy %q", strategy)
	}
	ls, rs := local.Sync(), remote.Sync()
	if rs.ServerID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "remote version has no server id")
	}
	if ls.ServerID != "" && ls.ServerID != rs.ServerID {
		return nil, ErrServerIDMismatch
	}

	res := &Resolution{Strategy: strategy, Significant: HasSignificantDifference(local, remote)}
	fields := map[string]interface{}{
		"entity_type":      string(local.EntityType()),
		"local_id":         ls.LocalID,
		"server_id":        rs.ServerID,
		"local_timestamp":  ls.LocalUpdatedAt,
		"remote_timestamp": rs.ServerUpdatedAt,
		"strategy":         string(strategy),
		"significant":      res.Significant,
	}
	r.log.Warn("Concurrent edit conflict detected", fields)

	var err error
	switch strategy {
	case models.StrategyKeepLocal:
		err = r.store.TouchServerVersion(ctx, local.EntityType(), ls.LocalID, rs.ServerUpdatedAt)
	case models.StrategyMerge:
		err = r.merge(ctx, local, remote)
	case models.StrategyKeepServer, models.StrategyCreateCopy:
		if (strategy == models.StrategyCreateCopy || res.Significant) && !ls.IsDeleted {
			if res.Copy, err = r.spawnCopy(ctx, local); err != nil {
				break
			}
		}
		if err = r.applyRemote(ctx, remote); err == nil {
			res.ServerApplied = true
		}
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s %s with %s: %w", local.EntityType(), ls.LocalID, strategy, err)
	}

	res.Log = &models.ConflictLog{
		EntityType:      local.EntityType(),
		LocalID:         ls.LocalID,
		CopyLocalID:     res.CopyLocalID(),
		LocalTimestamp:  ls.LocalUpdatedAt,
		RemoteTimestamp: rs.ServerUpdatedAt,
		Strategy:        strategy,
	}
	if err := r.store.CreateConflictLog(ctx, res.Log); err != nil {
		return nil, fmt.Errorf("record conflict: %w", err)
	}

	fields["copy_local_id"] = res.CopyLocalID()
	fields["detected_at"] = res.Log.DetectedAtTime().Format(time.RFC3339)
	r.log.Info("Conflict resolved", fields)
	return res, nil
}

// spawnCopy saves the local content as a new pending record.
func (r *Resolver) spawnCopy(ctx context.Context, local models.Entity) (models.Entity, error) {
	switch l := local.(type) {
	case *models.Note:
		c := l.Clone()
		c.SyncFields = models.SyncFields{}
		c.Title = r.copyPrefix + l.Title
		c.DeletedAt = 0
		return c, r.store.CreateNote(ctx, c)
	case *models.Folder:
		c := l.Clone()
		c.SyncFields = models.SyncFields{}
		c.Name = r.copyPrefix + l.Name
		c.IsSystem = false
		return c, r.store.CreateFolder(ctx, c)
	case *models.Action:
		c := l.Clone()
		c.SyncFields = models.SyncFields{}
		c.Title = r.copyPrefix + l.Title
		return c, r.store.CreateAction(ctx, c)
	}
	return nil, ErrTypeMismatch
}

func (r *Resolver) applyRemote(ctx context.Context, remote models.Entity) error {
	var err error
	switch rm := remote.(type) {
	case *models.Note:
		_, err = r.store.UpsertNoteFromRemote(ctx, rm.Clone())
	case *models.Folder:
		_, err = r.store.UpsertFolderFromRemote(ctx, rm.Clone())
	case *models.Action:
		_, err = r.store.UpsertActionFromRemote(ctx, rm.Clone())
	default:
		err = ErrTypeMismatch
	}
	return err
}

// merge copies remote enrichment onto a note without touching user-authored
// content. Folders and actions have no such fields, so only the server
// version is recorded.
func (r *Resolver) merge(ctx context.Context, local, remote models.Entity) error {
	ls := local.Sync()
	if rn, ok := remote.(*models.Note); ok {
		if _, err := r.store.UpdateNote(ctx, ls.LocalID, MetadataPatch(rn), db.OriginRemote); err != nil {
			return err
		}
	}
	return r.store.TouchServerVersion(ctx, local.EntityType(), ls.LocalID, remote.Sync().ServerUpdatedAt)
}

// MetadataPatch selects the remote-derived note fields the merge strategy
// applies: summary, duration, audio URL and AI metadata.
func MetadataPatch(n *models.Note) models.NotePatch {
	p := models.NotePatch{
		Summary:  models.Ptr(n.Summary),
		Duration: models.Ptr(n.Duration),
		AudioURL: models.Ptr(n.AudioURL),
	}
	if n.AIMetadata != nil {
		meta := make(map[string]string, len(n.AIMetadata))
		for k, v := range n.AIMetadata {
			meta[k] = v
		}
		p.AIMetadata = &meta
	}
	return p
}

// Errors
var (
	ErrInvalidConflict  = &ConflictError{Message: "invalid conflict: both versions must be non-nil"}
	ErrTypeMismatch     = &ConflictError{Message: "entity type mismatch"}
	ErrServerIDMismatch = &ConflictError{Message: "server id mismatch"}
)

// ConflictError represents a conflict resolution error.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}
