package db

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/glidenotes/notesync/internal/errors"
	"github.com/glidenotes/notesync/internal/models"
	"github.com/glidenotes/notesync/internal/uuid"
)

// Origin tells Update who is writing. Remote-originated writes keep the
// record's sync status and timestamps.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

// UpsertOutcome describes what UpsertFromRemote did.
type UpsertOutcome string

const (
	UpsertCreated   UpsertOutcome = "created"
	UpsertUpdated   UpsertOutcome = "updated"
	UpsertLinked    UpsertOutcome = "linked"
	UpsertUnchanged UpsertOutcome = "unchanged"
)

// UpsertResult reports the local record a remote record landed in.
type UpsertResult struct {
	LocalID string
	Outcome UpsertOutcome
}

// Repository is the Entity Store for notes, folders and actions.
type Repository struct {
	db    DBTX
	now   func() time.Time
	newID uuid.Source
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithIDSource overrides local id generation.
func WithIDSource(src uuid.Source) Option {
	return func(r *Repository) { r.newID = src }
}

// NewRepository creates a new Repository instance.
func NewRepository(db DBTX, opts ...Option) *Repository {
	r := &Repository{db: db, now: time.Now, newID: uuid.Random}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithTx returns a copy of the repository bound to tx.
func (r *Repository) WithTx(tx DBTX) *Repository {
	c := *r
	c.db = tx
	return &c
}

func (r *Repository) nowMillis() int64 {
	return models.Millis(r.now())
}

// nextLocalStamp keeps local_updated_at strictly increasing per record and
// ahead of the last agreed server version, so a pending record always reads
// as locally changed.
func (r *Repository) nextLocalStamp(s *models.SyncFields) int64 {
	ts := r.nowMillis()
	if ts <= s.LocalUpdatedAt {
		ts = s.LocalUpdatedAt + 1
	}
	if ts <= s.ServerUpdatedAt {
		ts = s.ServerUpdatedAt + 1
	}
	return ts
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const syncColumns = "local_id, server_id, sync_status, local_updated_at, server_updated_at, is_deleted, created_at"

func syncDest(s *models.SyncFields, serverID *sql.NullString) []interface{} {
	return []interface{}{&s.LocalID, serverID, &s.SyncStatus, &s.LocalUpdatedAt, &s.ServerUpdatedAt, &s.IsDeleted, &s.CreatedAt}
}

func syncValues(s *models.SyncFields) []interface{} {
	return []interface{}{s.LocalID, nullString(s.ServerID), string(s.SyncStatus), s.LocalUpdatedAt, s.ServerUpdatedAt, s.IsDeleted, s.CreatedAt}
}

// kind describes how one entity type maps onto its table.
type kind[T models.Entity] struct {
	entity  models.EntityType
	table   string
	columns []string
	scan    func(rowScanner) (T, error)
	values  func(T) ([]interface{}, error)

	// protected reports records that SoftDelete must refuse.
	protected func(T) bool
	// onDelete and onRestore adjust domain fields when the tombstone changes.
	onDelete  func(T, int64)
	onRestore func(T)
	// link finds a local-only record that a remote record should adopt.
	link func(ctx context.Context, q DBTX, k kind[T], rec T) (T, bool, error)
	// pruneGuard is an extra SQL condition for records eligible for pruning.
	pruneGuard string
}

func (k kind[T]) selectSQL() string {
	return "SELECT " + syncColumns + ", " + strings.Join(k.columns, ", ") + " FROM " + k.table
}

func getOne[T models.Entity](ctx context.Context, q DBTX, k kind[T], where string, args ...interface{}) (T, error) {
	e, err := k.scan(q.QueryRowContext(ctx, k.selectSQL()+" WHERE "+where, args...))
	if stderrors.Is(err, sql.ErrNoRows) {
		var zero T
		return zero, ErrNotFound
	}
	if err != nil {
		var zero T
		return zero, fmt.Errorf("get %s: %w", k.entity, err)
	}
	return e, nil
}

func listWhere[T models.Entity](ctx context.Context, q DBTX, k kind[T], where string, tail string, args ...interface{}) ([]T, error) {
	query := k.selectSQL()
	if where != "" {
		query += " WHERE " + where
	}
	query += " " + tail
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", k.entity, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		e, err := k.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", k.entity, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func insertRow[T models.Entity](ctx context.Context, q DBTX, k kind[T], e T) error {
	domain, err := k.values(e)
	if err != nil {
		return err
	}
	args := append(syncValues(e.Sync()), domain...)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
	query := "INSERT INTO " + k.table + " (" + syncColumns + ", " + strings.Join(k.columns, ", ") + ") VALUES (" + placeholders + ")"
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", k.entity, err)
	}
	return nil
}

func writeRow[T models.Entity](ctx context.Context, q DBTX, k kind[T], e T) error {
	domain, err := k.values(e)
	if err != nil {
		return err
	}
	s := e.Sync()
	sets := []string{"server_id = ?", "sync_status = ?", "local_updated_at = ?", "server_updated_at = ?", "is_deleted = ?"}
	args := []interface{}{nullString(s.ServerID), string(s.SyncStatus), s.LocalUpdatedAt, s.ServerUpdatedAt, s.IsDeleted}
	for _, c := range k.columns {
		sets = append(sets, c+" = ?")
	}
	args = append(args, domain...)
	args = append(args, s.LocalID)
	query := "UPDATE " + k.table + " SET " + strings.Join(sets, ", ") + " WHERE local_id = ?"
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update %s: %w", k.entity, err)
	}
	return nil
}

func create[T models.Entity](ctx context.Context, r *Repository, k kind[T], e T) error {
	s := e.Sync()
	if s.LocalID == "" {
		s.LocalID = r.newID()
	}
	now := r.nowMillis()
	if s.CreatedAt == 0 {
		s.CreatedAt = now
	}
	s.IsDeleted = false
	if s.ServerID != "" {
		s.SyncStatus = models.SyncStatusSynced
		if s.ServerUpdatedAt == 0 {
			s.ServerUpdatedAt = now
		}
		s.LocalUpdatedAt = s.ServerUpdatedAt
	} else {
		s.SyncStatus = models.SyncStatusPending
		s.ServerUpdatedAt = 0
		s.LocalUpdatedAt = now
	}
	return insertRow(ctx, r.db, k, e)
}

func update[T models.Entity](ctx context.Context, r *Repository, k kind[T], localID string, origin Origin, mutate func(T)) (T, error) {
	var out T
	err := withTx(ctx, r.db, func(q DBTX) error {
		e, err := getOne(ctx, q, k, "local_id = ?", localID)
		if err != nil {
			return err
		}
		s := e.Sync()
		if s.IsDeleted && origin == OriginLocal {
			return ErrNotFound
		}
		mutate(e)
		if origin == OriginLocal {
			s.LocalUpdatedAt = r.nextLocalStamp(s)
			s.SyncStatus = models.SyncStatusPending
		}
		out = e
		return writeRow(ctx, q, k, e)
	})
	return out, err
}

func softDelete[T models.Entity](ctx context.Context, r *Repository, k kind[T], localID string) (bool, error) {
	deleted := false
	err := withTx(ctx, r.db, func(q DBTX) error {
		e, err := getOne(ctx, q, k, "local_id = ?", localID)
		if stderrors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if k.protected != nil && k.protected(e) {
			return nil
		}
		s := e.Sync()
		s.LocalUpdatedAt = r.nextLocalStamp(s)
		s.IsDeleted = true
		s.SyncStatus = models.SyncStatusPending
		if k.onDelete != nil {
			k.onDelete(e, s.LocalUpdatedAt)
		}
		deleted = true
		return writeRow(ctx, q, k, e)
	})
	return deleted, err
}

func restore[T models.Entity](ctx context.Context, r *Repository, k kind[T], localID string) (T, error) {
	var out T
	err := withTx(ctx, r.db, func(q DBTX) error {
		e, err := getOne(ctx, q, k, "local_id = ?", localID)
		if err != nil {
			return err
		}
		s := e.Sync()
		if !s.IsDeleted {
			out = e
			return nil
		}
		s.IsDeleted = false
		s.LocalUpdatedAt = r.nextLocalStamp(s)
		s.SyncStatus = models.SyncStatusPending
		if k.onRestore != nil {
			k.onRestore(e)
		}
		out = e
		return writeRow(ctx, q, k, e)
	})
	return out, err
}

func upsertFromRemote[T models.Entity](ctx context.Context, r *Repository, k kind[T], rec T) (UpsertResult, error) {
	in := rec.Sync()
	if in.ServerID == "" {
		return UpsertResult{}, apperrors.Newf(apperrors.ErrInvalid, "remote %s has no server id", k.entity)
	}

	var res UpsertResult
	err := withTx(ctx, r.db, func(q DBTX) error {
		existing, err := getOne(ctx, q, k, "server_id = ?", in.ServerID)
		switch {
		case err == nil:
			cur := existing.Sync()
			res.LocalID = cur.LocalID
			if in.ServerUpdatedAt <= cur.ServerUpdatedAt {
				res.Outcome = UpsertUnchanged
				return nil
			}
			adoptRemote(in, cur.LocalID, cur.CreatedAt)
			res.Outcome = UpsertUpdated
			return writeRow(ctx, q, k, rec)
		case !stderrors.Is(err, ErrNotFound):
			return err
		}

		if k.link != nil {
			candidate, ok, err := k.link(ctx, q, k, rec)
			if err != nil {
				return err
			}
			if ok {
				cur := candidate.Sync()
				adoptRemote(in, cur.LocalID, cur.CreatedAt)
				res = UpsertResult{LocalID: cur.LocalID, Outcome: UpsertLinked}
				return writeRow(ctx, q, k, rec)
			}
		}

		createdAt := in.CreatedAt
		if createdAt == 0 {
			createdAt = r.nowMillis()
		}
		adoptRemote(in, r.newID(), createdAt)
		res = UpsertResult{LocalID: in.LocalID, Outcome: UpsertCreated}
		return insertRow(ctx, q, k, rec)
	})
	return res, err
}

// adoptRemote stamps a remote record with local identity and synced state.
func adoptRemote(s *models.SyncFields, localID string, createdAt int64) {
	s.LocalID = localID
	s.CreatedAt = createdAt
	s.SyncStatus = models.SyncStatusSynced
	s.LocalUpdatedAt = s.ServerUpdatedAt
	s.IsDeleted = false
}

func pruneMissing[T models.Entity](ctx context.Context, r *Repository, k kind[T], seen map[string]bool) ([]string, error) {
	var pruned []string
	err := withTx(ctx, r.db, func(q DBTX) error {
		doomed, _, err := unseen(ctx, q, k.table, k.pruneGuard, seen)
		if err != nil {
			return err
		}
		for _, id := range doomed {
			if _, err := q.ExecContext(ctx, "DELETE FROM "+k.table+" WHERE local_id = ?", id); err != nil {
				return err
			}
		}
		pruned = doomed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("prune %s: %w", k.entity, err)
	}
	return pruned, nil
}

// unseen lists the synced records of table whose server id is not in seen.
func unseen(ctx context.Context, q DBTX, table, guard string, seen map[string]bool) (localIDs, serverIDs []string, err error) {
	where := "sync_status = 'synced' AND server_id IS NOT NULL"
	if guard != "" {
		where += " AND " + guard
	}
	rows, err := q.QueryContext(ctx, "SELECT local_id, server_id FROM "+table+" WHERE "+where+" ORDER BY local_id")
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var localID, serverID string
		if err := rows.Scan(&localID, &serverID); err != nil {
			return nil, nil, err
		}
		if !seen[serverID] {
			localIDs = append(localIDs, localID)
			serverIDs = append(serverIDs, serverID)
		}
	}
	return localIDs, serverIDs, rows.Err()
}

func tableFor(t models.EntityType) (string, error) {
	switch t {
	case models.EntityNote:
		return "notes", nil
	case models.EntityFolder:
		return "folders", nil
	case models.EntityAction:
		return "actions", nil
	}
	return "", apperrors.Newf(apperrors.ErrInvalid, "unknown entity type %q", t)
}

// GetEntity loads any entity by local id, tombstones included.
func (r *Repository) GetEntity(ctx context.Context, t models.EntityType, localID string) (models.Entity, error) {
	switch t {
	case models.EntityNote:
		return r.GetNote(ctx, localID)
	case models.EntityFolder:
		return r.GetFolder(ctx, localID)
	case models.EntityAction:
		return r.GetAction(ctx, localID)
	}
	return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown entity type %q", t)
}

// ServerIDOf returns the server id of a local record, or "" if it has none.
func (r *Repository) ServerIDOf(ctx context.Context, t models.EntityType, localID string) (string, error) {
	table, err := tableFor(t)
	if err != nil {
		return "", err
	}
	var sid sql.NullString
	err = r.db.QueryRowContext(ctx, "SELECT server_id FROM "+table+" WHERE local_id = ?", localID).Scan(&sid)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("server id of %s %s: %w", t, localID, err)
	}
	return sid.String, nil
}

// LocalIDOf resolves a server id to the local id holding it.
func (r *Repository) LocalIDOf(ctx context.Context, t models.EntityType, serverID string) (string, error) {
	table, err := tableFor(t)
	if err != nil {
		return "", err
	}
	var localID string
	err = r.db.QueryRowContext(ctx, "SELECT local_id FROM "+table+" WHERE server_id = ?", serverID).Scan(&localID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("local id of %s %s: %w", t, serverID, err)
	}
	return localID, nil
}

// MarkSynced records a remote acknowledgment. The server id is assigned if the
// record has none; a different existing one is a SERVER_ID_CONFLICT. The record
// becomes synced only if it was not edited after observedLocal, the
// local_updated_at value read before dispatch; otherwise its local stamp is
// kept ahead of the acknowledged server version so the edit still reads as a
// local change. It reports whether the record is now synced.
func (r *Repository) MarkSynced(ctx context.Context, t models.EntityType, localID, serverID string, serverUpdatedAt, observedLocal int64) (bool, error) {
	table, err := tableFor(t)
	if err != nil {
		return false, err
	}
	synced := false
	err = withTx(ctx, r.db, func(q DBTX) error {
		var current sql.NullString
		err := q.QueryRowContext(ctx, "SELECT server_id FROM "+table+" WHERE local_id = ?", localID).Scan(&current)
		if stderrors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if current.Valid && serverID != "" && current.String != serverID {
			return apperrors.Newf(apperrors.ErrServerIDConflict,
				"%s %s already has server id %s, got %s", t, localID, current.String, serverID)
		}

		_, err = q.ExecContext(ctx, `UPDATE `+table+` SET
			server_id = COALESCE(server_id, NULLIF(?, '')),
			server_updated_at = MAX(server_updated_at, ?),
			sync_status = CASE WHEN local_updated_at <= ? THEN 'synced' ELSE sync_status END,
			local_updated_at = CASE WHEN local_updated_at <= ? THEN MIN(local_updated_at, ?) ELSE MAX(local_updated_at, ? + 1) END
			WHERE local_id = ?`,
			serverID, serverUpdatedAt, observedLocal, observedLocal, serverUpdatedAt, serverUpdatedAt, localID)
		if err != nil {
			return err
		}

		var status string
		if err := q.QueryRowContext(ctx, "SELECT sync_status FROM "+table+" WHERE local_id = ?", localID).Scan(&status); err != nil {
			return err
		}
		synced = models.SyncStatus(status) == models.SyncStatusSynced
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("mark %s %s synced: %w", t, localID, err)
	}
	return synced, nil
}

// ReplaceServerID re-points a record whose remote counterpart no longer
// exists at a newly created one. It only applies while the record still holds
// oldServerID, and resets server_updated_at so the next MarkSynced records the
// new version.
func (r *Repository) ReplaceServerID(ctx context.Context, t models.EntityType, localID, oldServerID, newServerID string) error {
	table, err := tableFor(t)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		"UPDATE "+table+" SET server_id = ?, server_updated_at = 0 WHERE local_id = ? AND server_id = ?",
		newServerID, localID, oldServerID)
	if err != nil {
		return fmt.Errorf("replace server id of %s %s: %w", t, localID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchServerVersion advances server_updated_at without changing sync status.
// A pending record keeps local_updated_at ahead of the new baseline so it
// still reads as locally changed.
func (r *Repository) TouchServerVersion(ctx context.Context, t models.EntityType, localID string, serverUpdatedAt int64) error {
	table, err := tableFor(t)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `UPDATE `+table+` SET
		server_updated_at = MAX(server_updated_at, ?),
		local_updated_at = CASE WHEN sync_status = 'pending' AND local_updated_at <= ? THEN ? + 1 ELSE local_updated_at END
		WHERE local_id = ?`,
		serverUpdatedAt, serverUpdatedAt, serverUpdatedAt, localID)
	if err != nil {
		return fmt.Errorf("touch %s %s: %w", t, localID, err)
	}
	return nil
}

// Purge hard-deletes a record. It reports whether a row was removed.
func (r *Repository) Purge(ctx context.Context, t models.EntityType, localID string) (bool, error) {
	table, err := tableFor(t)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE local_id = ?", localID)
	if err != nil {
		return false, fmt.Errorf("purge %s %s: %w", t, localID, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Count returns the number of local records of type t.
func (r *Repository) Count(ctx context.Context, t models.EntityType, includeDeleted bool) (int, error) {
	table, err := tableFor(t)
	if err != nil {
		return 0, err
	}
	query := "SELECT COUNT(*) FROM " + table
	if !includeDeleted {
		query += " WHERE is_deleted = 0"
	}
	var n int
	err = r.db.QueryRowContext(ctx, query).Scan(&n)
	return n, err
}

// PruneMissing purges synced records of type t whose server id is not in seen.
func (r *Repository) PruneMissing(ctx context.Context, t models.EntityType, seen map[string]bool) ([]string, error) {
	switch t {
	case models.EntityNote:
		return pruneMissing(ctx, r, noteKind, seen)
	case models.EntityFolder:
		return pruneMissing(ctx, r, folderKind, seen)
	case models.EntityAction:
		return pruneMissing(ctx, r, actionKind, seen)
	}
	return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown entity type %q", t)
}

// PruneCandidates returns the server ids PruneMissing would purge for the
// same seen set, without deleting anything.
func (r *Repository) PruneCandidates(ctx context.Context, t models.EntityType, seen map[string]bool) ([]string, error) {
	var table, guard string
	switch t {
	case models.EntityNote:
		table, guard = noteKind.table, noteKind.pruneGuard
	case models.EntityFolder:
		table, guard = folderKind.table, folderKind.pruneGuard
	case models.EntityAction:
		table, guard = actionKind.table, actionKind.pruneGuard
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown entity type %q", t)
	}
	_, ids, err := unseen(ctx, r.db, table, guard, seen)
	if err != nil {
		return nil, fmt.Errorf("list %s prune candidates: %w", t, err)
	}
	return ids, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func encodeJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSON(raw string, v interface{}) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}
