// Package queue provides the durable sync queue: one pending operation per
// entity, merged on enqueue, retried with a fixed backoff schedule.
package queue

import (
	"context"
	"crypto/rand"
	"database/sql"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/glidenotes/notesync/internal/db"
	apperrors "github.com/glidenotes/notesync/internal/errors"
	"github.com/glidenotes/notesync/internal/logging"
	"github.com/glidenotes/notesync/internal/models"
)

// MaxRetries is the retry ceiling. The operation is dropped on the failure
// that brings its retry count to this value.
const MaxRetries = 5

// BackoffSchedule is the delay before attempt n+1 after the n-th failure.
var BackoffSchedule = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	30 * time.Second,
	60 * time.Second,
	300 * time.Second,
}

// ErrNotFound is returned when an operation or failure id does not exist.
var ErrNotFound = stderrors.New("queue entry not found")

// Backoff returns the delay after the retryCount-th failure, clamped to the
// last schedule entry.
func Backoff(retryCount int) time.Duration {
	i := retryCount - 1
	if i < 0 {
		i = 0
	}
	if i >= len(BackoffSchedule) {
		i = len(BackoffSchedule) - 1
	}
	return BackoffSchedule[i]
}

// FailOutcome reports what Fail did with an operation.
type FailOutcome struct {
	RetryCount  int
	Dropped     bool
	NextAttempt time.Time
	FailureID   string
}

type idSource struct {
	mu      sync.Mutex
	entropy io.Reader
}

func (s *idSource) next(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

// Queue is a SQLite-backed sync queue.
type Queue struct {
	db  db.DBTX
	now func() time.Time
	ids *idSource
	log *logging.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// New creates a Queue over conn.
func New(conn db.DBTX, opts ...Option) *Queue {
	q := &Queue{
		db:  conn,
		now: time.Now,
		ids: &idSource{entropy: ulid.Monotonic(rand.Reader, 0)},
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.log == nil {
		q.log = logging.Get()
	}
	q.log = q.log.With(map[string]interface{}{"component": "sync_queue"})
	return q
}

// WithTx returns a copy of the queue bound to tx.
func (q *Queue) WithTx(tx db.DBTX) *Queue {
	c := *q
	c.db = tx
	return &c
}

func (q *Queue) nowMillis() int64 {
	return models.Millis(q.now())
}

const opColumns = "id, entity_type, entity_id, operation, payload, priority, retry_count, last_error, created_at, scheduled_for, revision"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOp(s rowScanner) (*models.QueuedOperation, error) {
	var op models.QueuedOperation
	err := s.Scan(&op.ID, &op.EntityType, &op.EntityID, &op.Operation, &op.Payload,
		&op.Priority, &op.RetryCount, &op.LastError, &op.CreatedAt, &op.ScheduledFor, &op.Revision)
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func getOp(ctx context.Context, conn db.DBTX, where string, args ...interface{}) (*models.QueuedOperation, error) {
	op, err := scanOp(conn.QueryRowContext(ctx, "SELECT "+opColumns+" FROM sync_queue WHERE "+where, args...))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return op, err
}

// Enqueue records a mutation for (entityType, entityID), merging with the
// pending operation for that entity if there is one:
//   - a delete replaces whatever is queued;
//   - an update or create against a queued delete is ignored;
//   - an update or create against a queued create or update shallow-merges the
//     payload and keeps the queued operation type.
//
// Priority becomes the larger of the two. The stored operation is returned.
func (q *Queue) Enqueue(ctx context.Context, entityType models.EntityType, entityID string, op models.OperationType, payload *models.Payload, priority int) (*models.QueuedOperation, error) {
	if !entityType.Valid() {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown entity type %q", entityType)
	}
	if !op.Valid() {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown operation %q", op)
	}
	if entityID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "entity id is required")
	}
	if op == models.OpDelete {
		payload = nil
	}
	if err := payload.Validate(entityType); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid payload", err)
	}

	var stored *models.QueuedOperation
	err := withTx(ctx, q.db, func(conn db.DBTX) error {
		existing, err := getOp(ctx, conn, "entity_type = ? AND entity_id = ?", string(entityType), entityID)
		if stderrors.Is(err, ErrNotFound) {
			stored = &models.QueuedOperation{
				ID:         q.ids.next(q.now()),
				EntityType: entityType,
				EntityID:   entityID,
				Operation:  op,
				Payload:    payload,
				Priority:   priority,
				CreatedAt:  q.nowMillis(),
				Revision:   1,
			}
			_, err := conn.ExecContext(ctx, "INSERT INTO sync_queue ("+opColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
				stored.ID, string(entityType), entityID, string(op), stored.Payload, priority, 0, "", stored.CreatedAt, 0, stored.Revision)
			return err
		}
		if err != nil {
			return err
		}

		merged, changed, err := merge(existing, op, payload, priority)
		if err != nil {
			return err
		}
		stored = merged
		if !changed {
			return nil
		}
		merged.Revision++
		_, err = conn.ExecContext(ctx, `UPDATE sync_queue SET operation = ?, payload = ?, priority = ?,
			retry_count = ?, last_error = ?, scheduled_for = ?, revision = ? WHERE id = ?`,
			string(merged.Operation), merged.Payload, merged.Priority,
			merged.RetryCount, merged.LastError, merged.ScheduledFor, merged.Revision, merged.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s %s %s: %w", op, entityType, entityID, err)
	}

	q.log.Debug("Operation enqueued", map[string]interface{}{
		"op_id":       stored.ID,
		"entity_type": string(entityType),
		"entity_id":   entityID,
		"operation":   string(stored.Operation),
		"fields":      stored.Payload.Fields(),
		"revision":    stored.Revision,
	})
	return stored, nil
}

// merge folds an incoming mutation into the queued one. It reports whether
// the stored row must change.
func merge(existing *models.QueuedOperation, op models.OperationType, payload *models.Payload, priority int) (*models.QueuedOperation, bool, error) {
	out := *existing
	if priority > out.Priority {
		out.Priority = priority
	}

	switch {
	case op == models.OpDelete:
		if existing.Operation == models.OpDelete && out.Priority == existing.Priority {
			return &out, false, nil
		}
		if existing.Operation != models.OpDelete {
			out.Operation = models.OpDelete
			out.Payload = nil
			out.RetryCount = 0
			out.LastError = ""
			out.ScheduledFor = 0
		}
		return &out, true, nil

	case existing.Operation == models.OpDelete:
		// A record queued for deletion is not revived by an edit.
		return &out, out.Priority != existing.Priority, nil
	}

	merged, err := existing.Payload.Merge(payload)
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrInvalid, "merge payload", err)
	}
	out.Payload = merged
	return &out, true, nil
}

// GetPendingOperations returns operations that are due, highest priority
// first and oldest first within a priority.
func (q *Queue) GetPendingOperations(ctx context.Context) ([]*models.QueuedOperation, error) {
	return q.list(ctx, "WHERE scheduled_for = 0 OR scheduled_for <= ?", q.nowMillis())
}

// List returns every queued operation, due or not, in drain order.
func (q *Queue) List(ctx context.Context) ([]*models.QueuedOperation, error) {
	return q.list(ctx, "")
}

func (q *Queue) list(ctx context.Context, where string, args ...interface{}) ([]*models.QueuedOperation, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+opColumns+" FROM sync_queue "+where+" ORDER BY priority DESC, created_at ASC, id ASC", args...)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	var ops []*models.QueuedOperation
	for rows.Next() {
		op, err := scanOp(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Get returns one operation by id.
func (q *Queue) Get(ctx context.Context, id string) (*models.QueuedOperation, error) {
	return getOp(ctx, q.db, "id = ?", id)
}

// GetForEntity returns the pending operation for an entity.
func (q *Queue) GetForEntity(ctx context.Context, entityType models.EntityType, entityID string) (*models.QueuedOperation, error) {
	return getOp(ctx, q.db, "entity_type = ? AND entity_id = ?", string(entityType), entityID)
}

// Complete removes an acknowledged operation.
func (q *Queue) Complete(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("complete %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteRevision removes an acknowledged operation only if it has not been
// merged with a newer mutation since it was read. It reports whether the
// operation was removed.
func (q *Queue) CompleteRevision(ctx context.Context, id string, revision int64) (bool, error) {
	res, err := q.db.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ? AND revision = ?", id, revision)
	if err != nil {
		return false, fmt.Errorf("complete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// PromoteToUpdate turns a queued create into an update once the remote
// record exists.
func (q *Queue) PromoteToUpdate(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE sync_queue SET operation = 'update', revision = revision + 1 WHERE id = ? AND operation = 'create'", id)
	if err != nil {
		return fmt.Errorf("promote %s: %w", id, err)
	}
	return nil
}

// Fail records a failed attempt. On reaching MaxRetries the operation leaves
// the queue and is written to the failure ledger; otherwise it is rescheduled
// after Backoff(retryCount).
func (q *Queue) Fail(ctx context.Context, id string, cause error) (FailOutcome, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	var out FailOutcome
	var op *models.QueuedOperation
	err := withTx(ctx, q.db, func(conn db.DBTX) error {
		var err error
		op, err = getOp(ctx, conn, "id = ?", id)
		if err != nil {
			return err
		}
		out.RetryCount = op.RetryCount + 1
		now := q.now()

		if out.RetryCount >= MaxRetries {
			out.Dropped = true
			out.FailureID = q.ids.next(now)
			_, err := conn.ExecContext(ctx, `INSERT INTO sync_failures
				(id, entity_type, entity_id, operation, payload, priority, retry_count, last_error, failed_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				out.FailureID, string(op.EntityType), op.EntityID, string(op.Operation), op.Payload,
				op.Priority, out.RetryCount, msg, models.Millis(now))
			if err != nil {
				return err
			}
			_, err = conn.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", id)
			return err
		}

		out.NextAttempt = now.Add(Backoff(out.RetryCount))
		_, err = conn.ExecContext(ctx,
			"UPDATE sync_queue SET retry_count = ?, last_error = ?, scheduled_for = ? WHERE id = ?",
			out.RetryCount, msg, models.Millis(out.NextAttempt), id)
		return err
	})
	if err != nil {
		return FailOutcome{}, fmt.Errorf("fail %s: %w", id, err)
	}

	fields := map[string]interface{}{
		"op_id":       id,
		"entity_type": string(op.EntityType),
		"entity_id":   op.EntityID,
		"operation":   string(op.Operation),
		"retry_count": out.RetryCount,
	}
	if out.Dropped {
		q.log.Error("Operation exhausted retries", apperrors.Wrap(apperrors.ErrQueueExhausted, "dropped from queue", cause), fields)
	} else {
		fields["next_attempt"] = out.NextAttempt.Format(time.RFC3339)
		q.log.Warn("Operation failed, retry scheduled", fields)
	}
	return out, nil
}

// ClearForEntity removes any queued operation for an entity. It reports
// whether one existed.
func (q *Queue) ClearForEntity(ctx context.Context, entityType models.EntityType, entityID string) (bool, error) {
	res, err := q.db.ExecContext(ctx, "DELETE FROM sync_queue WHERE entity_type = ? AND entity_id = ?", string(entityType), entityID)
	if err != nil {
		return false, fmt.Errorf("clear %s %s: %w", entityType, entityID, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Count returns the number of queued operations, due or not.
func (q *Queue) Count(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue").Scan(&n)
	return n, err
}

// NextScheduled returns the earliest future retry time, or zero if nothing is waiting.
func (q *Queue) NextScheduled(ctx context.Context) (time.Time, error) {
	var ms sql.NullInt64
	err := q.db.QueryRowContext(ctx, "SELECT MIN(scheduled_for) FROM sync_queue WHERE scheduled_for > ?", q.nowMillis()).Scan(&ms)
	if err != nil || !ms.Valid {
		return time.Time{}, err
	}
	return models.TimeOf(ms.Int64), nil
}

func withTx(ctx context.Context, conn db.DBTX, fn func(db.DBTX) error) error {
	if sqlDB, ok := conn.(*sql.DB); ok {
		return db.RunInTx(ctx, sqlDB, func(tx *sql.Tx) error { return fn(tx) })
	}
	return fn(conn)
}
