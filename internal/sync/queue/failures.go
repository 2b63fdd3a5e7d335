package queue

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/glidenotes/notesync/internal/db"
	"github.com/glidenotes/notesync/internal/models"
)

const failureColumns = "id, entity_type, entity_id, operation, payload, priority, retry_count, last_error, failed_at"

// ListFailures returns the permanent-failure ledger, newest first.
func (q *Queue) ListFailures(ctx context.Context) ([]*models.SyncFailure, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT "+failureColumns+" FROM sync_failures ORDER BY failed_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()

	var out []*models.SyncFailure
	for rows.Next() {
		f, err := scanFailure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CountFailures returns the size of the failure ledger.
func (q *Queue) CountFailures(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_failures").Scan(&n)
	return n, err
}

func scanFailure(s rowScanner) (*models.SyncFailure, error) {
	var f models.SyncFailure
	err := s.Scan(&f.ID, &f.EntityType, &f.EntityID, &f.Operation, &f.Payload,
		&f.Priority, &f.RetryCount, &f.LastError, &f.FailedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// RetryFailure moves a ledger entry back into the queue with a fresh retry
// budget, merging with anything queued for the entity since.
func (q *Queue) RetryFailure(ctx context.Context, id string) (*models.QueuedOperation, error) {
	var op *models.QueuedOperation
	err := withTx(ctx, q.db, func(conn db.DBTX) error {
		f, err := scanFailure(conn.QueryRowContext(ctx, "SELECT "+failureColumns+" FROM sync_failures WHERE id = ?", id))
		if stderrors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if _, err := conn.ExecContext(ctx, "DELETE FROM sync_failures WHERE id = ?", id); err != nil {
			return err
		}
		op, err = q.WithTx(conn).Enqueue(ctx, f.EntityType, f.EntityID, f.Operation, f.Payload, f.Priority)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("retry failure %s: %w", id, err)
	}
	return op, nil
}

// DismissFailure deletes a ledger entry. It reports whether it existed.
func (q *Queue) DismissFailure(ctx context.Context, id string) (bool, error) {
	res, err := q.db.ExecContext(ctx, "DELETE FROM sync_failures WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("dismiss failure %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
