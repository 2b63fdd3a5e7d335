package db

import (
	"context"
	"fmt"

	"github.com/glidenotes/notesync/internal/models"
)

// CreateConflictLog records a detected conflict.
func (r *Repository) CreateConflictLog(ctx context.Context, c *models.ConflictLog) error {
	if c.DetectedAt == 0 {
		c.DetectedAt = r.nowMillis()
	}
	res, err := r.db.ExecContext(ctx, `
	INSERT INTO conflict_log (entity_type, local_id, copy_local_id, local_timestamp, remote_timestamp, strategy, detected_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(c.EntityType), c.LocalID, c.CopyLocalID, c.LocalTimestamp, c.RemoteTimestamp, string(c.Strategy), c.DetectedAt)
	if err != nil {
		return fmt.Errorf("create conflict log: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// ListConflictLogs returns the most recent conflicts first.
func (r *Repository) ListConflictLogs(ctx context.Context, limit int) ([]*models.ConflictLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, entity_type, local_id, copy_local_id, local_timestamp, remote_timestamp, strategy, detected_at
	FROM conflict_log ORDER BY detected_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conflict logs: %w", err)
	}
	defer rows.Close()

	var out []*models.ConflictLog
	for rows.Next() {
		var c models.ConflictLog
		if err := rows.Scan(&c.ID, &c.EntityType, &c.LocalID, &c.CopyLocalID,
			&c.LocalTimestamp, &c.RemoteTimestamp, &c.Strategy, &c.DetectedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
