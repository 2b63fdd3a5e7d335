package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/glidenotes/notesync/internal/models"
)

// Metadata keys.
const (
	MetaHydrated   = "hydrated"
	MetaLastSyncAt = "last_sync_at"
)

// GetMeta returns a metadata value and whether it was present.
func (r *Repository) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM sync_meta WHERE key = ?", key).Scan(&v)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get meta %s: %w", key, err)
	}
	return v, true, nil
}

// SetMeta stores a metadata value.
func (r *Repository) SetMeta(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO sync_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// IsHydrated reports whether initial hydration has completed.
func (r *Repository) IsHydrated(ctx context.Context) (bool, error) {
	v, ok, err := r.GetMeta(ctx, MetaHydrated)
	if err != nil || !ok {
		return false, err
	}
	return strconv.ParseBool(v)
}

// SetHydrated records the hydration flag.
func (r *Repository) SetHydrated(ctx context.Context, hydrated bool) error {
	return r.SetMeta(ctx, MetaHydrated, strconv.FormatBool(hydrated))
}

// LastSyncAt returns the completion time of the last sync cycle, zero if none.
func (r *Repository) LastSyncAt(ctx context.Context) (time.Time, error) {
	v, ok, err := r.GetMeta(ctx, MetaLastSyncAt)
	if err != nil || !ok {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", MetaLastSyncAt, err)
	}
	return models.TimeOf(ms), nil
}

// SetLastSyncAt records the completion time of a sync cycle.
func (r *Repository) SetLastSyncAt(ctx context.Context, t time.Time) error {
	return r.SetMeta(ctx, MetaLastSyncAt, strconv.FormatInt(models.Millis(t), 10))
}
