// Package services is the interaction layer: every user mutation writes the
// entity store and records the matching queue operation in one transaction,
// so a crash can never leave an edit without its pending sync.
package services

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/glidenotes/notesync/internal/db"
	apperrors "github.com/glidenotes/notesync/internal/errors"
	"github.com/glidenotes/notesync/internal/logging"
	"github.com/glidenotes/notesync/internal/models"
	"github.com/glidenotes/notesync/internal/sync/queue"
)

// Priorities given to queued operations. Folders go first so notes filed in
// a new folder are not deferred behind it.
const (
	PriorityFolder = 10
	PriorityNote   = 5
	PriorityAction = 0
)

// Service coordinates local writes with the sync queue.
type Service struct {
	conn  *sql.DB
	repo  *db.Repository
	queue *queue.Queue
	log   *logging.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New creates a Service. conn must be the database repo and q were built on.
func New(conn *sql.DB, repo *db.Repository, q *queue.Queue, opts ...Option) *Service {
	s := &Service{conn: conn, repo: repo, queue: q}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.Get()
	}
	s.log = s.log.With(map[string]interface{}{"component": "services"})
	return s
}

// Repository exposes the underlying entity store for reads.
func (s *Service) Repository() *db.Repository {
	return s.repo
}

// Queue exposes the underlying sync queue.
func (s *Service) Queue() *queue.Queue {
	return s.queue
}

// mutate runs fn with a transaction-bound repository and queue.
func (s *Service) mutate(ctx context.Context, fn func(repo *db.Repository, q *queue.Queue) error) error {
	return db.RunInTx(ctx, s.conn, func(tx *sql.Tx) error {
		return fn(s.repo.WithTx(tx), s.queue.WithTx(tx))
	})
}

func (s *Service) logQueued(op *models.QueuedOperation) {
	s.log.Info("Local change queued", map[string]interface{}{
		"entity_type": string(op.EntityType),
		"entity_id":   op.EntityID,
		"operation":   string(op.Operation),
		"op_id":       op.ID,
	})
}

// notFound maps a store miss to the NOT_FOUND code.
func notFound(err error, t models.EntityType, localID string) error {
	if stderrors.Is(err, db.ErrNotFound) {
		return apperrors.Newf(apperrors.ErrNotFound, "%s %s not found", t, localID)
	}
	return err
}

// requireLive fails with VALIDATION_ERROR unless localID names a live record.
func requireLive(ctx context.Context, repo *db.Repository, t models.EntityType, localID string) error {
	e, err := repo.GetEntity(ctx, t, localID)
	if stderrors.Is(err, db.ErrNotFound) || (err == nil && e.Sync().IsDeleted) {
		return apperrors.Newf(apperrors.ErrValidation, "%s %s does not exist", t, localID)
	}
	return err
}
