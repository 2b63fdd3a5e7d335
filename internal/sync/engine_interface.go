// Package sync provides the sync engine: it pushes queued local mutations to
// the remote service, pulls remote state back through the conflict resolver,
// and performs the one-time hydration of an empty store.
package sync

import (
	"context"
	"time"

	"github.com/glidenotes/notesync/internal/models"
)

// SyncEngineInterface defines the interface for sync engine operations.
// The scheduler and the serve command depend on it rather than on *Engine.
type SyncEngineInterface interface {
	// Sync runs one push-then-pull cycle. A call made while another cycle is
	// running returns a result with AlreadyInProgress set and a nil error.
	Sync(ctx context.Context) (*SyncResult, error)

	// Hydrate pulls the whole remote collection into the local store.
	Hydrate(ctx context.Context) (*SyncResult, error)

	// IsHydrated reports whether hydration has completed once.
	IsHydrated(ctx context.Context) (bool, error)

	// QueueOperation records a local mutation for the next push.
	QueueOperation(ctx context.Context, entityType models.EntityType, entityID string, op models.OperationType, payload *models.Payload, priority int) (*models.QueuedOperation, error)

	// GetPendingCount returns the number of queued operations.
	GetPendingCount(ctx context.Context) (int, error)

	// Subscribe delivers progress events until the returned cancel func is called.
	Subscribe(buffer int) (<-chan Event, func())

	// Status returns the current engine state.
	Status() State

	// LastSync returns the completion time of the last cycle that finished its pull.
	LastSync() *time.Time

	// LastError returns the error that ended the most recent cycle, if any.
	LastError() error
}

var _ SyncEngineInterface = (*Engine)(nil)
