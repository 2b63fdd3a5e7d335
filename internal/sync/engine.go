package sync

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	stdsync "sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/glidenotes/notesync/internal/db"
	apperrors "github.com/glidenotes/notesync/internal/errors"
	"github.com/glidenotes/notesync/internal/logging"
	"github.com/glidenotes/notesync/internal/models"
	"github.com/glidenotes/notesync/internal/remote"
	"github.com/glidenotes/notesync/internal/sync/conflict"
	"github.com/glidenotes/notesync/internal/sync/queue"
)

// State represents the current engine state.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateError   State = "error"
)

// SyncResult represents the result of a sync or hydrate cycle.
type SyncResult struct {
	Pushed            int       `json:"pushed" yaml:"pushed"`
	Pulled            int       `json:"pulled" yaml:"pulled"`
	Conflicts         int       `json:"conflicts" yaml:"conflicts"`
	Deferred          int       `json:"deferred" yaml:"deferred"`
	Dropped           int       `json:"dropped" yaml:"dropped"`
	Pruned            int       `json:"pruned" yaml:"pruned"`
	Errors            []string  `json:"errors,omitempty" yaml:"errors,omitempty"`
	StartedAt         time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt        time.Time `json:"finished_at" yaml:"finished_at"`
	AlreadyInProgress bool      `json:"already_in_progress,omitempty" yaml:"already_in_progress,omitempty"`
}

// Duration returns how long the cycle ran.
func (r *SyncResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *SyncResult) addError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

const (
	// DefaultPageSize is the ListNotes page size used by pulls.
	DefaultPageSize = remote.MaxPerPage
)

// Engine orchestrates push, pull and hydration over one local database.
type Engine struct {
	conn     *sql.DB
	repo     *db.Repository
	queue    *queue.Queue
	resolver *conflict.Resolver
	remote   remote.Service

	strategy models.ConflictStrategy
	pageSize int
	prune    bool
	limiter  *rate.Limiter
	now      func() time.Time
	log      *logging.Logger
	events   *broadcaster

	mu       stdsync.Mutex
	state    State
	lastSync *time.Time
	lastErr  error
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for result timestamps and last_sync_at.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithPageSize sets the ListNotes page size.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithDispatchRate limits remote calls to perSecond. Zero or less means unlimited.
func WithDispatchRate(perSecond float64) Option {
	return func(e *Engine) {
		if perSecond > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			e.limiter = nil
		}
	}
}

// WithPruneRemoteDeletes controls whether a complete pull purges synced local
// records the remote no longer lists.
func WithPruneRemoteDeletes(prune bool) Option {
	return func(e *Engine) { e.prune = prune }
}

// WithStrategy overrides the strategy applied to conflicts found while pulling.
func WithStrategy(s models.ConflictStrategy) Option {
	return func(e *Engine) { e.strategy = s }
}

// WithResolver replaces the conflict resolver.
func WithResolver(r *conflict.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// NewEngine creates an Engine. conn must be the database repo and q were built on.
func NewEngine(conn *sql.DB, repo *db.Repository, q *queue.Queue, svc remote.Service, opts ...Option) *Engine {
	e := &Engine{
		conn:     conn,
		repo:     repo,
		queue:    q,
		remote:   svc,
		strategy: conflict.DefaultStrategy,
		pageSize: DefaultPageSize,
		prune:    true,
		now:      time.Now,
		events:   newBroadcaster(),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logging.Get()
	}
	e.log = e.log.With(map[string]interface{}{"component": "sync_engine"})
	if e.resolver == nil {
		e.resolver = conflict.NewResolver(repo, conflict.WithLogger(e.log))
	}
	return e
}

// Status returns the current engine state.
func (e *Engine) Status() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastSync returns the completion time of the last cycle that finished its
// pull, falling back to the persisted value.
func (e *Engine) LastSync() *time.Time {
	e.mu.Lock()
	last := e.lastSync
	e.mu.Unlock()
	if last != nil {
		t := *last
		return &t
	}
	t, err := e.repo.LastSyncAt(context.Background())
	if err != nil || t.IsZero() {
		return nil
	}
	return &t
}

// LastError returns the error that ended the most recent cycle.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Subscribe registers a progress listener with the given channel buffer.
func (e *Engine) Subscribe(buffer int) (<-chan Event, func()) {
	return e.events.subscribe(buffer)
}

// IsHydrated reports whether hydration has completed once.
func (e *Engine) IsHydrated(ctx context.Context) (bool, error) {
	ok, err := e.repo.IsHydrated(ctx)
	if err != nil {
		return false, e.storageErr("read hydrated flag", err)
	}
	return ok, nil
}

// QueueOperation records a local mutation for the next push.
func (e *Engine) QueueOperation(ctx context.Context, entityType models.EntityType, entityID string, op models.OperationType, payload *models.Payload, priority int) (*models.QueuedOperation, error) {
	return e.queue.Enqueue(ctx, entityType, entityID, op, payload, priority)
}

// GetPendingCount returns the number of queued operations, due or not.
func (e *Engine) GetPendingCount(ctx context.Context) (int, error) {
	n, err := e.queue.Count(ctx)
	if err != nil {
		return 0, e.storageErr("count queue", err)
	}
	return n, nil
}

// Sync runs one cycle: push every due queued operation, then pull remote
// state. Per-operation failures and pull network failures are reported in the
// result; only local storage failures and cancellation return an error.
func (e *Engine) Sync(ctx context.Context) (*SyncResult, error) {
	return e.run(ctx, "sync", func(ctx context.Context, c *cycle) error {
		if err := e.push(ctx, c); err != nil {
			return err
		}
		complete, err := e.pull(ctx, c, e.prune)
		if err != nil {
			if e.fatal(ctx, err) {
				return err
			}
			c.res.addError("pull: %v", err)
			e.log.Warn("Pull aborted", map[string]interface{}{"error": err.Error()})
			return nil
		}
		if complete {
			return e.markSynced(ctx)
		}
		return nil
	})
}

// Hydrate pulls every remote folder, note and action into the local store and
// sets the hydrated flag. It is safe to re-run: records resolve by server id.
func (e *Engine) Hydrate(ctx context.Context) (*SyncResult, error) {
	return e.run(ctx, "hydrate", func(ctx context.Context, c *cycle) error {
		if _, err := e.pull(ctx, c, false); err != nil {
			return fmt.Errorf("hydrate: %w", err)
		}
		if err := e.repo.SetHydrated(ctx, true); err != nil {
			return e.storageErr("set hydrated flag", err)
		}
		return e.markSynced(ctx)
	})
}

func (e *Engine) markSynced(ctx context.Context) error {
	at := e.now().UTC()
	if err := e.repo.SetLastSyncAt(ctx, at); err != nil {
		return e.storageErr("record last sync", err)
	}
	e.mu.Lock()
	e.lastSync = &at
	e.mu.Unlock()
	return nil
}

// cycle carries the state of one running sync or hydrate.
type cycle struct {
	name string
	res  *SyncResult
}

// begin claims the single-flight slot.
func (e *Engine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateSyncing {
		return false
	}
	e.state = StateSyncing
	e.lastErr = nil
	return true
}

func (e *Engine) finish(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastErr = err
	if err != nil {
		e.state = StateError
		return
	}
	e.state = StateIdle
}

func (e *Engine) run(ctx context.Context, name string, body func(context.Context, *cycle) error) (*SyncResult, error) {
	if !e.begin() {
		e.log.Debug("Cycle already in progress, skipping", map[string]interface{}{"cycle": name})
		now := e.now()
		return &SyncResult{StartedAt: now, FinishedAt: now, AlreadyInProgress: true}, nil
	}

	c := &cycle{name: name, res: &SyncResult{StartedAt: e.now()}}
	e.emit(c, Event{Type: EventStarted})
	e.log.Info("Sync cycle started", map[string]interface{}{"cycle": name})

	err := body(ctx, c)
	c.res.FinishedAt = e.now()
	e.finish(err)

	fields := map[string]interface{}{
		"cycle":       name,
		"pushed":      c.res.Pushed,
		"pulled":      c.res.Pulled,
		"conflicts":   c.res.Conflicts,
		"deferred":    c.res.Deferred,
		"dropped":     c.res.Dropped,
		"pruned":      c.res.Pruned,
		"errors":      len(c.res.Errors),
		"duration_ms": c.res.Duration().Milliseconds(),
	}
	if err != nil {
		e.log.Error("Sync cycle failed", err, fields)
		e.emit(c, Event{Type: EventFailed, Error: err.Error(), Result: c.res})
		return c.res, err
	}
	e.log.Info("Sync cycle completed", fields)
	e.emit(c, Event{Type: EventCompleted, Result: c.res})
	return c.res, nil
}

func (e *Engine) emit(c *cycle, ev Event) {
	ev.Cycle = c.name
	ev.State = e.Status()
	ev.Timestamp = e.now().UTC()
	e.events.publish(ev)
}

func (e *Engine) progress(c *cycle, current string, processed, total int) {
	e.emit(c, Event{Type: EventProgress, CurrentOperation: current, Processed: processed, Total: total})
}

// wait blocks until the dispatch limiter admits another remote call.
func (e *Engine) wait(ctx context.Context) error {
	if e.limiter == nil {
		return ctx.Err()
	}
	if err := e.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.Wrap(apperrors.ErrNetwork, "dispatch limiter", err)
	}
	return nil
}

// fatal reports whether err must end the cycle rather than be recorded.
func (e *Engine) fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || apperrors.Is(err, apperrors.ErrStorageUnavailable)
}

func (e *Engine) storageErr(op string, err error) error {
	if apperrors.Is(err, apperrors.ErrStorageUnavailable) ||
		stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.Wrap(apperrors.ErrStorageUnavailable, op, err)
}
