// Package scheduler runs sync cycles in the background: periodically while
// online, more often while operations are queued, and immediately when
// connectivity returns.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/glidenotes/notesync/internal/errors"
	"github.com/glidenotes/notesync/internal/logging"
	syncpkg "github.com/glidenotes/notesync/internal/sync"
)

// Config holds scheduler configuration.
type Config struct {
	SyncInterval  time.Duration // full sync cadence while online
	QueueInterval time.Duration // retry cadence while operations are pending
	SyncTimeout   time.Duration // upper bound for one cycle
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:  15 * time.Minute,
		QueueInterval: 1 * time.Minute,
		SyncTimeout:   5 * time.Minute,
	}
}

// Scheduler manages background sync cycles for one engine.
type Scheduler struct {
	engine syncpkg.SyncEngineInterface
	cfg    Config
	log    *logging.Logger
	now    func() time.Time

	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	isRunning      bool
	isOnline       bool
	syncInProgress bool
	lastSyncTime   time.Time
	lastResult     *syncpkg.SyncResult
	lastErr        error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a Scheduler. A nil config uses DefaultConfig.
func New(engine syncpkg.SyncEngineInterface, cfg *Config, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	c := *cfg
	if c.SyncInterval <= 0 {
		c.SyncInterval = def.SyncInterval
	}
	if c.QueueInterval <= 0 {
		c.QueueInterval = def.QueueInterval
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = def.SyncTimeout
	}

	s := &Scheduler{
		engine:   engine,
		cfg:      c,
		now:      time.Now,
		isOnline: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.Get()
	}
	s.log = s.log.With(map[string]interface{}{"component": "scheduler"})
	return s
}

// Start launches the background loops. It is a no-op if already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	s.wg.Add(2)
	s.mu.Unlock()

	go s.periodicSyncLoop(runCtx)
	go s.queueRetryLoop(runCtx)

	s.log.Info("Background sync scheduler started", map[string]interface{}{
		"sync_interval":  s.cfg.SyncInterval.String(),
		"queue_interval": s.cfg.QueueInterval.String(),
	})
}

// Stop cancels running cycles and waits for every loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("Background sync scheduler stopped")
}

// SetOnlineStatus records connectivity. Going from offline to online while
// running starts a sync right away.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	reconnect := isOnline && !wasOnline && s.isRunning
	if reconnect {
		s.wg.Add(1)
	}
	ctx := s.ctx
	s.mu.Unlock()

	if wasOnline == isOnline {
		return
	}
	s.log.Info("Online status changed", map[string]interface{}{
		"was_online": wasOnline,
		"is_online":  isOnline,
	})
	if reconnect {
		go func() {
			defer s.wg.Done()
			s.runSync(ctx, "reconnect")
		}()
	}
}

func (s *Scheduler) periodicSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			s.runSync(ctx, "periodic")
		}
	}
}

// queueRetryLoop syncs between periodic cycles when operations are waiting.
func (s *Scheduler) queueRetryLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.QueueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			n, err := s.engine.GetPendingCount(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Error("Failed to count pending operations", err)
				}
				continue
			}
			if n == 0 {
				continue
			}
			s.log.Debug("Pending operations waiting, syncing", map[string]interface{}{"count": n})
			s.runSync(ctx, "queue_retry")
		}
	}
}

func (s *Scheduler) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncInProgress {
		return false
	}
	s.syncInProgress = true
	return true
}

// runSync executes one cycle unless one is already running here.
func (s *Scheduler) runSync(ctx context.Context, trigger string) {
	if !s.IsOnline() {
		s.log.Debug("Skipping sync while offline", map[string]interface{}{"trigger": trigger})
		return
	}
	if !s.claim() {
		s.log.Debug("Sync already in progress, skipping", map[string]interface{}{"trigger": trigger})
		return
	}
	if _, err := s.execute(ctx, trigger); err != nil && ctx.Err() == nil {
		s.log.Error("Background sync failed", err, map[string]interface{}{
			"trigger": trigger,
			"code":    string(errors.CodeOf(err)),
		})
	}
}

// execute runs engine.Sync with the cycle timeout. The caller holds the claim.
func (s *Scheduler) execute(ctx context.Context, trigger string) (*syncpkg.SyncResult, error) {
	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	syncCtx, cancel := context.WithTimeout(ctx, s.cfg.SyncTimeout)
	defer cancel()

	result, err := s.engine.Sync(syncCtx)

	s.mu.Lock()
	s.lastErr = err
	if result != nil && !result.AlreadyInProgress {
		s.lastResult = result
	}
	if err == nil && result != nil && !result.AlreadyInProgress {
		s.lastSyncTime = s.now()
	}
	s.mu.Unlock()

	if err != nil {
		return result, err
	}
	s.log.Info("Sync completed", map[string]interface{}{
		"trigger":   trigger,
		"pushed":    result.Pushed,
		"pulled":    result.Pulled,
		"conflicts": result.Conflicts,
		"errors":    len(result.Errors),
	})
	return result, nil
}

// TriggerSync starts a cycle in the background and reports whether it did.
func (s *Scheduler) TriggerSync() bool {
	s.mu.Lock()
	if !s.isRunning || !s.isOnline || s.syncInProgress {
		s.mu.Unlock()
		return false
	}
	s.syncInProgress = true
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if _, err := s.execute(ctx, "manual"); err != nil && ctx.Err() == nil {
			s.log.Error("Triggered sync failed", err)
		}
	}()
	return true
}

// SyncNow runs a cycle and waits for it. It returns SYNC_IN_PROGRESS when a
// cycle started by this scheduler is still running.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.SyncResult, error) {
	if !s.claim() {
		return nil, errors.New(errors.ErrSyncInProgress, "sync already in progress")
	}
	return s.execute(ctx, "manual")
}

// Status is a snapshot of the scheduler and its engine.
type Status struct {
	IsRunning      bool                `json:"is_running" yaml:"is_running"`
	IsOnline       bool                `json:"is_online" yaml:"is_online"`
	SyncInProgress bool                `json:"sync_in_progress" yaml:"sync_in_progress"`
	EngineState    syncpkg.State       `json:"engine_state" yaml:"engine_state"`
	LastSyncTime   *time.Time          `json:"last_sync_time,omitempty" yaml:"last_sync_time,omitempty"`
	LastResult     *syncpkg.SyncResult `json:"last_result,omitempty" yaml:"last_result,omitempty"`
	LastError      string              `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	PendingItems   int                 `json:"pending_items" yaml:"pending_items"`
}

// GetStatus returns the current status.
func (s *Scheduler) GetStatus(ctx context.Context) (Status, error) {
	s.mu.RLock()
	status := Status{
		IsRunning:      s.isRunning,
		IsOnline:       s.isOnline,
		SyncInProgress: s.syncInProgress,
		LastResult:     s.lastResult,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	s.mu.RUnlock()

	status.EngineState = s.engine.Status()
	if status.LastSyncTime == nil {
		status.LastSyncTime = s.engine.LastSync()
	}
	n, err := s.engine.GetPendingCount(ctx)
	if err != nil {
		return status, err
	}
	status.PendingItems = n
	return status, nil
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
