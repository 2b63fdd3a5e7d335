package main

import (
	"context"
	"fmt"

	"github.com/glidenotes/notesync/internal/config"
	"github.com/glidenotes/notesync/internal/db"
	"github.com/glidenotes/notesync/internal/logging"
	"github.com/glidenotes/notesync/internal/remote"
	"github.com/glidenotes/notesync/internal/remote/dynamo"
	"github.com/glidenotes/notesync/internal/remote/memremote"
	"github.com/glidenotes/notesync/internal/services"
	syncpkg "github.com/glidenotes/notesync/internal/sync"
	"github.com/glidenotes/notesync/internal/sync/queue"
	"github.com/glidenotes/notesync/internal/sync/scheduler"
)

// app is the wired object graph behind every command.
type app struct {
	cfg    *config.Config
	log    *logging.Logger
	db     *db.DB
	repo   *db.Repository
	queue  *queue.Queue
	remote remote.Service
	engine *syncpkg.Engine
	svc    *services.Service

	// setupDefaults makes sure the remote has its system folder.
	setupDefaults func(context.Context) error
}

func openApp(ctx context.Context, cfg *config.Config, log *logging.Logger) (*app, error) {
	d, err := db.Open(ctx, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, db: d}

	switch cfg.Remote.Kind {
	case config.RemoteDynamoDB:
		svc, err := dynamo.New(ctx, cfg.DynamoConfig(), dynamo.WithLogger(log))
		if err != nil {
			d.Close()
			return nil, err
		}
		a.remote = svc
		a.setupDefaults = func(ctx context.Context) error {
			_, err := svc.SetupDefaults(ctx)
			return err
		}
	default:
		// In-process remote; state lives only as long as this process.
		svc := memremote.New()
		a.remote = svc
		a.setupDefaults = func(context.Context) error {
			svc.SetupDefaults()
			return nil
		}
	}

	// The in-process remote starts empty on every run; pruning against it
	// would purge every synced record.
	prune := cfg.Sync.PruneRemoteDeletes && cfg.Remote.Kind != config.RemoteMemory

	a.repo = db.NewRepository(d.DB)
	a.queue = queue.New(d.DB, queue.WithLogger(log))
	a.engine = syncpkg.NewEngine(d.DB, a.repo, a.queue, a.remote,
		syncpkg.WithLogger(log),
		syncpkg.WithPageSize(cfg.Sync.PageSize),
		syncpkg.WithDispatchRate(cfg.Sync.DispatchRate),
		syncpkg.WithPruneRemoteDeletes(prune),
	)
	a.svc = services.New(d.DB, a.repo, a.queue, services.WithLogger(log))

	if _, err := a.svc.EnsureDefaultFolders(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("ensure default folders: %w", err)
	}
	return a, nil
}

func (a *app) scheduler() *scheduler.Scheduler {
	return scheduler.New(a.engine, a.cfg.SchedulerConfig(), scheduler.WithLogger(a.log))
}

func (a *app) Close() error {
	return a.db.Close()
}

// withApp opens the app for the duration of fn.
func (c *cli) withApp(ctx context.Context, fn func(*app) error) error {
	a, err := openApp(ctx, c.cfg, c.log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
