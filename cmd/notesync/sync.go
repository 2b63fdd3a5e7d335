package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/glidenotes/notesync/internal/errors"
	"github.com/glidenotes/notesync/internal/models"
	syncpkg "github.com/glidenotes/notesync/internal/sync"
)

// statusView is the output of `notesync status`.
type statusView struct {
	DataDir   string        `json:"data_dir"`
	Remote    string        `json:"remote"`
	Hydrated  bool          `json:"hydrated"`
	LastSync  *time.Time    `json:"last_sync,omitempty"`
	Pending   int           `json:"pending"`
	Failures  int           `json:"failures"`
	NextRetry *time.Time    `json:"next_retry,omitempty"`
	State     syncpkg.State `json:"state"`
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show hydration, queue and last sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app) error {
				v := statusView{DataDir: a.cfg.DataDir, Remote: a.cfg.Remote.Kind, State: a.engine.Status(), LastSync: a.engine.LastSync()}
				var err error
				if v.Hydrated, err = a.engine.IsHydrated(ctx); err != nil {
					return err
				}
				if v.Pending, err = a.engine.GetPendingCount(ctx); err != nil {
					return err
				}
				if v.Failures, err = a.queue.CountFailures(ctx); err != nil {
					return err
				}
				next, err := a.queue.NextScheduled(ctx)
				if err != nil {
					return err
				}
				if !next.IsZero() {
					v.NextRetry = &next
				}
				return render(cmd.OutOrStdout(), c.format, v, func(w *tabwriter.Writer) {
					row(w, "Data dir:", v.DataDir)
					row(w, "Remote:", v.Remote)
					row(w, "Hydrated:", v.Hydrated)
					row(w, "Last sync:", stamp(v.LastSync))
					row(w, "Pending:", v.Pending)
					row(w, "Failures:", v.Failures)
					if v.NextRetry != nil {
						row(w, "Next retry:", stamp(v.NextRetry))
					}
				})
			})
		},
	}
}

// cycle runs fn under the configured timeout after seeding the remote.
func (c *cli) cycle(ctx context.Context, a *app, fn func(context.Context) (*syncpkg.SyncResult, error)) (*syncpkg.SyncResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Sync.Timeout)
	defer cancel()
	if err := a.setupDefaults(ctx); err != nil {
		return nil, err
	}
	return fn(ctx)
}

func renderResult(cmd *cobra.Command, format string, res *syncpkg.SyncResult) error {
	return render(cmd.OutOrStdout(), format, res, func(w *tabwriter.Writer) {
		if res.AlreadyInProgress {
			row(w, "Sync already in progress")
			return
		}
		row(w, "Pushed:", res.Pushed)
		row(w, "Pulled:", res.Pulled)
		row(w, "Conflicts:", res.Conflicts)
		row(w, "Deferred:", res.Deferred)
		row(w, "Dropped:", res.Dropped)
		row(w, "Pruned:", res.Pruned)
		row(w, "Duration:", res.Duration().Round(time.Millisecond))
		for _, e := range res.Errors {
			row(w, "Error:", e)
		}
	})
}

func (c *cli) syncCmd() *cobra.Command {
	var noHydrate bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push queued changes, then pull remote state",
		Long:  "Runs one sync cycle. A store that was never hydrated is hydrated first unless --no-hydrate is set.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app) error {
				res, err := c.cycle(ctx, a, func(ctx context.Context) (*syncpkg.SyncResult, error) {
					hydrated, err := a.engine.IsHydrated(ctx)
					if err != nil {
						return nil, err
					}
					if !hydrated && !noHydrate {
						if _, err := a.engine.Hydrate(ctx); err != nil {
							return nil, err
						}
					}
					return a.engine.Sync(ctx)
				})
				if err != nil {
					return err
				}
				return renderResult(cmd, c.format, res)
			})
		},
	}
	cmd.Flags().BoolVar(&noHydrate, "no-hydrate", false, "Skip hydration of a fresh store")
	return cmd
}

func (c *cli) hydrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hydrate",
		Short: "Pull the entire remote collection into the local store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app) error {
				res, err := c.cycle(ctx, a, a.engine.Hydrate)
				if err != nil {
					return err
				}
				return renderResult(cmd, c.format, res)
			})
		},
	}
}

func (c *cli) pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List queued operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app) error {
				ops, err := a.queue.List(ctx)
				if err != nil {
					return err
				}
				if ops == nil {
					ops = []*models.QueuedOperation{}
				}
				return render(cmd.OutOrStdout(), c.format, ops, func(w *tabwriter.Writer) {
					row(w, "ID", "ENTITY", "OP", "PRIORITY", "RETRIES", "NEXT ATTEMPT", "FIELDS")
					for _, op := range ops {
						fields := "-"
						if op.Payload != nil {
							fields = fmt.Sprint(op.Payload.Fields())
						}
						row(w, op.ID, string(op.EntityType)+"/"+op.EntityID, op.Operation, op.Priority, op.RetryCount, millis(op.ScheduledFor), fields)
					}
				})
			})
		},
	}
}

func (c *cli) failuresCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "List operations that exhausted their retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app) error {
				failures, err := a.queue.ListFailures(ctx)
				if err != nil {
					return err
				}
				if failures == nil {
					failures = []*models.SyncFailure{}
				}
				return render(cmd.OutOrStdout(), c.format, failures, func(w *tabwriter.Writer) {
					row(w, "ID", "ENTITY", "OP", "RETRIES", "FAILED AT", "ERROR")
					for _, f := range failures {
						row(w, f.ID, string(f.EntityType)+"/"+f.EntityID, f.Operation, f.RetryCount, millis(f.FailedAt), truncate(f.LastError, 60))
					}
				})
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "retry <id>",
		Short: "Move a failure back into the queue with a fresh retry budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app) error {
				op, err := a.queue.RetryFailure(ctx, args[0])
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), c.format, op, func(w *tabwriter.Writer) {
					row(w, "Requeued", string(op.EntityType)+"/"+op.EntityID, op.Operation, "as", op.ID)
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "dismiss <id>",
		Short: "Delete a failure without retrying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app) error {
				ok, err := a.queue.DismissFailure(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return apperrors.Newf(apperrors.ErrNotFound, "failure %s not found", args[0])
				}
				return render(cmd.OutOrStdout(), c.format, map[string]string{"dismissed": args[0]}, func(w *tabwriter.Writer) {
					row(w, "Dismissed", args[0])
				})
			})
		},
	})
	return cmd
}
