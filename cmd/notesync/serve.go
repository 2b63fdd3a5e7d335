package main

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/glidenotes/notesync/cmd/notesync/handlers"
)

const shutdownTimeout = 10 * time.Second

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	var offline bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the background scheduler with a local HTTP API and websocket stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				c.cfg.Serve.Addr = addr
			}
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app) error {
				ln, err := net.Listen("tcp", a.cfg.Serve.Addr)
				if err != nil {
					return err
				}
				return serve(ctx, a, ln, !offline)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from serve.addr)")
	cmd.Flags().BoolVar(&offline, "offline", false, "Start in offline mode until POST /api/sync/online")
	return cmd
}

// serve runs until ctx is cancelled or a component fails.
func serve(ctx context.Context, a *app, ln net.Listener, online bool) error {
	sched := a.scheduler()
	sched.SetOnlineStatus(online)
	hub := handlers.NewHub(a.log)
	events, unsubscribe := a.engine.Subscribe(64)
	defer unsubscribe()

	srv := &http.Server{
		Handler: handlers.NewRouter(
			handlers.NewNoteHandler(a.svc),
			handlers.NewSyncHandler(a.engine, sched, a.queue),
			hub,
			a.log,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return hub.Forward(ctx, events) })

	g.Go(func() error {
		if online {
			if err := a.setupDefaults(ctx); err != nil {
				a.log.Warn("Remote defaults unavailable", map[string]interface{}{"error": err.Error()})
			}
			hydrated, err := a.engine.IsHydrated(ctx)
			if err != nil {
				return err
			}
			if !hydrated {
				if _, err := a.engine.Hydrate(ctx); err != nil && ctx.Err() == nil {
					a.log.Error("Initial hydration failed", err)
				}
			}
		}
		sched.Start(ctx)
		<-ctx.Done()
		sched.Stop()
		return nil
	})

	g.Go(func() error {
		a.log.Info("HTTP API listening", map[string]interface{}{"addr": ln.Addr().String()})
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
