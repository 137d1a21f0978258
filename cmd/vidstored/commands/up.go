package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"vidstore/internal/api"
	"vidstore/internal/core"
	"vidstore/internal/health"
	"vidstore/internal/model"
	"vidstore/internal/schema"
	"vidstore/internal/supervisor"
	"vidstore/internal/watch"
)

const shutdownTimeout = 10 * time.Second

// Up returns the up command.
func Up(opts *options) *cobra.Command {
	var (
		watchFile bool
		migrate   bool
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Provision the instance and keep it running",
		Long: `Up provisions the instance, then runs in the foreground:

  - the health monitor polls the readiness probe and a supervisor restarts
    the container per its restart policy, indefinitely, until "stop"
  - a status server answers /healthz, /readyz, /v1/status and /metrics
  - with --watch, edits to the descriptor file are re-provisioned

SIGINT or SIGTERM stops the daemon; the container keeps running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.up(ctx, watchFile || a.cfg.Watch, migrate)
		},
	}

	cmd.Flags().BoolVar(&watchFile, "watch", false, "Re-provision when the descriptor file changes")
	cmd.Flags().BoolVar(&migrate, "migrate", true, "Apply the schema once the instance is first ready")

	return cmd
}

func (a *app) up(ctx context.Context, watchFile, migrate bool) error {
	d, err := a.descriptor()
	if err != nil {
		return err
	}
	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}

	prov := a.provisioner(rt)
	res, err := prov.Provision(ctx, d)
	if err != nil {
		return err
	}
	name := res.Name

	sup := &supervisor.Supervisor{
		Name:    name,
		Store:   a.store,
		Runtime: rt,
		Logger:  a.logger,
		Metrics: a.metrics,
	}
	mon := a.monitor(rt, name, d, health.Combine(sup.HealthHooks(), a.metrics.HealthHooks(name)))
	sup.Monitor = mon

	router := api.NewRouter(&api.Handlers{
		Logger:    a.logger,
		Status:    &core.StatusService{Store: a.store, Runtime: rt},
		Readiness: mon,
		Metrics:   a.metrics.Handler(),
	})
	srv := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var w *watch.Watcher
	if watchFile {
		if a.cfg.Descriptor == "" {
			a.logger.Warn("--watch needs a descriptor file, ignoring")
		} else if w, err = watch.New(a.cfg.Descriptor, 0, nil, a.logger); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sup.Run(gctx)
	})

	g.Go(func() error {
		a.logger.Info("vidstored started", "listen", a.cfg.Listen, "data_dir", a.cfg.DataDir, "name", name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if migrate {
		g.Go(func() error {
			if err := mon.WaitReady(gctx); err != nil {
				return nil
			}
			it, err := a.store.Get(name)
			if err != nil {
				return err
			}
			version, err := schema.Bootstrap(gctx, core.DatabaseURL(it), it.DB)
			if err != nil {
				a.logger.Error("schema bootstrap failed", "name", name, "error", err)
				return nil
			}
			a.logger.Info("schema applied", "name", name, "version", version)
			return nil
		})
	}

	if w != nil {
		g.Go(func() error {
			return w.Run(gctx, func(ctx context.Context) error {
				next, err := a.descriptor()
				if err != nil {
					return err
				}
				if next.ContainerName != name {
					return fmt.Errorf("container_name changed from %s to %s; restart vidstored to switch instances", name, next.ContainerName)
				}
				res, err := prov.Provision(ctx, next)
				if err != nil {
					return err
				}
				a.reload(mon, rt, name, next, res.Action)
				return nil
			})
		})
	}

	err = g.Wait()
	if errors.Is(err, model.ErrStopped) {
		a.logger.Info("instance stopped by operator, exiting", "name", name)
		return nil
	}
	return err
}
