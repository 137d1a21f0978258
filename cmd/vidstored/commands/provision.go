package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vidstore/internal/health"
	"vidstore/internal/model"
	"vidstore/internal/schema"
)

// Provision returns the provision command.
func Provision(opts *options) *cobra.Command {
	var (
		wait    bool
		migrate bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create or reconcile the datastore container",
		Long: `Provision brings up exactly one container matching the descriptor.

Running it again with an unchanged descriptor is a no-op. A changed
descriptor recreates the container against the same data volume. The
volume is never removed.

With --wait the command blocks until the readiness probe passes. With
--migrate it then creates the database if needed and applies the schema.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			d, err := a.descriptor()
			if err != nil {
				return err
			}
			rt, err := a.runtime(ctx)
			if err != nil {
				return err
			}

			res, err := a.provisioner(rt).Provision(ctx, d)
			if err != nil {
				return err
			}

			if wait || migrate {
				if err := a.waitReady(ctx, rt, d, timeout); err != nil {
					return err
				}
			}
			if migrate {
				version, err := schema.Bootstrap(ctx, res.DatabaseURL, res.DB)
				if err != nil {
					return err
				}
				a.logger.Info("schema applied", "name", res.Name, "version", version)
			}
			return printJSON(a.out, res)
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the instance is ready")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Create the database and apply migrations (implies --wait)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "How long --wait may block")

	return cmd
}

// waitReady runs the monitor until Ready, Failed or timeout.
func (a *app) waitReady(ctx context.Context, rt health.Execer, d model.Descriptor, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	mon := a.monitor(rt, d.ContainerName, d, a.metrics.HealthHooks(d.ContainerName))
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	err := mon.WaitReady(ctx)
	cancel()
	<-done
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s not ready after %s (state %s)", d.ContainerName, timeout, mon.State())
	}
	if err != nil {
		return err
	}
	a.logger.Info("instance ready", "name", d.ContainerName)
	return nil
}
