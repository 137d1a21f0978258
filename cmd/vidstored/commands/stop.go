package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vidstore/internal/core"
)

// Stop returns the stop command.
func Stop(opts *options) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the instance and suppress automatic restarts",
		Long: `Stop records an operator stop in the registry and stops the container.
A running "up" daemon sees the record and exits instead of restarting the
instance. The data volume is left untouched; "provision" starts it again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			it, _, err := a.instance()
			if err != nil {
				return err
			}
			rt, err := a.runtime(ctx)
			if err != nil {
				return err
			}

			d := &core.Destroyer{Store: a.store, Runtime: rt, Logger: a.logger}
			if err := d.Stop(ctx, it.Name, a.stopTimeout(cmd, timeout)); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "stopped %s\n", it.Name)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", core.DefaultStopTimeout, "Grace period before the container is killed (default: the stop_timeout setting)")

	return cmd
}

// stopTimeout prefers an explicit --timeout over the configured stop_timeout.
func (a *app) stopTimeout(cmd *cobra.Command, flag time.Duration) time.Duration {
	if cmd.Flags().Changed("timeout") {
		return flag
	}
	return a.cfg.StopTimeout
}

// Down returns the down command.
func Down(opts *options) *cobra.Command {
	var volumes bool

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Remove the instance",
		Long: `Down removes the container and forgets the instance. The data volume
survives unless --volumes is given.

WARNING: --volumes deletes every row stored in the datastore.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			it, _, err := a.instance()
			if err != nil {
				return err
			}
			rt, err := a.runtime(ctx)
			if err != nil {
				return err
			}

			d := &core.Destroyer{Store: a.store, Runtime: rt, Logger: a.logger}
			if err := d.Teardown(ctx, it.Name, volumes); err != nil {
				return err
			}
			if volumes {
				fmt.Fprintf(a.out, "removed %s and volume %s\n", it.Name, it.VolumeName)
			} else {
				fmt.Fprintf(a.out, "removed %s (volume %s kept)\n", it.Name, it.VolumeName)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&volumes, "volumes", false, "Also remove the data volume")

	return cmd
}
