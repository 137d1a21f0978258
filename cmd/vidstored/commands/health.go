package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vidstore/internal/health"
)

// Health returns the health command: one readiness attempt.
func Health(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run the readiness probe once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			_, d, err := a.instance()
			if err != nil {
				return err
			}
			rt, err := a.runtime(ctx)
			if err != nil {
				return err
			}

			mon := a.monitor(rt, d.ContainerName, d, health.Hooks{})
			state, probeErr := mon.Check(ctx)
			if err := printJSON(a.out, mon.Snapshot()); err != nil {
				return err
			}
			if state != health.Ready {
				return fmt.Errorf("%s is %s: %w", d.ContainerName, state, probeErr)
			}
			return nil
		},
	}
}

// Wait returns the wait command.
func Wait(opts *options) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Block until the instance is ready",
		Long: `Wait polls the readiness probe on the descriptor's interval until it
passes. It fails once the probe has failed for the configured number of
consecutive attempts, or when --timeout elapses.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			_, d, err := a.instance()
			if err != nil {
				return err
			}
			rt, err := a.runtime(ctx)
			if err != nil {
				return err
			}
			if err := a.waitReady(ctx, rt, d, timeout); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s is ready\n", d.ContainerName)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Give up after this long")

	return cmd
}
