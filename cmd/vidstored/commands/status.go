package commands

import (
	"github.com/spf13/cobra"

	"vidstore/internal/core"
)

// Status returns the status command. Without a reachable container runtime
// it reports the recorded state only.
func Status(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status [name]",
		Short: "Show provisioned instances",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			svc := &core.StatusService{Store: a.store}
			if rt, err := a.runtime(ctx); err != nil {
				a.logger.Warn("container runtime unavailable, showing recorded state", "error", err)
			} else {
				svc.Runtime = rt
			}

			if len(args) == 1 {
				item, err := svc.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(a.out, item)
			}
			resp, err := svc.Status(ctx)
			if err != nil {
				return err
			}
			return printJSON(a.out, resp)
		},
	}
}
