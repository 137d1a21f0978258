package commands

import (
	"github.com/spf13/cobra"

	"vidstore/internal/catalog"
	"vidstore/internal/core"
)

// Verify returns the verify command.
func Verify(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that data written earlier survived restarts",
		Long: `Verify looks for the persistence marker recorded by the previous run and
fails if it is gone. It then writes a fresh marker for the next run.

Run it before and after stopping, re-provisioning or recreating the
instance to prove the data volume was carried over.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			it, _, err := a.instance()
			if err != nil {
				return err
			}
			v := &core.Verifier{Store: a.store, Open: openMarkers}
			res, err := v.Verify(cmd.Context(), it.Name)
			if err != nil {
				return err
			}
			a.logger.Info("persistence verified", "name", res.Name, "previous_found", res.PreviousFound, "written", res.Written)
			return printJSON(a.out, res)
		},
	}
}

// Stats returns the stats command.
func Stats(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show row counts and the pgvector version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			it, _, err := a.instance()
			if err != nil {
				return err
			}
			c, err := catalog.Open(core.DatabaseURL(it))
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(a.out, stats)
		},
	}
}
