package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"vidstore/internal/core"
	"vidstore/internal/schema"
)

// Migrate returns the migrate command and its subcommands.
func Migrate(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the retrieval schema",
		Long: `Migrate applies the embedded schema to the provisioned database: the
vector extension, the videos and video_moments tables with their indexes,
and the persistence marker table.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Create the database if missing and apply all migrations",
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
			version, err := schema.Bootstrap(cmd.Context(), core.DatabaseURL(it), it.DB)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "schema at version %d\n", version)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}

			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			it, _, err := a.instance()
			if err != nil {
				return err
			}
			version, err := schema.Down(core.DatabaseURL(it), steps)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "schema at version %d\n", version)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
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
			version, dirty, err := schema.Version(core.DatabaseURL(it))
			if err != nil {
				return err
			}
			if dirty {
				fmt.Fprintf(a.out, "%d (dirty)\n", version)
				return nil
			}
			fmt.Fprintf(a.out, "%d\n", version)
			return nil
		},
	})

	return cmd
}
