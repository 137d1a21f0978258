// Package commands defines the vidstored command tree.
package commands

import "github.com/spf13/cobra"

// Root returns the root command for the vidstored CLI.
func Root() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "vidstored",
		Short:         "Provision and supervise the pgvector datastore for video retrieval",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to vidstore.yml (default $VIDSTORE_CONFIG or ./vidstore.yml)")
	cmd.PersistentFlags().StringVarP(&opts.descriptorPath, "file", "f", "", "Path to the compose descriptor (default: built-in descriptor)")
	cmd.PersistentFlags().StringVar(&opts.service, "service", "", "Service to use when the descriptor defines several")

	// Lifecycle
	cmd.AddCommand(Init(opts))
	cmd.AddCommand(Provision(opts))
	cmd.AddCommand(Up(opts))
	cmd.AddCommand(Stop(opts))
	cmd.AddCommand(Down(opts))

	// Readiness and inspection
	cmd.AddCommand(Health(opts))
	cmd.AddCommand(Wait(opts))
	cmd.AddCommand(Status(opts))

	// Database
	cmd.AddCommand(Migrate(opts))
	cmd.AddCommand(Verify(opts))
	cmd.AddCommand(Stats(opts))
	cmd.AddCommand(Backup(opts))

	cmd.AddCommand(Config(opts))
	cmd.AddCommand(Version())

	return cmd
}
