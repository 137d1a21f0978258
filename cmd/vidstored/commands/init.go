package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"vidstore/internal/descriptor"
	"vidstore/internal/util"
)

const defaultDescriptorFile = "docker-compose.yml"

// Init returns the init command.
func Init(opts *options) *cobra.Command {
	var (
		force            bool
		generatePassword bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default datastore descriptor",
		Long: `Init writes a compose descriptor for the default datastore:

  image           pgvector/pgvector:pg15
  container_name  video_retrieval_postgres
  database        videodb_creative_v2
  port            5432:5432
  volume          postgres_data -> /var/lib/postgresql/data
  restart         unless-stopped
  healthcheck     pg_isready every 30s, 10s timeout, 3 retries

The file is written to --file, or docker-compose.yml when unset. An existing
file is only replaced with --force. --generate-password replaces the
default "admin" password with a random one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			path := a.cfg.Descriptor
			if path == "" {
				path = defaultDescriptorFile
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			d := descriptor.Default()
			if generatePassword {
				if d.Password, err = util.GeneratePassword(); err != nil {
					return err
				}
			}
			out, err := descriptor.Render(d)
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, out, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Fprintf(a.out, "wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing descriptor")
	cmd.Flags().BoolVar(&generatePassword, "generate-password", false, "Use a random POSTGRES_PASSWORD")

	return cmd
}
