package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"vidstore/internal/backup"
)

// Backup returns the backup command.
func Backup(opts *options) *cobra.Command {
	var ensureBucket bool

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Dump the database and upload it to object storage",
		Long: `Backup runs pg_dump in custom format inside the container and uploads
the archive to the configured S3-compatible bucket as
<prefix>/<container>/<UTC timestamp>.dump.

The bucket and credentials come from the backup section of vidstore.yml or
the VIDSTORE_BACKUP_* environment variables.`,
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
			uploader, err := backup.NewUploader(ctx, a.backupConfig())
			if err != nil {
				return err
			}
			if ensureBucket {
				if err := uploader.EnsureBucket(ctx); err != nil {
					return err
				}
			}
			rt, err := a.runtime(ctx)
			if err != nil {
				return err
			}

			b := &backup.Backup{Runtime: rt, Uploader: uploader, Logger: a.logger, Metrics: a.metrics}
			res, err := b.Run(ctx, it)
			if err != nil {
				return err
			}
			return printJSON(a.out, res)
		},
	}
	cmd.Flags().BoolVar(&ensureBucket, "create-bucket", false, "Create the bucket if it does not exist")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored archives for the instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			d, err := a.descriptor()
			if err != nil {
				return err
			}
			uploader, err := backup.NewUploader(cmd.Context(), a.backupConfig())
			if err != nil {
				return err
			}
			keys, err := uploader.List(cmd.Context(), d.ContainerName)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(a.out, k)
			}
			return nil
		},
	})

	return cmd
}

func (a *app) backupConfig() backup.Config {
	b := a.cfg.Backup
	return backup.Config{
		Endpoint:     b.Endpoint,
		Region:       b.Region,
		Bucket:       b.Bucket,
		Prefix:       b.Prefix,
		AccessKey:    b.AccessKey,
		SecretKey:    b.SecretKey,
		UsePathStyle: b.UsePathStyle,
	}
}
