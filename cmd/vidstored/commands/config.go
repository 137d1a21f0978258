package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"vidstore/internal/config"
)

// Config returns the config command.
func Config(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect vidstored settings",
	}

	var format string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings and where each value came from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath, nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch format {
			case "text":
				fmt.Fprint(out, cfg.FormatText())
			case "json":
				s, err := cfg.FormatJSON()
				if err != nil {
					return err
				}
				fmt.Fprintln(out, s)
			default:
				return fmt.Errorf("unknown format %q (want text or json)", format)
			}
			return nil
		},
	}
	show.Flags().StringVarP(&format, "output", "o", "text", "Output format: text or json")
	cmd.AddCommand(show)

	return cmd
}
