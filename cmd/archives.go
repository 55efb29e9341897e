package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/webarchiver/internal/archive"
	"github.com/JakeFAU/webarchiver/internal/storage/factory"
)

// newArchivesCmd creates the 'archives' subcommand.
func newArchivesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archives <domain>",
		Short: "List the archive timestamps of a domain, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			engine, err := factory.New(cmd.Context(), e.cfg.Storage, factory.RetryPolicy(e.cfg.Retry), e.logger.Named("storage"))
			if err != nil {
				return fmt.Errorf("init storage: %w", err)
			}
			timestamps, err := archive.NewResolver(engine, 0, e.logger.Named("resolver")).ListArchives(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("list archives: %w", err)
			}
			if len(timestamps) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no archives found for %s\n", args[0])
				return nil
			}
			for _, ts := range timestamps {
				fmt.Fprintln(cmd.OutOrStdout(), ts)
			}
			return nil
		},
	}
}
