package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/webarchiver/internal/server"
)

// newServeCmd creates the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the latest archive of a domain over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			cfg := e.cfg
			if cmd.Flags().Changed("domain") {
				cfg.Server.Domain, _ = cmd.Flags().GetString("domain")
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port, _ = cmd.Flags().GetInt("port")
			}
			app, err := server.Build(cmd.Context(), cfg, e.logger)
			if err != nil {
				return fmt.Errorf("build server: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
	cmd.Flags().String("domain", "", "domain whose archives are served (overrides server.domain)")
	cmd.Flags().Int("port", 0, "listen port (overrides server.port)")
	return cmd
}
