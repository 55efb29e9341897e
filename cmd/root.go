// Package cmd defines the CLI commands for the archiver executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webarchiver/internal/config"
	"github.com/JakeFAU/webarchiver/internal/logging"
)

var cfgFile string

type envKeyType string

const envKey envKeyType = "env"

// env carries what every subcommand needs once the root has loaded config.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// newRootCmd creates the root command and registers the subcommands.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archiver",
		Short: "Mirror websites into timestamped archives and serve them back.",
		Long: `archiver renders pages in headless Chrome, captures every resource the
browser loads, rewrites references to point at the local copies and stores
each crawl under {domain}/source/{timestamp}. The serve command answers
requests from the newest archive of a domain.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, envKey, &env{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKey).(*env); ok && e != nil {
				_ = e.logger.Sync() //nolint:errcheck // stderr sync fails on some terminals
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env ARCHIVER_* overrides)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newArchivesCmd())

	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not loaded")
	}
	return e, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		zap.L().Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}
