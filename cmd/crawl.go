package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webarchiver/internal/archive"
	"github.com/JakeFAU/webarchiver/internal/browser"
	"github.com/JakeFAU/webarchiver/internal/clock/system"
	"github.com/JakeFAU/webarchiver/internal/config"
	"github.com/JakeFAU/webarchiver/internal/crawler"
	collyfetcher "github.com/JakeFAU/webarchiver/internal/fetcher/colly"
	"github.com/JakeFAU/webarchiver/internal/id/uuid"
	"github.com/JakeFAU/webarchiver/internal/policy/ratelimit"
	"github.com/JakeFAU/webarchiver/internal/storage/factory"
)

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Mirror a website into a new archive",
		Long: `Crawls breadth-first from the seed URL, rendering each page in headless
Chrome, and writes the rewritten pages and their resources to a fresh
archive of the seed's domain.`,
		Args: cobra.ExactArgs(1),
		RunE: runCrawlCommand,
	}
	cmd.Flags().Int("max-depth", 0, "maximum link depth from the seed (overrides crawler.max_depth)")
	cmd.Flags().Bool("same-domain", true, "only follow links on the seed's host (overrides crawler.same_domain)")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, args []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	opts, err := crawlOptions(cmd, e.cfg.Crawler, args[0])
	if err != nil {
		return err
	}
	logger := e.logger

	engine, err := factory.New(cmd.Context(), e.cfg.Storage, factory.RetryPolicy(e.cfg.Retry), logger.Named("storage"))
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	b, err := browser.New(browser.Config{
		Headless:  e.cfg.Crawler.Headless,
		ExecPath:  e.cfg.Crawler.ChromePath,
		UserAgent: e.cfg.Crawler.UserAgent,
	}, logger.Named("browser"))
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			logger.Warn("failed to close browser", zap.Error(cerr))
		}
	}()

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: e.cfg.Crawler.UserAgent,
		Timeout:   e.cfg.Crawler.FetchTimeout,
	}, newLimiter(e.cfg.Crawler.DomainQPS), logger.Named("fetcher"))

	c, err := crawler.New(b, engine, fetcher, uuid.New(), crawler.Config{
		NavigationTimeout: e.cfg.Crawler.NavigationTimeout,
	}, logger.Named("crawler"))
	if err != nil {
		return fmt.Errorf("init crawler: %w", err)
	}

	res, err := c.Run(cmd.Context(), opts)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawler: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "archive %s: %d pages, %d failed, %d resources\n",
		res.ArchivePrefix, res.Pages, res.Failed, res.Resources)
	logger.Info("crawl command finished", zap.String("run_id", res.RunID))
	return nil
}

// crawlOptions merges flags over config and picks the archive prefix for seed.
func crawlOptions(cmd *cobra.Command, cfg config.CrawlerConfig, seed string) (crawler.Options, error) {
	domain, err := archive.DomainOf(seed)
	if err != nil {
		return crawler.Options{}, fmt.Errorf("invalid seed: %w", err)
	}
	opts := crawler.Options{
		Seed:          seed,
		MaxDepth:      cfg.MaxDepth,
		SameDomain:    cfg.SameDomain,
		ArchivePrefix: archive.NewPrefix(system.New(), domain),
	}
	if cmd.Flags().Changed("max-depth") {
		if opts.MaxDepth, err = cmd.Flags().GetInt("max-depth"); err != nil {
			return crawler.Options{}, fmt.Errorf("read --max-depth: %w", err)
		}
	}
	if cmd.Flags().Changed("same-domain") {
		if opts.SameDomain, err = cmd.Flags().GetBool("same-domain"); err != nil {
			return crawler.Options{}, fmt.Errorf("read --same-domain: %w", err)
		}
	}
	if opts.MaxDepth < 0 {
		return crawler.Options{}, fmt.Errorf("--max-depth must be >= 0 (got %d)", opts.MaxDepth)
	}
	return opts, nil
}

func newLimiter(qps float64) *ratelimit.Limiter {
	cfg := ratelimit.Config{DefaultRPS: qps}
	if qps > 0 {
		cfg.DefaultBurst = 1
	}
	return ratelimit.New(cfg)
}
