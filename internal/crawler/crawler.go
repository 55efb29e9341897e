package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webarchiver/internal/metrics"
	"github.com/JakeFAU/webarchiver/internal/rewrite"
	"github.com/JakeFAU/webarchiver/internal/storage"
)

// spritePattern finds the first same-site SVG sprite referenced from page markup.
var spritePattern = regexp.MustCompile(`/svg/[^"'\s]+\.svg`)

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Crawler archives sites one run at a time. A Crawler holds no per-run state,
// so concurrent runs with distinct prefixes are safe.
type Crawler struct {
	browser Browser
	engine  storage.Engine
	fetcher Fetcher
	ids     IDGenerator
	cfg     Config
	logger  *zap.Logger
}

// New builds a Crawler. fetcher and ids may be nil.
func New(browser Browser, engine storage.Engine, fetcher Fetcher, ids IDGenerator, cfg Config, logger *zap.Logger) (*Crawler, error) {
	if browser == nil {
		return nil, fmt.Errorf("browser is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("storage engine is required")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultNavigationTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		browser: browser,
		engine:  engine,
		fetcher: fetcher,
		ids:     ids,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Run crawls opts.Seed breadth first and writes every page and resource under
// opts.ArchivePrefix. Page failures are counted and logged; only storage
// setup failures, cancellation and a closed browser end the run early.
func (c *Crawler) Run(ctx context.Context, opts Options) (Result, error) {
	if opts.MaxDepth < 0 {
		return Result{}, fmt.Errorf("max depth must be >= 0, got %d", opts.MaxDepth)
	}
	session, err := NewSession(opts.Seed, opts.ArchivePrefix, c.engine, c.logger)
	if err != nil {
		return Result{}, err
	}
	result := Result{RunID: c.newRunID(), ArchivePrefix: session.prefix}
	logger := c.logger.With(zap.String("run_id", result.RunID), zap.String("archive", session.prefix))

	if err := c.engine.Initialize(ctx); err != nil {
		return result, fmt.Errorf("initialize %s storage: %w", c.engine.Name(), err)
	}
	if err := c.engine.CleanupIncomplete(ctx, session.prefix); err != nil {
		return result, fmt.Errorf("cleanup incomplete archive: %w", err)
	}

	rw, err := rewrite.New(session.Paths(), session, c.fetcher, logger)
	if err != nil {
		return result, fmt.Errorf("build rewriter: %w", err)
	}

	start := time.Now()
	logger.Info("crawl started",
		zap.String("url", opts.Seed),
		zap.Int("max_depth", opts.MaxDepth),
		zap.Bool("same_domain", opts.SameDomain),
	)

	queue := []queueEntry{{url: opts.Seed, depth: 0}}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			result.Resources = session.Resources()
			return result, fmt.Errorf("crawl interrupted: %w", err)
		}
		entry := queue[0]
		queue = queue[1:]

		if entry.depth > opts.MaxDepth || !session.Visit(entry.url) {
			continue
		}

		links, err := c.processPage(ctx, session, rw, entry, logger)
		if err != nil {
			result.Failed++
			metrics.ObservePage(opts.Seed, "failed")
			logger.Warn("page failed", zap.String("url", entry.url), zap.Int("depth", entry.depth), zap.Error(err))
			if errors.Is(err, ErrBrowserClosed) {
				logger.Warn("browser closed, ending crawl")
				break
			}
			continue
		}
		result.Pages++
		metrics.ObservePage(opts.Seed, "ok")

		if entry.depth+1 > opts.MaxDepth {
			continue
		}
		for _, link := range links {
			if opts.SameDomain && !session.SameSite(link) {
				continue
			}
			if session.Visited(link) {
				continue
			}
			queue = append(queue, queueEntry{url: link, depth: entry.depth + 1})
		}
	}

	result.Resources = session.Resources()
	logger.Info("crawl finished",
		zap.Int("pages", result.Pages),
		zap.Int("failed", result.Failed),
		zap.Int("resources", result.Resources),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// processPage visits one URL and returns the anchors found on it.
func (c *Crawler) processPage(
	ctx context.Context,
	s *Session,
	rw *rewrite.Rewriter,
	entry queueEntry,
	logger *zap.Logger,
) ([]string, error) {
	logger = logger.With(zap.String("url", entry.url), zap.Int("depth", entry.depth))
	logger.Info("processing page")

	tab, err := c.browser.NewTab(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open tab: %w", ErrNavigation, err)
	}
	defer func() {
		if cerr := tab.Close(); cerr != nil {
			logger.Debug("closing tab", zap.Error(cerr))
		}
	}()

	tasks := newTaskSet(ctx)
	tab.OnResponse(func(resp Response) {
		if resp.Type == ResourceDocument || !resp.Type.Captured() {
			return
		}
		if !tasks.Go(func(ctx context.Context) { c.captureResource(ctx, s, rw, resp, logger) }) {
			logger.Debug("response after page settled", zap.String("resource", resp.URL))
		}
	})

	navErr := tab.Navigate(ctx, entry.url, c.cfg.NavigationTimeout)
	// Every capture must land in the record before the page is rewritten.
	tasks.Wait()
	if navErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrNavigation, navErr)
	}

	if favicon, err := resolveRef(entry.url, "/favicon.ico"); err == nil {
		c.probe(ctx, s, favicon, logger)
	}

	html, err := tab.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read document: %w", ErrNavigation, err)
	}
	if ref := spritePattern.FindString(html); ref != "" {
		if sprite, err := resolveRef(entry.url, ref); err == nil {
			c.probe(ctx, s, sprite, logger)
		}
	}

	out, links, err := rw.HTML(html, entry.url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNavigation, err)
	}
	local, err := s.savePage(ctx, entry.url, []byte(out))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNavigation, err)
	}
	logger.Info("page saved", zap.String("key", s.Key(local)), zap.Int("links", len(links)))
	return links, nil
}

// captureResource archives one browser response. Stylesheets are rewritten first.
func (c *Crawler) captureResource(ctx context.Context, s *Session, rw *rewrite.Rewriter, resp Response, logger *zap.Logger) {
	if !isHTTP(resp.URL) || resp.Status >= 400 {
		return
	}
	if _, ok := s.Lookup(resp.URL); ok {
		return
	}
	if resp.Body == nil {
		return
	}
	body, err := resp.Body(ctx)
	if err != nil {
		logger.Debug("response body unavailable", zap.String("resource", resp.URL), zap.Error(err))
		return
	}
	if resp.Type == ResourceStylesheet {
		css, err := rw.CSS(ctx, string(body), resp.URL)
		if err != nil {
			logger.Warn("stylesheet rewrite failed", zap.String("resource", resp.URL), zap.Error(err))
		}
		body = []byte(css)
	}
	if _, err := s.store(ctx, resp.URL, body, string(resp.Type)); err != nil {
		logger.Warn("resource not archived", zap.String("resource", resp.URL), zap.Error(err))
	}
}

// probe fetches a resource the page may not have requested. Failures are ignored.
func (c *Crawler) probe(ctx context.Context, s *Session, rawURL string, logger *zap.Logger) {
	if c.fetcher == nil {
		return
	}
	if _, ok := s.Lookup(rawURL); ok {
		return
	}
	data, err := c.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		logger.Debug("probe missed", zap.String("resource", rawURL), zap.Error(err))
		return
	}
	if _, err := s.store(ctx, rawURL, data, "probe"); err != nil {
		logger.Warn("probe not archived", zap.String("resource", rawURL), zap.Error(err))
	}
}

func (c *Crawler) newRunID() string {
	if c.ids == nil {
		return ""
	}
	id, err := c.ids.NewID()
	if err != nil {
		c.logger.Warn("run id unavailable", zap.Error(err))
		return ""
	}
	return id
}

func resolveRef(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base: %w", err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse ref: %w", err)
	}
	return b.ResolveReference(r).String(), nil
}

func isHTTP(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
