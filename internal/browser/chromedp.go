// Package browser drives headless Chrome through chromedp and exposes tabs
// that report every finished network response to the crawler.
package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/webarchiver/internal/crawler"
)

// serializeDocument mirrors a page's content including its doctype.
const serializeDocument = `(() => {
	const d = document.doctype;
	return (d ? new XMLSerializer().serializeToString(d) : "") + document.documentElement.outerHTML;
})()`

// Config controls how Chrome is launched.
type Config struct {
	Headless  bool
	ExecPath  string
	UserAgent string
}

// Browser is one Chrome process shared by every tab of a crawl.
type Browser struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger
	closed        atomic.Bool
}

// New launches Chrome and waits until it accepts commands.
func New(cfg Config, logger *zap.Logger) (*Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	sugar := logger.Sugar()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	return &Browser{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
	}, nil
}

// Close shuts Chrome down. Tabs opened afterwards fail with crawler.ErrBrowserClosed.
func (b *Browser) Close() error {
	if b == nil || !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := chromedp.Cancel(b.browserCtx)
	b.browserCancel()
	b.allocCancel()
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

// NewTab opens a blank tab with network and lifecycle events enabled. The tab
// is closed early if ctx is canceled.
func (b *Browser) NewTab(ctx context.Context) (crawler.Tab, error) {
	if b.closed.Load() || b.browserCtx.Err() != nil {
		return nil, crawler.ErrBrowserClosed
	}
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	// The first Run attaches the new target.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		if b.browserCtx.Err() != nil {
			return nil, crawler.ErrBrowserClosed
		}
		return nil, fmt.Errorf("open tab: %w", err)
	}

	tab := &Tab{ctx: tabCtx, cancel: cancel, logger: b.logger}
	var mainFrame cdp.FrameID
	if c := chromedp.FromContext(tabCtx); c != nil && c.Target != nil {
		// Chrome gives a page's main frame the target's ID.
		mainFrame = cdp.FrameID(c.Target.TargetID)
	}
	tab.tracker = newTracker(mainFrame, tab.loadBody)
	chromedp.ListenTarget(tabCtx, tab.tracker.handle)

	if err := chromedp.Run(tabCtx, network.Enable(), page.SetLifecycleEventsEnabled(true)); err != nil {
		cancel()
		return nil, fmt.Errorf("enable tab events: %w", err)
	}
	tab.stopForward = forwardCancel(ctx, cancel)
	return tab, nil
}

// Tab is one Chrome page target.
type Tab struct {
	ctx         context.Context
	cancel      context.CancelFunc
	stopForward func()
	tracker     *tracker
	logger      *zap.Logger
	closeOnce   sync.Once
	closeErr    error
}

// OnResponse registers fn for every response whose body finished loading.
func (t *Tab) OnResponse(fn func(crawler.Response)) {
	t.tracker.onResponse(fn)
}

// Navigate loads rawURL, then waits for the networkIdle lifecycle event.
// Exceeding timeout is an error.
func (t *Tab) Navigate(ctx context.Context, rawURL string, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	t.tracker.resetIdle()
	if err := chromedp.Run(navCtx, chromedp.Navigate(rawURL)); err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	select {
	case <-t.tracker.idleCh():
		return nil
	case <-navCtx.Done():
		return fmt.Errorf("wait for network idle on %s: %w", rawURL, navCtx.Err())
	}
}

// HTML returns the rendered document.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	var html string
	err := t.run(ctx, chromedp.Evaluate(serializeDocument, &html))
	if err != nil {
		return "", fmt.Errorf("serialize document: %w", err)
	}
	return html, nil
}

// Close closes the page target. It is safe to call more than once.
func (t *Tab) Close() error {
	t.closeOnce.Do(func() {
		if t.stopForward != nil {
			t.stopForward()
		}
		if err := chromedp.Cancel(t.ctx); err != nil {
			t.closeErr = fmt.Errorf("close tab: %w", err)
		}
		t.cancel()
	})
	return t.closeErr
}

func (t *Tab) loadBody(ctx context.Context, id network.RequestID) ([]byte, error) {
	var body []byte
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		b, err := network.GetResponseBody(id).Do(ctx)
		if err != nil {
			return fmt.Errorf("get response body: %w", err)
		}
		body = b
		return nil
	}))
	return body, err
}

// run executes actions on the tab, aborting when either ctx or the tab ends.
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
