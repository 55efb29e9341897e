package crawler

import (
	"context"
	"time"
)

// Browser opens tabs on a shared browser session.
type Browser interface {
	NewTab(ctx context.Context) (Tab, error)
}

// Tab is a single browser page. Response handlers run on the browser's event
// loop and must not block.
type Tab interface {
	OnResponse(fn func(Response))
	// Navigate loads rawURL and waits until the network is idle or timeout elapses.
	Navigate(ctx context.Context, rawURL string, timeout time.Duration) error
	// HTML serializes the rendered document, doctype included.
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Fetcher downloads a resource outside the browser.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}
