package browser

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"

	"github.com/JakeFAU/webarchiver/internal/crawler"
)

// bodyLoader fetches a finished response body by request ID.
type bodyLoader func(ctx context.Context, id network.RequestID) ([]byte, error)

type pendingResponse struct {
	url    string
	typ    crawler.ResourceType
	status int
}

// tracker turns raw DevTools events into crawler responses and network idle
// signals. It is driven from the chromedp listener goroutine.
type tracker struct {
	mu        sync.Mutex
	mainFrame cdp.FrameID
	pending   map[network.RequestID]pendingResponse
	handlers  []func(crawler.Response)
	idle      chan struct{}
	idleSeen  bool
	loadBody  bodyLoader
}

func newTracker(mainFrame cdp.FrameID, loadBody bodyLoader) *tracker {
	return &tracker{
		mainFrame: mainFrame,
		pending:   make(map[network.RequestID]pendingResponse),
		idle:      make(chan struct{}),
		loadBody:  loadBody,
	}
}

func (t *tracker) onResponse(fn func(crawler.Response)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, fn)
}

// idleCh returns the channel closed when the current document reaches network idle.
func (t *tracker) idleCh() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idle
}

// resetIdle arms a fresh idle signal ahead of a navigation.
func (t *tracker) resetIdle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.idleSeen {
		t.idle = make(chan struct{})
		t.idleSeen = false
	}
}

func (t *tracker) handle(ev any) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		if e.Response == nil {
			return
		}
		t.mu.Lock()
		t.pending[e.RequestID] = pendingResponse{
			url:    e.Response.URL,
			typ:    resourceType(e.Type),
			status: int(e.Response.Status),
		}
		t.mu.Unlock()
	case *network.EventLoadingFinished:
		t.finish(e.RequestID)
	case *network.EventLoadingFailed:
		t.mu.Lock()
		delete(t.pending, e.RequestID)
		t.mu.Unlock()
	case *page.EventLifecycleEvent:
		t.lifecycle(e)
	}
}

func (t *tracker) finish(id network.RequestID) {
	t.mu.Lock()
	p, ok := t.pending[id]
	delete(t.pending, id)
	handlers := append([]func(crawler.Response){}, t.handlers...)
	t.mu.Unlock()
	if !ok {
		return
	}
	resp := crawler.Response{
		URL:    p.url,
		Type:   p.typ,
		Status: p.status,
		Body: func(ctx context.Context) ([]byte, error) {
			return t.loadBody(ctx, id)
		},
	}
	for _, fn := range handlers {
		fn(resp)
	}
}

func (t *tracker) lifecycle(e *page.EventLifecycleEvent) {
	if t.mainFrame != "" && e.FrameID != t.mainFrame {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e.Name {
	case "init":
		// A new document replaces whatever idle state the previous one reached.
		if t.idleSeen {
			t.idle = make(chan struct{})
			t.idleSeen = false
		}
	case "networkIdle":
		if !t.idleSeen {
			close(t.idle)
			t.idleSeen = true
		}
	}
}

func resourceType(rt network.ResourceType) crawler.ResourceType {
	switch rt {
	case network.ResourceTypeDocument:
		return crawler.ResourceDocument
	case network.ResourceTypeStylesheet:
		return crawler.ResourceStylesheet
	case network.ResourceTypeImage:
		return crawler.ResourceImage
	case network.ResourceTypeFont:
		return crawler.ResourceFont
	case network.ResourceTypeScript:
		return crawler.ResourceScript
	case network.ResourceTypeMedia:
		return crawler.ResourceMedia
	default:
		return crawler.ResourceOther
	}
}
