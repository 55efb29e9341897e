package crawler

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakePage struct {
	html      string
	resources []Response
	err       error
}

type fakeBrowser struct {
	mu        sync.Mutex
	pages     map[string]fakePage
	navigated []string
	opened    int
	closed    int
	// closeAfter ends the session once this many tabs were opened. Zero means never.
	closeAfter int
}

func newFakeBrowser(pages map[string]fakePage) *fakeBrowser {
	return &fakeBrowser{pages: pages}
}

func (b *fakeBrowser) NewTab(context.Context) (Tab, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeAfter > 0 && b.opened >= b.closeAfter {
		return nil, ErrBrowserClosed
	}
	b.opened++
	return &fakeTab{browser: b}, nil
}

func (b *fakeBrowser) visits() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.navigated...)
}

type fakeTab struct {
	browser *fakeBrowser
	handler func(Response)
	url     string
}

func (t *fakeTab) OnResponse(fn func(Response)) {
	t.handler = fn
}

func (t *fakeTab) Navigate(_ context.Context, rawURL string, _ time.Duration) error {
	t.browser.mu.Lock()
	t.browser.navigated = append(t.browser.navigated, rawURL)
	page, ok := t.browser.pages[rawURL]
	t.browser.mu.Unlock()
	t.url = rawURL
	if !ok {
		return errors.New("net::ERR_NAME_NOT_RESOLVED")
	}
	if t.handler != nil {
		for _, r := range page.resources {
			t.handler(r)
		}
	}
	return page.err
}

func (t *fakeTab) HTML(context.Context) (string, error) {
	t.browser.mu.Lock()
	defer t.browser.mu.Unlock()
	return t.browser.pages[t.url].html, nil
}

func (t *fakeTab) Close() error {
	t.browser.mu.Lock()
	defer t.browser.mu.Unlock()
	t.browser.closed++
	return nil
}

func response(rawURL string, typ ResourceType, body string) Response {
	return Response{
		URL:    rawURL,
		Type:   typ,
		Status: 200,
		Body: func(context.Context) ([]byte, error) {
			// Give concurrent captures a chance to overlap.
			time.Sleep(5 * time.Millisecond)
			return []byte(body), nil
		},
	}
}

type fakeFetcher struct {
	mu    sync.Mutex
	files map[string]string
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	body, ok := f.files[rawURL]
	if !ok {
		return nil, errors.New("status 404: Not Found")
	}
	return []byte(body), nil
}

type fixedID string

func (f fixedID) NewID() (string, error) { return string(f), nil }
