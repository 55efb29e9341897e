package rewrite

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webarchiver/internal/pathmap"
)

type fakeResources struct {
	mu     sync.Mutex
	paths  *pathmap.Canonicalizer
	record map[string]string
	saved  map[string][]byte
}

func newFakeResources(t *testing.T, paths *pathmap.Canonicalizer, urls ...string) *fakeResources {
	t.Helper()
	f := &fakeResources{paths: paths, record: map[string]string{}, saved: map[string][]byte{}}
	for _, u := range urls {
		local, err := paths.LocalPath(u)
		require.NoError(t, err)
		f.record[pathmap.Normalize(u)] = local
	}
	return f
}

func (f *fakeResources) Lookup(rawURL string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	local, ok := f.record[pathmap.Normalize(rawURL)]
	return local, ok
}

func (f *fakeResources) SaveResource(_ context.Context, rawURL string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pathmap.Normalize(rawURL)
	if local, ok := f.record[key]; ok {
		return local, nil
	}
	local, err := f.paths.LocalPath(key)
	if err != nil {
		return "", err
	}
	f.record[key] = local
	f.saved[key] = data
	return local, nil
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls map[string]int
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[rawURL]++
	body, ok := f.pages[rawURL]
	if !ok {
		return nil, errors.New("404 Not Found")
	}
	return []byte(body), nil
}

func newRewriter(t *testing.T, seed string, fetcher Fetcher, urls ...string) (*Rewriter, *fakeResources) {
	t.Helper()
	paths, err := pathmap.New(seed)
	require.NoError(t, err)
	res := newFakeResources(t, paths, urls...)
	rw, err := New(paths, res, fetcher, zap.NewNop())
	require.NoError(t, err)
	return rw, res
}

func TestClassify(t *testing.T) {
	t.Parallel()
	rw, _ := newRewriter(t, "https://example.com/", nil)
	testCases := []struct {
		ref  string
		want refKind
	}{
		{"https://example.com/a.png", kindAbsoluteSameHost},
		{"http://EXAMPLE.com/a.png", kindAbsoluteSameHost},
		{"https://example.com.evil.net/a.png", kindExternal},
		{"//example.com/a.png", kindProtocolRelativeSameHost},
		{"//cdn.net/a.png", kindExternal},
		{"/a.png", kindRootRelative},
		{"img/a.png", kindRelative},
		{"../a.png", kindRelative},
		{"#top", kindSkip},
		{"data:image/png;base64,AAAA", kindSkip},
		{"mailto:me@example.com", kindSkip},
		{"tel:+15555555555", kindSkip},
		{"javascript:void(0)", kindSkip},
		{"blob:https://example.com/x", kindSkip},
		{"", kindSkip},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, rw.classify(tc.ref), tc.ref)
	}
}

func TestCSSDownloadsOnceAndRewrites(t *testing.T) {
	t.Parallel()
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/img/bg.png":      "png",
		"https://example.com/fonts/a.woff2":   "woff",
		"https://example.com/css/icons/i.svg": "svg",
	}}
	rw, res := newRewriter(t, "https://example.com/", fetcher)

	css := `body{background:url(../img/bg.png)}
@font-face{src:url("/fonts/a.woff2") format("woff2")}
.i{background:url('icons/i.svg')}
.again{background:url(../img/bg.png)}
.inline{background:url(data:image/png;base64,AAAA)}
.frag{filter:url(#blur)}
.gone{background:url(/img/missing.png)}`

	out, err := rw.CSS(context.Background(), css, "https://example.com/css/site.css")
	require.NoError(t, err)

	assert.Contains(t, out, `body{background:url('../img/bg.png')}`)
	assert.Contains(t, out, `src:url('../fonts/a.woff2') format("woff2")`)
	assert.Contains(t, out, `.i{background:url('./icons/i.svg')}`)
	assert.Contains(t, out, `.again{background:url('../img/bg.png')}`)
	assert.Contains(t, out, `url(data:image/png;base64,AAAA)`)
	assert.Contains(t, out, `url(#blur)`)
	assert.Contains(t, out, `url(/img/missing.png)`, "failed downloads stay untouched")

	assert.Equal(t, 1, fetcher.calls["https://example.com/img/bg.png"])
	assert.Equal(t, []byte("png"), res.saved["https://example.com/img/bg.png"])
	assert.Equal(t, "example.com/fonts/a.woff2", res.record["https://example.com/fonts/a.woff2"])
}

func TestCSSAllowsWhitespaceInsideURL(t *testing.T) {
	t.Parallel()
	fetcher := &fakeFetcher{pages: map[string]string{"https://example.com/a.png": "png"}}
	rw, res := newRewriter(t, "https://example.com/", fetcher, "https://example.com/img/b.png")

	out, err := rw.CSS(context.Background(),
		`x{background:url( '/a.png' )} y{background:url(  /img/b.png	)} z{background:url( "#m" )}`,
		"https://example.com/site.css")
	require.NoError(t, err)
	assert.Equal(t, `x{background:url('./a.png')} y{background:url('./img/b.png')} z{background:url( "#m" )}`, out)
	assert.Equal(t, []byte("png"), res.saved["https://example.com/a.png"])
	assert.Equal(t, 1, fetcher.calls["https://example.com/a.png"])
}

func TestCSSIsFixedPoint(t *testing.T) {
	t.Parallel()
	fetcher := &fakeFetcher{pages: map[string]string{"https://example.com/img/bg.png": "png"}}
	rw, _ := newRewriter(t, "https://example.com/", fetcher)
	ctx := context.Background()

	first, err := rw.CSS(ctx, `a{background:url("/img/bg.png")} b{background:url(../img/bg.png)}`, "https://example.com/css/site.css")
	require.NoError(t, err)
	second, err := rw.CSS(ctx, first, "https://example.com/css/site.css")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fetcher.calls["https://example.com/img/bg.png"])
}

func TestCSSWithoutFetcherUsesRecordOnly(t *testing.T) {
	t.Parallel()
	rw, _ := newRewriter(t, "https://example.com/", nil, "https://example.com/img/known.png")
	out, err := rw.CSS(context.Background(), `a{background:url(/img/known.png)} b{background:url(/img/unknown.png)}`,
		"https://example.com/site.css")
	require.NoError(t, err)
	assert.Equal(t, `a{background:url('./img/known.png')} b{background:url(/img/unknown.png)}`, out)
}

func TestCSSInvalidSourceURL(t *testing.T) {
	t.Parallel()
	rw, _ := newRewriter(t, "https://example.com/", nil)
	out, err := rw.CSS(context.Background(), "a{}", "/no-host.css")
	require.ErrorIs(t, err, ErrRewrite)
	assert.Equal(t, "a{}", out)
}

func TestInlineCSS(t *testing.T) {
	t.Parallel()
	rw, _ := newRewriter(t, "https://example.com/", nil, "https://example.com/img/hero.jpg")
	out := rw.InlineCSS(`background-image:url("/img/hero.jpg");border-image:url(/img/none.png)`,
		"https://example.com/blog/post/", "example.com/blog/post/index.html")
	assert.Equal(t, `background-image:url('../../img/hero.jpg');border-image:url(/img/none.png)`, out)
	assert.Equal(t, "color:red", rw.InlineCSS("color:red", "https://example.com/", "example.com/index.html"))
}

const samplePage = `<!DOCTYPE html>
<html><head>
<link rel="stylesheet" href="/css/site.css">
<style>.hero{background:url(/img/hero.jpg)}</style>
<script src="app.js"></script>
<script src="https://cdn.example.net/lib.js"></script>
</head><body>
<a href="/about/">About</a>
<a href="post#comments">Post</a>
<a href="https://example.com/about/#team">Team</a>
<a href="mailto:me@example.com">Mail</a>
<a href="#top">Top</a>
<a href="https://other.org/page">Elsewhere</a>
<img src="https://example.com/img/a.png">
<img src="//example.com/img/b.png">
<img src="/img/missing.png">
<img src="http://[::1">
<div style="background:url('/img/hero.jpg')">x</div>
<picture><source srcset="/img/a.png 1x, /img/missing.png 2x"></picture>
<svg><use href="/svg/icons.svg#github"></use></svg>
</body></html>`

func TestHTMLRewritesReferences(t *testing.T) {
	t.Parallel()
	rw, _ := newRewriter(t, "https://example.com/", nil,
		"https://example.com/css/site.css",
		"https://example.com/blog/app.js",
		"https://cdn.example.net/lib.js",
		"https://example.com/about/",
		"https://example.com/img/a.png",
		"https://example.com/img/b.png",
		"https://example.com/img/hero.jpg",
		"https://example.com/svg/icons.svg",
	)

	out, links, err := rw.HTML(samplePage, "https://example.com/blog/")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	assert.Contains(t, out, `href="../css/site.css"`)
	assert.Contains(t, out, `src="./app.js"`)
	assert.Contains(t, out, `src="https://cdn.example.net/lib.js"`, "external hosts are left live")
	assert.Contains(t, out, `href="../about/index.html"`)
	assert.Contains(t, out, `href="../about/index.html#team"`)
	assert.Contains(t, out, `href="mailto:me@example.com"`)
	assert.Contains(t, out, `href="#top"`)
	assert.Contains(t, out, `src="../img/a.png"`)
	assert.Contains(t, out, `src="../img/b.png"`)
	assert.Contains(t, out, `src="/img/missing.png"`)
	assert.Contains(t, out, `src="http://[::1"`)
	assert.Contains(t, out, `srcset="../img/a.png 1x, /img/missing.png 2x"`)
	assert.Contains(t, out, `href="../svg/icons.svg#github"`)
	assert.Contains(t, out, `.hero{background:url('../img/hero.jpg')}`)
	rendered, err := goquery.NewDocumentFromReader(strings.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "background:url('../img/hero.jpg')", rendered.Find("div[style]").AttrOr("style", ""))
	assert.NotContains(t, out, `"https://example.com/img/a.png"`)

	assert.Equal(t, []string{
		"https://example.com/about/",
		"https://example.com/blog/post",
		"https://other.org/page",
	}, links)
}

func TestHTMLPageOutsideCanonicalizer(t *testing.T) {
	t.Parallel()
	rw, _ := newRewriter(t, "https://example.com/", nil)
	out, links, err := rw.HTML("<p>x</p>", "no-host")
	require.ErrorIs(t, err, ErrRewrite)
	assert.Equal(t, "<p>x</p>", out)
	assert.Nil(t, links)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()
	_, err := New(nil, nil, nil, nil)
	assert.Error(t, err)
}
