package crawler

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNavigation wraps every per-page failure. The crawl logs it and moves on.
	ErrNavigation = errors.New("navigation failed")
	// ErrBrowserClosed is returned by a Browser whose session has ended. It stops the crawl.
	ErrBrowserClosed = errors.New("browser closed")
	// ErrOutsideArchive rejects a storage key that does not stay under the run's archive prefix.
	ErrOutsideArchive = errors.New("key outside archive")
)

// DefaultNavigationTimeout bounds a single page load.
const DefaultNavigationTimeout = 30 * time.Second

// ResourceType is the browser's classification of a network response.
type ResourceType string

// Resource types reported by the browser.
const (
	ResourceDocument   ResourceType = "document"
	ResourceStylesheet ResourceType = "stylesheet"
	ResourceImage      ResourceType = "image"
	ResourceFont       ResourceType = "font"
	ResourceScript     ResourceType = "script"
	ResourceMedia      ResourceType = "media"
	ResourceOther      ResourceType = "other"
)

// Captured reports whether responses of this type are archived.
func (t ResourceType) Captured() bool {
	switch t {
	case ResourceDocument, ResourceStylesheet, ResourceImage, ResourceFont, ResourceScript, ResourceMedia:
		return true
	default:
		return false
	}
}

// Response is a finished network response observed by a Tab.
type Response struct {
	URL    string
	Type   ResourceType
	Status int
	// Body loads the response body from the browser on demand.
	Body func(ctx context.Context) ([]byte, error)
}

// Options describe one crawl run.
type Options struct {
	Seed          string
	MaxDepth      int
	SameDomain    bool
	ArchivePrefix string
}

// Result summarizes a finished run.
type Result struct {
	RunID         string
	ArchivePrefix string
	Pages         int
	Failed        int
	Resources     int
}

// Config holds the crawler settings that do not change between runs.
type Config struct {
	NavigationTimeout time.Duration
}

type queueEntry struct {
	url   string
	depth int
}
