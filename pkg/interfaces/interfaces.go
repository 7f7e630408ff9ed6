// Package interfaces defines the core abstractions for the download pipeline.
// Platform extractors, page renderers and the external downloader implement
// these interfaces, so the router can be assembled from any combination.
package interfaces

import (
	"context"
	"net/http"

	"clipfetch/pkg/types"
)

// Extractor resolves a post URL on one platform to a direct media URL.
//
// To add a new extractor:
// 1. Create a new file in pkg/extractors/
// 2. Implement this interface
// 3. Register it in the ExtractorRegistry (see internal/app)
type Extractor interface {
	// Name returns a unique identifier for this extractor.
	Name() string

	// CanExtract returns true if this extractor can handle the given URL.
	CanExtract(url string) bool

	// Extract resolves the source to a media URL plus metadata.
	Extract(ctx context.Context, src types.SourceReference, opts ExtractOptions) (*types.ExtractResult, error)

	// Close releases any resources held by the extractor.
	Close() error
}

// ExtractOptions contains optional parameters for extraction.
type ExtractOptions struct {
	Headers   http.Header
	Selection types.Selection
	// OutputDir is used by extractors that write the file themselves.
	OutputDir string
}

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// PageRenderer fetches a page through something heavier than plain HTTP
// (a challenge solver or a headless browser) and returns its HTML.
type PageRenderer interface {
	Name() string
	Render(ctx context.Context, url string) (string, error)
}

// ExternalDownloader hands a URL to a third-party downloader and returns
// the path of the file it produced.
type ExternalDownloader interface {
	Run(ctx context.Context, url, outputTemplate string) (string, error)
}

// Registry is a generic interface for component registries.
type Registry[T any] interface {
	// Register adds a component to the registry.
	Register(component T)

	// Get returns the appropriate component for the given URL.
	Get(url string) T

	// All returns all registered components.
	All() []T
}
