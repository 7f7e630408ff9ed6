// Package extractors provides platform extractor implementations.
// Each extractor resolves a post URL on one platform to a direct media URL.
//
// To add a new extractor:
// 1. Create a new file (e.g., myplatform.go)
// 2. Implement the Extractor interface
// 3. Register it in the registry (see internal/app)
package extractors

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"clipfetch/pkg/config"
	"clipfetch/pkg/httpclient"
	"clipfetch/pkg/identity"
	"clipfetch/pkg/interfaces"
	"clipfetch/pkg/logging"
	"clipfetch/pkg/types"
)

const maxPageBytes = 16 << 20

// Deps are the shared collaborators every extractor is built from.
type Deps struct {
	Client    *httpclient.Client
	Identity  *identity.Provider
	Config    *config.Config
	Limiter   *rate.Limiter
	Renderers []interfaces.PageRenderer
	Log       *logging.Logger
}

// BaseExtractor provides common functionality for extractors.
type BaseExtractor struct {
	client    *httpclient.Client
	identity  *identity.Provider
	cfg       *config.Config
	limiter   *rate.Limiter
	renderers []interfaces.PageRenderer
	log       *logging.Logger
}

// NewBaseExtractor creates a new base extractor.
func NewBaseExtractor(deps Deps, component string) *BaseExtractor {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	ident := deps.Identity
	if ident == nil {
		ident = identity.New()
	}
	return &BaseExtractor{
		client:    deps.Client,
		identity:  ident,
		cfg:       cfg,
		limiter:   deps.Limiter,
		renderers: deps.Renderers,
		log:       deps.Log.WithComponent(component),
	}
}

// Close releases resources.
func (b *BaseExtractor) Close() error {
	return nil
}

// fetchOptions control a page fetch.
type fetchOptions struct {
	Headers  http.Header
	Timeout  time.Duration
	Attempts int
	// Client overrides the shared client, e.g. with a cookie session.
	Client interfaces.HTTPClient
}

// FetchPage GETs a page and returns its body and final URL.
func (b *BaseExtractor) FetchPage(ctx context.Context, pageURL string, opts fetchOptions) (string, string, error) {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = b.cfg.PageTimeout
	}
	client := opts.Client
	if client == nil {
		client = b.client
	}

	var lastErr error
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		page, final, err := b.fetchOnce(ctx, client, pageURL, opts)
		if err == nil {
			return page, final, nil
		}
		lastErr = err
		b.log.Debug("page fetch failed", "url", pageURL, "attempt", attempt, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return "", pageURL, types.NewStageError("fetch", lastErr)
}

func (b *BaseExtractor) fetchOnce(ctx context.Context, client interfaces.HTTPClient, pageURL string, opts fetchOptions) (string, string, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return "", "", types.WrapTimeout(err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", "", err
	}
	for k, v := range opts.Headers {
		req.Header[k] = append([]string(nil), v...)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", "", types.WrapTimeout(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", "", types.WrapTimeout(err)
	}

	final := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return string(body), final, nil
}

// cookieRenderer is implemented by renderers that also return cookies.
type cookieRenderer interface {
	RenderWithCookies(ctx context.Context, url string) (string, []*http.Cookie, error)
}

// Render tries the configured page renderers in order. Cookies returned by
// a renderer are stored in session when one is given.
func (b *BaseExtractor) Render(ctx context.Context, pageURL string, session *httpclient.Session) (string, bool) {
	for _, r := range b.renderers {
		var (
			page    string
			cookies []*http.Cookie
			err     error
		)
		if cr, ok := r.(cookieRenderer); ok {
			page, cookies, err = cr.RenderWithCookies(ctx, pageURL)
		} else {
			page, err = r.Render(ctx, pageURL)
		}
		if err != nil {
			b.log.Debug("renderer failed", "renderer", r.Name(), "url", pageURL, "error", err)
			continue
		}
		if session != nil && len(cookies) > 0 {
			if u, err := url.Parse(pageURL); err == nil {
				session.SetCookies(u, cookies)
			}
		}
		b.log.Info("page rendered", "renderer", r.Name(), "url", pageURL)
		return page, true
	}
	return "", false
}

// ResolveRedirect follows short links. Failures fall back to rawURL.
func (b *BaseExtractor) ResolveRedirect(ctx context.Context, rawURL string, headers http.Header) string {
	return b.client.ResolveRedirect(ctx, rawURL, headers, b.cfg.RedirectTimeout)
}
