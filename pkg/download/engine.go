// Package download fetches a ranked media URL to disk, falling back through
// playlist assembly, redirect following and watermark toggling.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	mrand "math/rand/v2"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"clipfetch/pkg/hls"
	"clipfetch/pkg/identity"
	"clipfetch/pkg/interfaces"
	"clipfetch/pkg/logging"
	"clipfetch/pkg/types"
)

const chunkSize = 256 * 1024

// ProgressFunc receives bytes written so far and the expected total
// (zero when unknown).
type ProgressFunc func(done, total int64)

// RedirectResolver follows redirects and returns the final URL, or the input
// on failure.
type RedirectResolver interface {
	ResolveRedirect(ctx context.Context, rawURL string, headers http.Header, timeout time.Duration) string
}

// Options tune the engine.
type Options struct {
	Retries  int
	MinDelay time.Duration
	MaxDelay time.Duration
	// Timeout bounds a single stream attempt.
	Timeout time.Duration
}

// Request is one file to fetch.
type Request struct {
	URL       string
	Platform  types.Platform
	Referer   string
	Headers   http.Header
	Dest      string
	Selection types.Selection
	Progress  ProgressFunc
}

// Result describes the accepted file.
type Result struct {
	Path        string
	Bytes       int64
	ContentType string
	MediaURL    string
}

// Engine runs the download state machine.
type Engine struct {
	client    interfaces.HTTPClient
	identity  *identity.Provider
	assembler *hls.Assembler
	resolver  RedirectResolver
	fs        afero.Fs
	opts      Options
	log       *logging.Logger
}

// New creates an engine.
func New(client interfaces.HTTPClient, ident *identity.Provider, assembler *hls.Assembler, resolver RedirectResolver, fs afero.Fs, opts Options, log *logging.Logger) *Engine {
	if opts.Retries < 1 {
		opts.Retries = 1
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	return &Engine{
		client:    client,
		identity:  ident,
		assembler: assembler,
		resolver:  resolver,
		fs:        fs,
		opts:      opts,
		log:       log.WithComponent("download"),
	}
}

type streamResult struct {
	bytes       int64
	contentType string
}

// plausible reports whether a flat stream looks like a real video file.
func (s streamResult) plausible() bool {
	if s.bytes < types.MinFileBytes {
		return false
	}
	ct := strings.ToLower(s.contentType)
	if !strings.Contains(ct, "video") && !strings.Contains(ct, "application/octet-stream") {
		return false
	}
	return s.bytes >= types.MinStreamBytes
}

// Download fetches req.URL to req.Dest. The returned path may differ from
// Dest when the media turned out to be a playlist.
func (e *Engine) Download(ctx context.Context, req Request) (*Result, error) {
	if err := e.fs.MkdirAll(filepath.Dir(req.Dest), 0o755); err != nil {
		return nil, types.NewStageError("download", err)
	}

	mediaURL := req.URL
	if req.Platform == types.PlatformDouyin {
		mediaURL = RewritePlayURL(mediaURL, req.Selection)
	}
	log := e.log.WithPlatform(string(req.Platform)).WithURL(mediaURL)

	if hls.IsPlaylistURL(mediaURL, "") {
		return e.playlist(ctx, mediaURL, req)
	}

	var failures []error
	attempt := func(u string) (*Result, bool, error) {
		res, err := e.stream(ctx, u, req)
		if err != nil {
			e.fs.Remove(req.Dest)
			failures = append(failures, err)
			return nil, false, nil
		}
		if hls.IsPlaylistURL(u, res.contentType) {
			e.fs.Remove(req.Dest)
			r, err := e.playlist(ctx, u, req)
			return r, true, err
		}
		if res.plausible() {
			return &Result{Path: req.Dest, Bytes: res.bytes, ContentType: res.contentType, MediaURL: u}, true, nil
		}
		log.Debug("implausible response", "url", u, "bytes", res.bytes, "content_type", res.contentType)
		e.fs.Remove(req.Dest)
		failures = append(failures, fmt.Errorf("%s: %d bytes of %q", u, res.bytes, res.contentType))
		return nil, false, nil
	}

	if r, done, err := attempt(mediaURL); done {
		return r, err
	}

	if ctx.Err() == nil && e.resolver != nil {
		final := e.resolver.ResolveRedirect(ctx, mediaURL, e.headers(req, 0), 0)
		if final != mediaURL {
			log.Debug("retrying after redirect", "final", final)
			if r, done, err := attempt(final); done {
				return r, err
			}
		}
	}

	if ctx.Err() == nil && req.Platform == types.PlatformDouyin {
		if alt := ToggleWatermark(mediaURL); alt != mediaURL {
			log.Debug("retrying watermark variant", "alt", alt)
			if r, done, err := attempt(alt); done {
				return r, err
			}
		}
	}

	if ctx.Err() != nil {
		failures = append(failures, types.WrapTimeout(ctx.Err()))
	}
	return nil, types.NewStageError("download", fmt.Errorf("%w: %w", types.ErrDownloadFailed, errors.Join(failures...)))
}

func (e *Engine) playlist(ctx context.Context, playlistURL string, req Request) (*Result, error) {
	dest := PlaylistPath(req.Dest)
	var onSegment func(done, total int)
	if req.Progress != nil {
		onSegment = func(done, total int) { req.Progress(int64(done), int64(total)) }
	}

	n, err := e.assembler.Assemble(ctx, playlistURL, dest, hls.Options{
		Headers:   e.headers(req, 0),
		Selection: req.Selection,
		OnSegment: onSegment,
	})
	if err != nil {
		return nil, err
	}
	if n < types.MinFileBytes {
		e.fs.Remove(dest)
		return nil, types.NewStageError("hls", fmt.Errorf("%w: assembled %d bytes", types.ErrDownloadFailed, n))
	}
	return &Result{Path: dest, Bytes: n, ContentType: "video/mp2t", MediaURL: playlistURL}, nil
}

// stream downloads u to req.Dest, retrying transport failures with fresh
// headers and a jittered pause.
func (e *Engine) stream(ctx context.Context, u string, req Request) (streamResult, error) {
	var lastErr error
	for attempt := 0; attempt < e.opts.Retries; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx); err != nil {
				return streamResult{}, err
			}
		}
		res, err := e.streamOnce(ctx, u, req, attempt)
		if err == nil {
			return res, nil
		}
		lastErr = err
		e.log.Debug("stream attempt failed", "url", u, "attempt", attempt+1, "error", err)
	}
	return streamResult{}, lastErr
}

func (e *Engine) streamOnce(ctx context.Context, u string, req Request, attempt int) (streamResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return streamResult{}, err
	}
	httpReq.Header = e.headers(req, attempt)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return streamResult{}, types.WrapTimeout(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return streamResult{}, fmt.Errorf("%s: status %d", u, resp.StatusCode)
	}

	f, err := e.fs.Create(req.Dest)
	if err != nil {
		return streamResult{}, err
	}
	defer f.Close()

	var body io.Reader = resp.Body
	if req.Progress != nil {
		body = &progressReader{reader: resp.Body, total: resp.ContentLength, onProgress: req.Progress}
	}
	n, err := io.CopyBuffer(f, body, make([]byte, chunkSize))
	if err != nil {
		return streamResult{}, types.WrapTimeout(err)
	}
	return streamResult{bytes: n, contentType: resp.Header.Get("Content-Type")}, nil
}

func (e *Engine) headers(req Request, attempt int) http.Header {
	referer := req.Referer
	if referer == "" {
		referer = req.Platform.Referer()
	}
	h := e.identity.DownloadHeaders(req.Platform.Mobile(), referer, attempt)
	for k, v := range req.Headers {
		h[k] = append([]string(nil), v...)
	}
	return h
}

func (e *Engine) sleep(ctx context.Context) error {
	d := e.opts.MinDelay
	if span := e.opts.MaxDelay - e.opts.MinDelay; span > 0 {
		d += time.Duration(mrand.Int64N(int64(span)))
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return types.WrapTimeout(ctx.Err())
	case <-t.C:
		return nil
	}
}

// progressReader wraps an io.Reader and reports progress.
type progressReader struct {
	reader     io.Reader
	total      int64
	done       int64
	onProgress ProgressFunc
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.done += int64(n)
		pr.onProgress(pr.done, max(pr.total, 0))
	}
	return n, err
}
