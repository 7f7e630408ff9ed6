// Package router detects the platform of a source URL, runs the matching
// extractor and hands the winning media URL to the download engine.
package router

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"clipfetch/pkg/config"
	"clipfetch/pkg/download"
	"clipfetch/pkg/interfaces"
	"clipfetch/pkg/logging"
	"clipfetch/pkg/registry"
	"clipfetch/pkg/types"
	"clipfetch/pkg/urlutil"
)

var mediaExts = []string{".mp4", ".webm", ".mov", ".m4v"}

// Options control one download job.
type Options struct {
	OutputDir    string
	TargetHeight int
	PreferSmall  bool
	// Now stamps filenames. Nil uses time.Now.
	Now      func() time.Time
	Progress download.ProgressFunc
}

func (o Options) selection() types.Selection {
	return types.Selection{TargetHeight: o.TargetHeight, PreferSmall: o.PreferSmall}
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Resolution is the outcome of extraction without a download.
type Resolution struct {
	Source types.SourceReference
	Result *types.ExtractResult
}

// JobResult pairs a source URL with its outcome in a batch.
type JobResult struct {
	SourceURL string
	Result    *types.DownloadResult
	Err       error
}

// Router wires detection, extraction and download together.
type Router struct {
	registry *registry.ExtractorRegistry
	engine   *download.Engine
	fs       afero.Fs
	hosts    config.PlatformHosts
	log      *logging.Logger
}

// New creates a router.
func New(reg *registry.ExtractorRegistry, engine *download.Engine, fs afero.Fs, hosts config.PlatformHosts, log *logging.Logger) *Router {
	return &Router{
		registry: reg,
		engine:   engine,
		fs:       fs,
		hosts:    hosts,
		log:      log.WithComponent("router"),
	}
}

// Detect tags rawURL with exactly one platform. Host suffixes are matched
// first; a host merely containing "tiktok" or "douyin" is accepted after.
func Detect(rawURL string, hosts config.PlatformHosts) (types.SourceReference, error) {
	trimmed := strings.TrimSpace(rawURL)
	u, err := url.Parse(trimmed)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return types.SourceReference{}, fmt.Errorf("%w: not an http(s) URL: %q", types.ErrUnsupportedPlatform, rawURL)
	}
	host := urlutil.Hostname(trimmed)

	ordered := []struct {
		platform types.Platform
		suffixes []string
	}{
		{types.PlatformTikTok, hosts.TikTok},
		{types.PlatformDouyin, hosts.Douyin},
		{types.PlatformThreads, hosts.Threads},
		{types.PlatformInstagram, hosts.Instagram},
		{types.PlatformTwitter, hosts.Twitter},
		{types.PlatformYouTube, hosts.YouTube},
	}
	for _, o := range ordered {
		if urlutil.HostMatches(host, o.suffixes) {
			return types.SourceReference{Original: rawURL, URL: trimmed, Platform: o.platform}, nil
		}
	}

	switch {
	case strings.Contains(host, "tiktok"):
		return types.SourceReference{Original: rawURL, URL: trimmed, Platform: types.PlatformTikTok}, nil
	case strings.Contains(host, "douyin"):
		return types.SourceReference{Original: rawURL, URL: trimmed, Platform: types.PlatformDouyin}, nil
	}
	return types.SourceReference{}, fmt.Errorf("%w: %s", types.ErrUnsupportedPlatform, host)
}

func (r *Router) extractor(src types.SourceReference) (interfaces.Extractor, error) {
	if e, ok := r.registry.ForPlatform(src.Platform); ok {
		return e, nil
	}
	if e := r.registry.Get(src.URL); e != nil {
		return e, nil
	}
	return nil, fmt.Errorf("%w: no extractor for %s", types.ErrUnsupportedPlatform, src.Platform)
}

// Resolve runs detection and extraction only.
func (r *Router) Resolve(ctx context.Context, sourceURL string, opts Options) (*Resolution, error) {
	src, err := Detect(sourceURL, r.hosts)
	if err != nil {
		return nil, err
	}
	if isDelegated(src.Platform) {
		return nil, fmt.Errorf("%w: %s is handled by the external downloader and cannot be resolved", types.ErrUnsupportedPlatform, src.Platform)
	}
	ext, err := r.extractor(src)
	if err != nil {
		return nil, err
	}

	res, err := ext.Extract(ctx, src, interfaces.ExtractOptions{Selection: opts.selection(), OutputDir: opts.OutputDir})
	if err != nil {
		return nil, err
	}
	return &Resolution{Source: src, Result: res}, nil
}

// Download runs one job end to end. On error no file is left behind.
func (r *Router) Download(ctx context.Context, sourceURL string, opts Options) (*types.DownloadResult, error) {
	jobID := uuid.NewString()
	log := r.log.WithJob(jobID)
	start := time.Now()

	src, err := Detect(sourceURL, r.hosts)
	if err != nil {
		log.Warn("unsupported source", "url", sourceURL, "error", err)
		return nil, err
	}
	log = log.WithPlatform(src.Platform.String())
	log.Info("job started", "url", src.URL)

	ext, err := r.extractor(src)
	if err != nil {
		return nil, err
	}

	outputDir := lo.CoalesceOrEmpty(opts.OutputDir, ".")
	res, err := ext.Extract(ctx, src, interfaces.ExtractOptions{Selection: opts.selection(), OutputDir: outputDir})
	if err != nil {
		log.WithError(err).Warn("extraction failed")
		return nil, err
	}

	var result *types.DownloadResult
	if res.LocalPath != "" {
		result, err = r.adoptLocal(src, res)
	} else {
		result, err = r.fetch(ctx, src, res, outputDir, opts)
	}
	if err != nil {
		log.WithError(err).Warn("download failed")
		return nil, err
	}

	log.WithDuration(time.Since(start)).Info("job finished", "path", result.LocalPath, "bytes", result.ByteSize)
	return result, nil
}

func (r *Router) fetch(ctx context.Context, src types.SourceReference, res *types.ExtractResult, outputDir string, opts Options) (*types.DownloadResult, error) {
	name := download.DecideFilename(src.Platform, res.Metadata, opts.now(), mediaExt(res.MediaURL))
	dest := filepath.Join(outputDir, name)

	out, err := r.engine.Download(ctx, download.Request{
		URL:       res.MediaURL,
		Platform:  src.Platform,
		Referer:   res.Referer,
		Headers:   res.Headers,
		Dest:      dest,
		Selection: opts.selection(),
		Progress:  opts.Progress,
	})
	if err != nil {
		r.removePartial(dest)
		return nil, err
	}
	return &types.DownloadResult{
		LocalPath:   out.Path,
		ByteSize:    out.Bytes,
		ContentType: out.ContentType,
		Platform:    src.Platform,
		SourceURL:   src.Original,
		MediaURL:    out.MediaURL,
		Metadata:    res.Metadata,
	}, nil
}

// adoptLocal validates a file written by an external downloader.
func (r *Router) adoptLocal(src types.SourceReference, res *types.ExtractResult) (*types.DownloadResult, error) {
	info, err := r.fs.Stat(res.LocalPath)
	if err != nil {
		return nil, types.NewStageError("delegate", fmt.Errorf("%w: %w", types.ErrExternalToolFailed, err))
	}
	if info.Size() < types.MinFileBytes {
		_ = r.fs.Remove(res.LocalPath)
		return nil, types.NewStageError("delegate", fmt.Errorf("%w: output is %d bytes", types.ErrDownloadFailed, info.Size()))
	}
	return &types.DownloadResult{
		LocalPath:   res.LocalPath,
		ByteSize:    info.Size(),
		ContentType: lo.CoalesceOrEmpty(mime.TypeByExtension(filepath.Ext(res.LocalPath)), "application/octet-stream"),
		Platform:    src.Platform,
		SourceURL:   src.Original,
		Metadata:    res.Metadata,
	}, nil
}

func (r *Router) removePartial(dest string) {
	for _, p := range []string{dest, download.PlaylistPath(dest)} {
		if err := r.fs.Remove(p); err != nil && !errors.Is(err, afero.ErrFileNotFound) {
			r.log.Debug("failed to remove partial file", "path", p, "error", err)
		}
	}
}

// DownloadAll runs every URL with at most jobs in flight. Results keep the
// input order. A failed job does not cancel the others.
func (r *Router) DownloadAll(ctx context.Context, urls []string, opts Options, jobs int) []JobResult {
	results := make([]JobResult, len(urls))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(jobs, 1))

	for i, u := range urls {
		g.Go(func() error {
			res, err := r.Download(ctx, u, opts)
			results[i] = JobResult{SourceURL: u, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Close releases the extractors.
func (r *Router) Close() error {
	return r.registry.Close()
}

func isDelegated(p types.Platform) bool {
	return p == types.PlatformInstagram || p == types.PlatformTwitter || p == types.PlatformYouTube
}

func mediaExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".mp4"
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if lo.Contains(mediaExts, ext) {
		return ext
	}
	return ".mp4"
}
