package extractors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lrstanley/go-ytdlp"
	"github.com/samber/lo"

	"clipfetch/pkg/interfaces"
	"clipfetch/pkg/logging"
	"clipfetch/pkg/types"
	"clipfetch/pkg/urlutil"
)

// YTDLP runs the yt-dlp binary through go-ytdlp.
type YTDLP struct {
	path string
	log  *logging.Logger
}

// NewYTDLP creates a runner. An empty path uses yt-dlp from PATH.
func NewYTDLP(path string, log *logging.Logger) *YTDLP {
	return &YTDLP{path: path, log: log.WithComponent("ytdlp")}
}

// Run downloads rawURL to outputTemplate and returns the written file.
func (y *YTDLP) Run(ctx context.Context, rawURL, outputTemplate string) (string, error) {
	dl := ytdlp.New().
		ForceOverwrites().
		RestrictFilenames().
		PrintJSON().
		Output(outputTemplate)
	if y.path != "" {
		dl.SetExecutable(y.path)
	}

	result, err := dl.Run(ctx, rawURL)
	if err != nil {
		return "", err
	}

	if info, err := result.GetExtractedInfo(); err == nil {
		for _, item := range info {
			if item.Filename != nil && *item.Filename != "" {
				return *item.Filename, nil
			}
		}
	}
	return newestMatch(outputTemplate)
}

// newestMatch finds the file yt-dlp wrote when it did not report one.
func newestMatch(outputTemplate string) (string, error) {
	pattern := strings.NewReplacer("%(id)s", "*", "%(ext)s", "*", "%(title)s", "*").Replace(outputTemplate)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}
	var (
		newest string
		best   int64
	)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if mod := info.ModTime().UnixNano(); mod > best {
			newest, best = m, mod
		}
	}
	if newest == "" {
		return "", errors.New("no output file produced")
	}
	return newest, nil
}

// DelegateExtractor hands whole downloads to an external downloader for
// platforms without a dedicated scraper.
type DelegateExtractor struct {
	platform   types.Platform
	hosts      []string
	downloader interfaces.ExternalDownloader
	log        *logging.Logger
}

// NewDelegateExtractor creates an extractor for platform.
func NewDelegateExtractor(platform types.Platform, hosts []string, downloader interfaces.ExternalDownloader, log *logging.Logger) *DelegateExtractor {
	return &DelegateExtractor{
		platform:   platform,
		hosts:      hosts,
		downloader: downloader,
		log:        log.WithComponent(platform.String() + "-delegate"),
	}
}

// Name returns the extractor name.
func (e *DelegateExtractor) Name() string {
	return e.platform.String()
}

// CanExtract returns true for the platform's hosts.
func (e *DelegateExtractor) CanExtract(rawURL string) bool {
	return urlutil.HostMatches(urlutil.Hostname(rawURL), e.hosts)
}

// Extract runs the external downloader into opts.OutputDir. The result
// carries LocalPath instead of a media URL.
func (e *DelegateExtractor) Extract(ctx context.Context, src types.SourceReference, opts interfaces.ExtractOptions) (*types.ExtractResult, error) {
	dir := lo.CoalesceOrEmpty(opts.OutputDir, ".")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	template := filepath.Join(dir, e.platform.String()+"_%(id)s.%(ext)s")

	e.log.Info("delegating download", "url", src.URL, "template", template)
	path, err := e.downloader.Run(ctx, src.URL, template)
	if err != nil {
		return nil, types.NewStageError("delegate", fmt.Errorf("%w: %w", types.ErrExternalToolFailed, err))
	}

	meta := types.Metadata{}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	meta.Set(types.MetaID, strings.TrimPrefix(name, e.platform.String()+"_"))
	return &types.ExtractResult{
		LocalPath: path,
		Referer:   e.platform.Referer(),
		Metadata:  meta,
	}, nil
}

// Close releases resources.
func (e *DelegateExtractor) Close() error {
	return nil
}

var (
	_ interfaces.Extractor          = (*DelegateExtractor)(nil)
	_ interfaces.ExternalDownloader = (*YTDLP)(nil)
)
