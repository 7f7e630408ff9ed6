package hls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"clipfetch/pkg/interfaces"
	"clipfetch/pkg/logging"
	"clipfetch/pkg/types"
)

const (
	// MaxDepth bounds master-to-media playlist indirection.
	MaxDepth = 3

	chunkSize        = 256 * 1024
	maxPlaylistBytes = 8 << 20
)

var errTooDeep = errors.New("playlist nesting too deep")

// Options tune one assembly.
type Options struct {
	Headers   http.Header
	Selection types.Selection
	// OnSegment is called after each segment with the 1-based index.
	OnSegment func(done, total int)
}

// Assembler downloads media playlists segment by segment.
type Assembler struct {
	client     interfaces.HTTPClient
	fs         afero.Fs
	limiter    *rate.Limiter
	retries    int
	retryDelay time.Duration
	log        *logging.Logger
}

// NewAssembler creates an assembler. A nil limiter disables pacing.
func NewAssembler(client interfaces.HTTPClient, fs afero.Fs, limiter *rate.Limiter, segmentRetries int, log *logging.Logger) *Assembler {
	if segmentRetries < 1 {
		segmentRetries = 1
	}
	return &Assembler{
		client:     client,
		fs:         fs,
		limiter:    limiter,
		retries:    segmentRetries,
		retryDelay: 500 * time.Millisecond,
		log:        log.WithComponent("hls"),
	}
}

// Assemble resolves playlistURL to a media playlist and writes its segments
// to dest in order. On any failure dest is removed.
func (a *Assembler) Assemble(ctx context.Context, playlistURL, dest string, opts Options) (int64, error) {
	segments, err := a.resolve(ctx, playlistURL, opts)
	if err != nil {
		return 0, types.NewStageError("hls", err)
	}

	f, err := a.fs.Create(dest)
	if err != nil {
		return 0, types.NewStageError("hls", err)
	}

	var written int64
	for i, seg := range segments {
		n, err := a.segment(ctx, f, seg, written, opts.Headers)
		if err != nil {
			f.Close()
			a.fs.Remove(dest)
			return 0, types.NewStageError("hls", fmt.Errorf("segment %d/%d: %w: %w", i+1, len(segments), types.ErrDownloadFailed, err))
		}
		written += n
		if opts.OnSegment != nil {
			opts.OnSegment(i+1, len(segments))
		}
	}

	if err := f.Close(); err != nil {
		a.fs.Remove(dest)
		return 0, types.NewStageError("hls", err)
	}
	a.log.Debug("playlist assembled", "segments", len(segments), "bytes", written, "path", dest)
	return written, nil
}

// resolve follows master playlists down to a media playlist.
func (a *Assembler) resolve(ctx context.Context, playlistURL string, opts Options) ([]string, error) {
	current := playlistURL
	for depth := 0; depth <= MaxDepth; depth++ {
		body, err := a.fetchPlaylist(ctx, current, opts.Headers)
		if err != nil {
			return nil, err
		}
		p := Parse(body, current)
		if !p.IsMaster() {
			if len(p.Segments) == 0 {
				return nil, types.ErrEmptyPlaylist
			}
			return p.Segments, nil
		}

		v, _ := Select(p.Variants, opts.Selection)
		a.log.Debug("variant selected", "height", v.Height, "bandwidth", v.Bandwidth, "variants", len(p.Variants))
		current = v.URI
	}
	return nil, errTooDeep
}

func (a *Assembler) fetchPlaylist(ctx context.Context, playlistURL string, headers http.Header) (string, error) {
	resp, err := a.get(ctx, playlistURL, headers)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes))
	if err != nil {
		return "", types.WrapTimeout(err)
	}
	return string(body), nil
}

// segment appends one segment at offset, retrying from the same offset.
func (a *Assembler) segment(ctx context.Context, f afero.File, segURL string, offset int64, headers http.Header) (int64, error) {
	var lastErr error
	for attempt := 1; attempt <= a.retries; attempt++ {
		if attempt > 1 {
			if err := f.Truncate(offset); err != nil {
				return 0, err
			}
			if _, err := f.Seek(offset, io.SeekStart); err != nil {
				return 0, err
			}
			select {
			case <-ctx.Done():
				return 0, types.WrapTimeout(ctx.Err())
			case <-time.After(a.retryDelay):
			}
		}

		n, err := a.copySegment(ctx, f, segURL, headers)
		if err == nil {
			return n, nil
		}
		lastErr = err
		a.log.Debug("segment failed", "url", segURL, "attempt", attempt, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return 0, lastErr
}

func (a *Assembler) copySegment(ctx context.Context, w io.Writer, segURL string, headers http.Header) (int64, error) {
	resp, err := a.get(ctx, segURL, headers)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.CopyBuffer(w, resp.Body, make([]byte, chunkSize))
	if err != nil {
		return n, types.WrapTimeout(err)
	}
	return n, nil
}

func (a *Assembler) get(ctx context.Context, rawURL string, headers http.Header) (*http.Response, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, types.WrapTimeout(err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header[k] = append([]string(nil), v...)
	}
	req.Header.Del("Range")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, types.WrapTimeout(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%s: status %d", rawURL, resp.StatusCode)
	}
	return resp, nil
}
