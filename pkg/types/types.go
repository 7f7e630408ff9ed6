// Package types defines core domain types used throughout the application.
package types

import (
	"net/http"
	"strings"
)

// Platform identifies the service a source URL belongs to.
type Platform string

const (
	// PlatformDouyin covers douyin.com and iesdouyin.com.
	PlatformDouyin Platform = "douyin"
	// PlatformTikTok shares Douyin's CDN and ranking heuristics.
	PlatformTikTok Platform = "tiktok"
	// PlatformThreads covers threads.net and threads.com.
	PlatformThreads Platform = "threads"

	// Delegated platforms are handed to the external downloader.
	PlatformInstagram Platform = "instagram"
	PlatformTwitter   Platform = "twitter"
	PlatformYouTube   Platform = "youtube"
)

// String returns the platform tag.
func (p Platform) String() string {
	return string(p)
}

// Mobile reports whether the platform is scraped with mobile identities.
func (p Platform) Mobile() bool {
	return p == PlatformDouyin
}

// Referer returns the referer sent with media requests for the platform.
func (p Platform) Referer() string {
	switch p {
	case PlatformDouyin:
		return "https://www.douyin.com/"
	case PlatformTikTok:
		return "https://www.tiktok.com/"
	case PlatformThreads:
		return "https://www.threads.net/"
	case PlatformInstagram:
		return "https://www.instagram.com/"
	case PlatformTwitter:
		return "https://x.com/"
	case PlatformYouTube:
		return "https://www.youtube.com/"
	}
	return ""
}

// SourceReference is an input URL tagged with exactly one platform.
type SourceReference struct {
	Original string
	URL      string
	Platform Platform
}

// Canonicalize returns a copy pointing at the resolved URL.
func (s SourceReference) Canonicalize(resolved string) SourceReference {
	if resolved == "" {
		return s
	}
	s.URL = resolved
	return s
}

// Metadata keys shared by every extractor.
const (
	MetaTitle   = "title"
	MetaAuthor  = "author"
	MetaID      = "id"
	MetaVideoID = "video_id"
	MetaDesc    = "desc"
)

// Metadata is the best-effort description of a post. Every key is optional.
type Metadata map[string]string

// Set stores a non-empty trimmed value.
func (m Metadata) Set(key, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	m[key] = value
}

// SetDefault stores value only when key is absent.
func (m Metadata) SetDefault(key, value string) {
	if _, ok := m[key]; ok {
		return
	}
	m.Set(key, value)
}

// Merge copies every non-empty value of other into m.
func (m Metadata) Merge(other Metadata) {
	for k, v := range other {
		m.Set(k, v)
	}
}

// QualityMetrics is the quality inferred from a media URL.
type QualityMetrics struct {
	Height     int
	FPS        int
	BitrateBps int
}

// CandidateURL is a discovered media URL with its ranking inputs.
type CandidateURL struct {
	URL     string
	Quality QualityMetrics
	Score   int
}

// Less reports whether c ranks below other. Height dominates, then fps,
// bitrate and the heuristic score.
func (c CandidateURL) Less(other CandidateURL) bool {
	if c.Quality.Height != other.Quality.Height {
		return c.Quality.Height < other.Quality.Height
	}
	if c.Quality.FPS != other.Quality.FPS {
		return c.Quality.FPS < other.Quality.FPS
	}
	if c.Quality.BitrateBps != other.Quality.BitrateBps {
		return c.Quality.BitrateBps < other.Quality.BitrateBps
	}
	return c.Score < other.Score
}

// ExtractionContext accumulates state for a single extraction attempt.
// It is owned by one attempt and must not be shared.
type ExtractionContext struct {
	Source      SourceReference
	Headers     http.Header
	ResolvedURL string
	Metadata    Metadata
	Candidates  []string
}

// NewExtractionContext creates an empty context for src.
func NewExtractionContext(src SourceReference) *ExtractionContext {
	return &ExtractionContext{
		Source:      src,
		ResolvedURL: src.URL,
		Metadata:    Metadata{},
	}
}

// AddCandidates appends discovered URLs.
func (c *ExtractionContext) AddCandidates(urls ...string) {
	c.Candidates = append(c.Candidates, urls...)
}

// Selection controls quality selection for adaptive media.
type Selection struct {
	TargetHeight int // 0 means best available
	PreferSmall  bool
}

// PlaylistVariant is one entry of an HLS master playlist.
type PlaylistVariant struct {
	Bandwidth int
	Height    int
	URI       string
}

// ExtractResult is the output of a platform extractor.
type ExtractResult struct {
	MediaURL string
	Referer  string
	Headers  http.Header
	Metadata Metadata
	// LocalPath is set by delegated extractors that already wrote the file.
	LocalPath string
}

// DownloadResult is the terminal artifact returned to callers.
type DownloadResult struct {
	LocalPath   string   `json:"local_path"`
	ByteSize    int64    `json:"byte_size"`
	ContentType string   `json:"content_type"`
	Platform    Platform `json:"platform"`
	SourceURL   string   `json:"source_url"`
	MediaURL    string   `json:"media_url,omitempty"`
	Metadata    Metadata `json:"metadata,omitempty"`
}

// Size thresholds for accepted downloads.
const (
	MinFileBytes   = 1024
	MinStreamBytes = 200_000
)
