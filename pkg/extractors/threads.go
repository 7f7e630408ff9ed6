package extractors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"clipfetch/pkg/httpclient"
	"clipfetch/pkg/identity"
	"clipfetch/pkg/interfaces"
	"clipfetch/pkg/jsonwalk"
	"clipfetch/pkg/probe"
	"clipfetch/pkg/scrape"
	"clipfetch/pkg/types"
	"clipfetch/pkg/urlutil"
)

const (
	threadsOrigin       = "https://www.threads.net"
	threadsPageAttempts = 3
	threadsPageTimeout  = 20 * time.Second
	// DefaultReaderPrefix is a text-mode page reader tried last.
	DefaultReaderPrefix = "https://r.jina.ai/"
)

var (
	lsdRe       = regexp.MustCompile(`"LSD",\s*\[\],\s*\{"token":"([^"]+)"\}`)
	shortcodeRe = regexp.MustCompile(`(?:threads\.net|threads\.com)/(?:@[\w\.\-]+/)?(?:post|status)/([A-Za-z0-9_\-]+)`)
	baseURLRe   = regexp.MustCompile(`<BaseURL>([^<]+)</BaseURL>`)
	cdnMP4Re    = regexp.MustCompile(`https://[^\s"'<>]+\.mp4[^\s"'<>]*`)
	readerMP4Re = regexp.MustCompile(`\((https://[^)]+\.mp4[^)]*)\)`)
	plainMP4Re  = regexp.MustCompile(`https://[^\s)]+\.mp4[^\s)]*`)
)

var errNoShortcode = errors.New("no post shortcode in URL")

// ThreadsOptions configure the Threads extractor.
type ThreadsOptions struct {
	Hosts []string
	// Origin replaces scheme and host when canonicalizing post URLs.
	Origin          string
	GraphQLEndpoint string
	DocIDPatterns   []*regexp.Regexp
	FallbackDocIDs  []string
	// ReaderPrefix is prepended to the canonical URL for the last-resort
	// text reader. Empty disables it.
	ReaderPrefix string
}

// ThreadsExtractor extracts video from threads.net posts.
type ThreadsExtractor struct {
	*BaseExtractor
	opts       ThreadsOptions
	structured *scrape.StructuredExtractor
	runner     *StrategyRunner
}

// NewThreadsExtractor creates a new Threads extractor.
func NewThreadsExtractor(deps Deps, opts ThreadsOptions) *ThreadsExtractor {
	base := NewBaseExtractor(deps, "threads-extractor")
	if len(opts.Hosts) == 0 {
		opts.Hosts = base.cfg.Platforms.Threads
	}
	if opts.Origin == "" {
		opts.Origin = threadsOrigin
	}
	return &ThreadsExtractor{
		BaseExtractor: base,
		opts:          opts,
		structured: &scrape.StructuredExtractor{
			JSONScripts: true,
			Markers:     []string{".mp4"},
			Shape:       threadsShape,
		},
		runner: NewStrategyRunner(types.PlatformThreads, base.log),
	}
}

// Name returns the extractor name.
func (e *ThreadsExtractor) Name() string {
	return "threads"
}

// CanExtract returns true for Threads hosts.
func (e *ThreadsExtractor) CanExtract(rawURL string) bool {
	return urlutil.HostMatches(urlutil.Hostname(rawURL), e.opts.Hosts)
}

func (e *ThreadsExtractor) headers() http.Header {
	h := e.identity.Headers(true)
	h.Set("User-Agent", identity.MobileUserAgent)
	h.Set("Accept-Language", "en-US,en;q=0.8")
	return h
}

// Extract resolves a Threads post to its best video URL.
func (e *ThreadsExtractor) Extract(ctx context.Context, src types.SourceReference, opts interfaces.ExtractOptions) (*types.ExtractResult, error) {
	shortcode := ThreadsShortcode(src.URL)
	if shortcode == "" {
		return nil, types.NewStageError("parse", fmt.Errorf("%w: %s", errNoShortcode, src.URL))
	}

	ec := types.NewExtractionContext(src)
	ec.Headers = e.headers()
	ec.ResolvedURL = CanonicalThreadsURL(src.URL, e.opts.Origin)
	ec.Metadata.Set(types.MetaID, shortcode)
	e.log.Debug("extracting Threads post", "url", ec.ResolvedURL, "shortcode", shortcode)

	session := httpclient.NewSession(e.client)
	page, _, err := e.FetchPage(ctx, ec.ResolvedURL, fetchOptions{
		Headers:  ec.Headers,
		Timeout:  threadsPageTimeout,
		Attempts: threadsPageAttempts,
		Client:   session,
	})
	if err != nil {
		e.log.Warn("threads page fetch failed", "url", ec.ResolvedURL, "error", err)
	}
	ec.Metadata.Set(types.MetaTitle, scrape.Title(page))

	winner, err := e.runner.Run(ctx, ec,
		Strategy{Name: "structured", Run: func(ctx context.Context, ec *types.ExtractionContext) ([]string, error) {
			return e.structuredStage(page, ec)
		}},
		Strategy{Name: "graphql", Run: func(ctx context.Context, ec *types.ExtractionContext) ([]string, error) {
			return e.graphqlStage(ctx, session, page, shortcode, ec)
		}},
		Strategy{Name: "render", Run: func(ctx context.Context, ec *types.ExtractionContext) ([]string, error) {
			rendered, ok := e.Render(ctx, ec.ResolvedURL, session)
			if !ok {
				return nil, types.NewStageError("render", errors.New("no renderer produced the page"))
			}
			if urls, _ := e.structuredStage(rendered, ec); len(urls) > 0 {
				return urls, nil
			}
			return HTMLVideoURLs(rendered), nil
		}},
		Strategy{Name: "page-scan", Run: func(ctx context.Context, ec *types.ExtractionContext) ([]string, error) {
			return HTMLVideoURLs(page), nil
		}},
		Strategy{Name: "reader", Run: func(ctx context.Context, ec *types.ExtractionContext) ([]string, error) {
			return e.readerStage(ctx, ec)
		}},
	)
	if err != nil {
		return nil, err
	}

	return &types.ExtractResult{
		MediaURL: CleanMediaURL(winner),
		Referer:  threadsOrigin + "/",
		Metadata: ec.Metadata,
	}, nil
}

func (e *ThreadsExtractor) structuredStage(page string, ec *types.ExtractionContext) ([]string, error) {
	if page == "" {
		return nil, nil
	}
	urls, meta, err := e.structured.Extract(page)
	ec.Metadata.Merge(meta)
	return cleanAll(urls), err
}

func (e *ThreadsExtractor) graphqlStage(ctx context.Context, session *httpclient.Session, page, shortcode string, ec *types.ExtractionContext) ([]string, error) {
	lsd := LSDToken(page)
	if lsd == "" {
		e.log.Debug("no LSD token on page", "url", ec.ResolvedURL)
	}

	discoverer := probe.NewDocIDDiscoverer(session, e.opts.DocIDPatterns, e.opts.FallbackDocIDs, ec.Headers, e.cfg.ScriptTimeout, e.log)
	docIDs := discoverer.Candidates(discoverer.Discover(ctx, page, ec.ResolvedURL))

	gql := probe.NewGraphQL(session, e.opts.GraphQLEndpoint, e.cfg.APITimeout, e.log)
	payload, err := gql.Query(ctx, ec.ResolvedURL, lsd, shortcode, docIDs)
	if err != nil {
		return nil, err
	}
	best := PickBestVideoURL(payload.Root)
	if best == "" {
		return nil, types.NewStageError("graphql", fmt.Errorf("payload has no video: %w", types.ErrNoCandidatesFound))
	}
	return []string{CleanMediaURL(best)}, nil
}

// readerStage fetches the post through a text-mode reader and takes the
// first .mp4 link it prints.
func (e *ThreadsExtractor) readerStage(ctx context.Context, ec *types.ExtractionContext) ([]string, error) {
	if e.opts.ReaderPrefix == "" {
		return nil, nil
	}
	text, _, err := e.FetchPage(ctx, e.opts.ReaderPrefix+ec.ResolvedURL, fetchOptions{Timeout: 15 * time.Second})
	if err != nil {
		return nil, err
	}
	if m := readerMP4Re.FindStringSubmatch(text); m != nil {
		return []string{CleanMediaURL(m[1])}, nil
	}
	if m := plainMP4Re.FindString(text); m != "" {
		return []string{CleanMediaURL(m)}, nil
	}
	return nil, nil
}

func threadsShape(root *jsonwalk.Node) ([]string, types.Metadata) {
	if best := PickBestVideoURL(root); best != "" {
		return []string{best}, nil
	}
	return nil, nil
}

// ThreadsShortcode returns the post shortcode in rawURL, or "".
func ThreadsShortcode(rawURL string) string {
	if m := shortcodeRe.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	return ""
}

// CanonicalThreadsURL keeps path and query of rawURL on origin.
func CanonicalThreadsURL(rawURL, origin string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	canonical := strings.TrimSuffix(origin, "/") + u.EscapedPath()
	if u.RawQuery != "" {
		canonical += "?" + u.RawQuery
	}
	return canonical
}

// LSDToken returns the LSD token embedded in a post page, or "".
func LSDToken(page string) string {
	if m := lsdRe.FindStringSubmatch(page); m != nil {
		return m[1]
	}
	return ""
}

// PickBestVideoURL visits objects in document order and returns the first
// video it finds: the widest of video_versions, then video_url, then
// playback_url, then the BaseURL of a DASH manifest.
func PickBestVideoURL(root *jsonwalk.Node) string {
	var found string
	jsonwalk.Walk(root, jsonwalk.VisitorFunc(func(_ string, n *jsonwalk.Node) bool {
		if found != "" {
			return false
		}
		if n.Kind != jsonwalk.Object {
			return true
		}
		found = bestFromNode(n)
		return found == ""
	}))
	return found
}

func bestFromNode(n *jsonwalk.Node) string {
	if versions := n.Get("video_versions"); versions != nil {
		usable := lo.Filter(versions.Items, func(v *jsonwalk.Node, _ int) bool {
			return v.Kind == jsonwalk.Object && v.Get("url").Text() != ""
		})
		if len(usable) > 0 {
			widest := slices.MaxFunc(usable, func(a, b *jsonwalk.Node) int {
				return a.Get("width").Int() - b.Get("width").Int()
			})
			return widest.Get("url").Text()
		}
	}
	if u := n.Get("video_url").Text(); u != "" {
		return u
	}
	if u := n.Get("playback_url").Text(); u != "" {
		return u
	}
	if manifest := n.Get("video_dash_manifest").Text(); manifest != "" {
		if m := baseURLRe.FindStringSubmatch(manifest); m != nil {
			return m[1]
		}
	}
	return ""
}

// HTMLVideoURLs scans rendered HTML for video sources and CDN .mp4 links.
func HTMLVideoURLs(page string) []string {
	if page == "" {
		return nil
	}
	var urls []string
	for _, src := range scrape.VideoSources(page) {
		if strings.Contains(src, "cdninstagram.com") || strings.Contains(src, ".mp4") {
			urls = append(urls, src)
		}
	}
	for _, m := range cdnMP4Re.FindAllString(page, -1) {
		if strings.Contains(m, "cdninstagram.com") {
			urls = append(urls, m)
		}
	}
	return lo.Uniq(cleanAll(urls))
}

// CleanMediaURL strips markdown brackets and JSON escapes from a URL.
func CleanMediaURL(u string) string {
	u = strings.Trim(strings.TrimSpace(u), "[]()")
	return strings.NewReplacer(`\/`, "/", `\u0026`, "&", `\u003d`, "=").Replace(u)
}

func cleanAll(urls []string) []string {
	return lo.Map(urls, func(u string, _ int) string { return CleanMediaURL(u) })
}

var _ interfaces.Extractor = (*ThreadsExtractor)(nil)
