package extractors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"clipfetch/pkg/interfaces"
	"clipfetch/pkg/jsonwalk"
	"clipfetch/pkg/probe"
	"clipfetch/pkg/scrape"
	"clipfetch/pkg/types"
	"clipfetch/pkg/urlutil"
)

const douyinReferer = "https://www.douyin.com/"

// DefaultDouyinEndpoints are probed in order for a post id.
var DefaultDouyinEndpoints = []probe.Endpoint{
	{URLTemplate: "https://www.iesdouyin.com/web/api/v2/aweme/iteminfo/?item_ids={id}", Referer: "https://www.iesdouyin.com/", Mobile: true},
	{URLTemplate: "https://www.douyin.com/aweme/v1/web/aweme/detail/?aweme_id={id}", Referer: douyinReferer},
	{URLTemplate: "https://www.iesdouyin.com/aweme/v1/play/?video_id={id}&ratio=1080p&line=0&is_play_url=1&source=Web", Referer: douyinReferer, Mobile: true},
	{URLTemplate: "https://www.iesdouyin.com/aweme/v1/play/?video_id={id}&ratio=720p&line=0&is_play_url=1&source=Web", Referer: douyinReferer, Mobile: true},
}

// DefaultDouyinSynthesis are play URL shapes tried when nothing else works.
var DefaultDouyinSynthesis = []string{
	"https://aweme.snssdk.com/aweme/v1/play/?video_id={id}&line=0&ratio=1080p&media_type=4&vr_type=0&improve_bitrate=0&is_play_url=1&is_support_h265=0&source=PackSourceEnum_PUBLISH",
	"https://www.iesdouyin.com/aweme/v1/play/?video_id={id}&ratio=1080p&line=0&watermark=1&source=Web",
	"https://www.douyin.com/aweme/v1/play/?video_id={id}&line=0&file_id=0&quality=normal&tos=cn",
}

var (
	modalIDRe     = regexp.MustCompile(`(?:^|[?&#])modal_id=(\d{6,})`)
	searchHrefRe  = regexp.MustCompile(`href=['"]/video/(\d+)['"]`)
	searchVideoRe = regexp.MustCompile(`https?://www\.douyin\.com/video/(\d+)`)
)

// maxProbeIDs bounds how many identifiers are sent to the API probe.
const maxProbeIDs = 5

// DouyinOptions configure the Douyin extractor.
type DouyinOptions struct {
	Hosts     []string
	Endpoints []probe.Endpoint
	Synthesis []string
	// PlayTemplate builds a play URL from a play_addr uri.
	PlayTemplate string
	// VideoPageTemplate builds the post page for an id found on a search page.
	VideoPageTemplate string
}

// DouyinExtractor extracts media from douyin.com and iesdouyin.com posts.
type DouyinExtractor struct {
	*BaseExtractor
	opts       DouyinOptions
	prober     *probe.Prober
	structured *scrape.StructuredExtractor
	patterns   *scrape.PatternExtractor
	runner     *StrategyRunner
}

// NewDouyinExtractor creates a new Douyin extractor.
func NewDouyinExtractor(deps Deps, opts DouyinOptions) *DouyinExtractor {
	base := NewBaseExtractor(deps, "douyin-extractor")
	if len(opts.Hosts) == 0 {
		opts.Hosts = base.cfg.Platforms.Douyin
	}
	if len(opts.Endpoints) == 0 {
		opts.Endpoints = DefaultDouyinEndpoints
	}
	if len(opts.Synthesis) == 0 {
		opts.Synthesis = DefaultDouyinSynthesis
	}
	if opts.PlayTemplate == "" {
		opts.PlayTemplate = "https://www.iesdouyin.com/aweme/v1/play/?video_id={id}&ratio=1080p&line=0&is_play_url=1&source=Web"
	}
	if opts.VideoPageTemplate == "" {
		opts.VideoPageTemplate = "https://www.douyin.com/video/{id}"
	}

	e := &DouyinExtractor{
		BaseExtractor: base,
		opts:          opts,
		structured: &scrape.StructuredExtractor{
			ScriptIDs:   []string{"RENDER_DATA"},
			Assignments: []string{"RENDER_DATA"},
			Markers:     []string{"douyin", "aweme"},
		},
		patterns: scrape.NewPatternExtractor("douyin", "aweme"),
		runner:   NewStrategyRunner(types.PlatformDouyin, base.log),
	}
	e.prober = probe.New(base.client, base.identity, opts.Endpoints, probe.Options{
		Timeout: base.cfg.APITimeout,
		Limiter: base.limiter,
		Accept:  acceptAwemePayload,
	}, base.log)
	return e
}

// Name returns the extractor name.
func (e *DouyinExtractor) Name() string {
	return "douyin"
}

// CanExtract returns true for Douyin hosts.
func (e *DouyinExtractor) CanExtract(rawURL string) bool {
	return urlutil.HostMatches(urlutil.Hostname(rawURL), e.opts.Hosts)
}

// Extract resolves a Douyin post to its play URL.
func (e *DouyinExtractor) Extract(ctx context.Context, src types.SourceReference, opts interfaces.ExtractOptions) (*types.ExtractResult, error) {
	ec := types.NewExtractionContext(src)
	ec.Headers = e.pageHeaders()
	e.log.Debug("extracting Douyin post", "url", src.URL)

	resolved := NormalizeModalURL(e.ResolveRedirect(ctx, src.URL, ec.Headers))
	ec.ResolvedURL = resolved

	page := e.page(ctx, ec, resolved)
	if IsSearchPage(resolved) {
		if id := searchResultID(page); id != "" {
			videoURL := strings.ReplaceAll(e.opts.VideoPageTemplate, "{id}", id)
			e.log.Debug("following search result", "id", id, "url", videoURL)
			ec.ResolvedURL = videoURL
			page = e.page(ctx, ec, videoURL)
		} else {
			e.log.Warn("search page has no video link; pass an individual post URL", "url", resolved)
		}
	}
	ec.Metadata.Set(types.MetaTitle, scrape.Title(page))

	winner, err := e.runner.Run(ctx, ec,
		Strategy{Name: "structured", Run: func(ctx context.Context, ec *types.ExtractionContext) ([]string, error) {
			return e.structuredStage(page, ec)
		}},
		Strategy{Name: "play-uri", Run: func(ctx context.Context, ec *types.ExtractionContext) ([]string, error) {
			return e.playURIStage(page, ec)
		}},
		Strategy{Name: "pattern", Run: func(ctx context.Context, ec *types.ExtractionContext) ([]string, error) {
			_, direct := e.patterns.Extract(page)
			return direct, nil
		}},
		Strategy{Name: "api", Run: func(ctx context.Context, ec *types.ExtractionContext) ([]string, error) {
			return e.apiStage(ctx, page, ec)
		}},
		Strategy{Name: "alternate-headers", Run: e.alternateHeadersStage},
		Strategy{Name: "synthesis", Run: func(ctx context.Context, ec *types.ExtractionContext) ([]string, error) {
			return e.synthesisStage(page, ec), nil
		}},
	)
	if err != nil {
		return nil, err
	}

	ec.Metadata.SetDefault(types.MetaID, lo.FirstOrEmpty(scrape.IDsFromURL(ec.ResolvedURL)))
	return &types.ExtractResult{
		MediaURL: strings.ReplaceAll(winner, "playwm", "play"),
		Referer:  douyinReferer,
		Metadata: ec.Metadata,
	}, nil
}

func (e *DouyinExtractor) pageHeaders() http.Header {
	h := e.identity.Headers(true)
	h.Set("Referer", douyinReferer)
	h.Set("Cookie", e.identity.Tokens().Cookie())
	return h
}

// page fetches pageURL, falling back to the renderers. It returns "" when
// every attempt fails so that id-based stages still run.
func (e *DouyinExtractor) page(ctx context.Context, ec *types.ExtractionContext, pageURL string) string {
	page, _, err := e.FetchPage(ctx, pageURL, fetchOptions{Headers: ec.Headers})
	if err == nil && page != "" {
		return page
	}
	e.log.Debug("page fetch failed", "url", pageURL, "error", err)
	if rendered, ok := e.Render(ctx, pageURL, nil); ok {
		return rendered
	}
	return ""
}

func (e *DouyinExtractor) structuredStage(page string, ec *types.ExtractionContext) ([]string, error) {
	if page == "" {
		return nil, nil
	}
	urls, meta, err := e.structured.Extract(page)
	ec.Metadata.Merge(meta)
	return urls, err
}

func (e *DouyinExtractor) playURIStage(page string, ec *types.ExtractionContext) ([]string, error) {
	vid := scrape.PlayURI(page)
	if vid == "" {
		return nil, nil
	}
	ec.Metadata.Set(types.MetaVideoID, vid)
	return []string{e.playURL(vid)}, nil
}

func (e *DouyinExtractor) playURL(vid string) string {
	return strings.ReplaceAll(e.opts.PlayTemplate, "{id}", url.QueryEscape(vid))
}

// probeIDs lists identifiers worth probing: URL ids first, then page ids.
func (e *DouyinExtractor) probeIDs(page string, ec *types.ExtractionContext) []string {
	ids := scrape.IDsFromURL(ec.ResolvedURL)
	if vid := ec.Metadata[types.MetaVideoID]; vid != "" {
		ids = append(ids, vid)
	}
	ids = append(ids, scrape.ExtractIDs(page)...)
	ids = lo.Filter(lo.Uniq(ids), func(id string, _ int) bool { return len(id) >= scrape.MinIDLength })
	if len(ids) > maxProbeIDs {
		ids = ids[:maxProbeIDs]
	}
	return ids
}

func (e *DouyinExtractor) apiStage(ctx context.Context, page string, ec *types.ExtractionContext) ([]string, error) {
	ids := e.probeIDs(page, ec)
	if len(ids) == 0 {
		return nil, types.NewStageError("api", fmt.Errorf("no identifier: %w", types.ErrNoCandidatesFound))
	}

	for _, id := range ids {
		payload, ok := e.prober.Probe(ctx, id).Get()
		if !ok {
			continue
		}
		if payload.DirectURL != "" {
			ec.Metadata.SetDefault(types.MetaID, id)
			return []string{payload.DirectURL}, nil
		}
		urls, meta := AwemeURLs(payload.Root, e.playURL)
		meta.SetDefault(types.MetaID, id)
		ec.Metadata.Merge(meta)
		if len(urls) > 0 {
			return urls, nil
		}
	}
	return nil, types.NewStageError("api", types.ErrNoCandidatesFound)
}

// alternateHeadersStage refetches the page with a desktop identity.
func (e *DouyinExtractor) alternateHeadersStage(ctx context.Context, ec *types.ExtractionContext) ([]string, error) {
	h := e.identity.Headers(false)
	h.Set("Referer", douyinReferer)
	h.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")

	page, _, err := e.FetchPage(ctx, ec.ResolvedURL, fetchOptions{Headers: h})
	if err != nil {
		return nil, err
	}
	if urls, err := e.structuredStage(page, ec); len(urls) > 0 {
		return urls, err
	}
	if urls, _ := e.playURIStage(page, ec); len(urls) > 0 {
		return urls, nil
	}
	_, direct := e.patterns.Extract(page)
	return direct, nil
}

func (e *DouyinExtractor) synthesisStage(page string, ec *types.ExtractionContext) []string {
	ids := scrape.IDsFromURL(ec.ResolvedURL)
	if vid := ec.Metadata[types.MetaVideoID]; vid != "" {
		ids = append(ids, vid)
	}
	ids = lo.Uniq(ids)
	if len(ids) > 3 {
		ids = ids[:3]
	}

	var urls []string
	for _, id := range ids {
		for _, tpl := range e.opts.Synthesis {
			urls = append(urls, strings.ReplaceAll(tpl, "{id}", url.QueryEscape(id)))
		}
	}
	return urls
}

// acceptAwemePayload rejects API answers that carry no item.
func acceptAwemePayload(p probe.Payload) bool {
	return p.Get("item_list.#").Int() > 0 || p.Get("aweme_detail").IsObject() || p.Get("aweme_list.#").Int() > 0
}

// AwemeURLs reads play URLs and metadata from an item API payload. When the
// item only names its video, playURL builds the URL from that id.
func AwemeURLs(root *jsonwalk.Node, playURL func(string) string) ([]string, types.Metadata) {
	meta := types.Metadata{}
	item := root.Path("item_list", "0")
	if item == nil {
		item = root.Get("aweme_detail")
	}
	if item == nil {
		item = root.Path("aweme_list", "0")
	}
	if item == nil {
		c := &jsonwalk.URLCollector{Markers: []string{"douyin", "aweme", "/play"}}
		jsonwalk.Walk(root, c)
		return c.URLs, meta
	}

	author := item.Get("author")
	meta.Set(types.MetaAuthor, lo.CoalesceOrEmpty(author.Get("nickname").Text(), author.Get("short_id").Text()))
	meta.Set(types.MetaDesc, item.Get("desc").Text())
	meta.Set(types.MetaID, item.Get("aweme_id").Text())

	video := item.Get("video")
	urls := video.Path("play_addr", "url_list").Strings()
	if rates := video.Get("bit_rate"); rates != nil {
		for _, br := range rates.Items {
			urls = append(urls, br.Path("play_addr", "url_list").Strings()...)
		}
	}
	if len(urls) == 0 {
		uri := lo.CoalesceOrEmpty(video.Path("play_addr", "uri").Text(), video.Get("vid").Text())
		if uri != "" {
			meta.Set(types.MetaVideoID, uri)
			urls = append(urls, playURL(uri))
		}
	}
	return urls, meta
}

// NormalizeModalURL rewrites collection and search pages that open a post in
// a modal to the canonical /jingxuan?modal_id=ID form.
func NormalizeModalURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || !strings.Contains(strings.ToLower(u.Host), "douyin.com") {
		return rawURL
	}
	if !strings.Contains(u.Path, "/jingxuan/") && !strings.Contains(u.Path, "/search") && !strings.HasPrefix(u.Path, "/jingxuan") {
		return rawURL
	}

	modalID := u.Query().Get("modal_id")
	if modalID == "" {
		if m := modalIDRe.FindStringSubmatch(rawURL); m != nil {
			modalID = m[1]
		}
	}
	if modalID == "" {
		return rawURL
	}

	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return (&url.URL{Scheme: scheme, Host: u.Host, Path: "/jingxuan", RawQuery: "modal_id=" + modalID}).String()
}

// IsSearchPage reports whether rawURL is a search results page.
func IsSearchPage(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.Contains(u.Path, "/search") || strings.Contains(rawURL, "type=general")
}

func searchResultID(page string) string {
	if m := searchHrefRe.FindStringSubmatch(page); m != nil {
		return m[1]
	}
	if m := searchVideoRe.FindStringSubmatch(page); m != nil {
		return m[1]
	}
	return ""
}

var _ interfaces.Extractor = (*DouyinExtractor)(nil)
