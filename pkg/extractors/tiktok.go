package extractors

import (
	"context"
	"errors"
	"net/http"

	"github.com/samber/lo"

	"clipfetch/pkg/interfaces"
	"clipfetch/pkg/jsonwalk"
	"clipfetch/pkg/scrape"
	"clipfetch/pkg/types"
	"clipfetch/pkg/urlutil"
)

const tiktokReferer = "https://www.tiktok.com/"

// TikTokExtractor extracts media from tiktok.com posts.
type TikTokExtractor struct {
	*BaseExtractor
	hosts      []string
	structured *scrape.StructuredExtractor
	runner     *StrategyRunner
}

// NewTikTokExtractor creates a new TikTok extractor. An empty hosts list
// uses the configured TikTok hosts.
func NewTikTokExtractor(deps Deps, hosts []string) *TikTokExtractor {
	base := NewBaseExtractor(deps, "tiktok-extractor")
	if len(hosts) == 0 {
		hosts = base.cfg.Platforms.TikTok
	}
	return &TikTokExtractor{
		BaseExtractor: base,
		hosts:         hosts,
		structured: &scrape.StructuredExtractor{
			ScriptIDs: []string{"SIGI_STATE", "__UNIVERSAL_DATA_FOR_REHYDRATION__"},
			Markers:   []string{"tiktok", "byte", "/video/"},
			Shape:     TikTokItemURLs,
		},
		runner: NewStrategyRunner(types.PlatformTikTok, base.log),
	}
}

// Name returns the extractor name.
func (e *TikTokExtractor) Name() string {
	return "tiktok"
}

// CanExtract returns true for TikTok hosts.
func (e *TikTokExtractor) CanExtract(rawURL string) bool {
	return urlutil.HostMatches(urlutil.Hostname(rawURL), e.hosts)
}

// Extract resolves a TikTok post to a media URL.
func (e *TikTokExtractor) Extract(ctx context.Context, src types.SourceReference, opts interfaces.ExtractOptions) (*types.ExtractResult, error) {
	ec := types.NewExtractionContext(src)
	ec.Headers = e.identity.Headers(false)
	ec.Headers.Set("Referer", tiktokReferer)
	for k, v := range opts.Headers {
		ec.Headers[k] = v
	}
	e.log.Debug("extracting TikTok post", "url", src.URL)

	ec.ResolvedURL = e.ResolveRedirect(ctx, src.URL, ec.Headers)

	page, _, err := e.FetchPage(ctx, ec.ResolvedURL, fetchOptions{Headers: ec.Headers})
	if err != nil {
		rendered, ok := e.Render(ctx, ec.ResolvedURL, nil)
		if !ok {
			return nil, err
		}
		page = rendered
	}
	ec.Metadata.Set(types.MetaTitle, scrape.Title(page))

	winner, err := e.runner.Run(ctx, ec,
		Strategy{Name: "structured", Run: func(ctx context.Context, ec *types.ExtractionContext) ([]string, error) {
			urls, meta, err := e.structured.Extract(page)
			ec.Metadata.Merge(meta)
			return scrape.FilterVideoish(urls), err
		}},
		Strategy{Name: "video-src", Run: func(ctx context.Context, ec *types.ExtractionContext) ([]string, error) {
			return scrape.FilterVideoish(scrape.VideoSources(page)), nil
		}},
		Strategy{Name: "page-urls", Run: func(ctx context.Context, ec *types.ExtractionContext) ([]string, error) {
			return scrape.FilterVideoish(scrape.AllURLs(page)), nil
		}},
	)
	if err != nil {
		return nil, err
	}

	ec.Metadata.SetDefault(types.MetaID, lo.FirstOrEmpty(scrape.IDsFromURL(ec.ResolvedURL)))
	return &types.ExtractResult{
		MediaURL: winner,
		Referer:  tiktokReferer,
		Headers:  http.Header{"Referer": {tiktokReferer}},
		Metadata: ec.Metadata,
	}, nil
}

var errNoItem = errors.New("no item in state")

// TikTokItemURLs reads the post item from SIGI_STATE (ItemModule) or the
// rehydration state (itemStruct) and returns its play URLs.
func TikTokItemURLs(root *jsonwalk.Node) ([]string, types.Metadata) {
	item, err := tiktokItem(root)
	if err != nil {
		return nil, nil
	}

	meta := types.Metadata{}
	author := item.Get("author")
	if author != nil && author.Kind == jsonwalk.Object {
		meta.Set(types.MetaAuthor, lo.CoalesceOrEmpty(author.Get("uniqueId").Text(), author.Get("nickname").Text()))
	} else {
		meta.Set(types.MetaAuthor, lo.CoalesceOrEmpty(author.Text(), item.Get("nickname").Text()))
	}
	meta.Set(types.MetaDesc, lo.CoalesceOrEmpty(item.Get("desc").Text(), item.Get("title").Text()))
	meta.Set(types.MetaID, lo.CoalesceOrEmpty(item.Get("id").Text(), item.Get("aweme_id").Text()))

	video := item.Get("video")
	var urls []string
	if rates := video.Get("bitrateInfo"); rates != nil {
		for _, bi := range rates.Items {
			play := bi.Get("PlayAddr")
			if play == nil {
				play = bi.Get("playAddr")
			}
			urls = append(urls, addrURLs(play)...)
		}
	}
	for _, key := range []string{"playAddr", "downloadAddr"} {
		urls = append(urls, addrURLs(video.Get(key))...)
	}
	return scrape.FilterVideoish(urls), meta
}

func tiktokItem(root *jsonwalk.Node) (*jsonwalk.Node, error) {
	if mod := root.Get("ItemModule"); mod != nil && len(mod.Fields) > 0 {
		return mod.Fields[0].Value, nil
	}
	for _, n := range jsonwalk.FindAll(root, "itemStruct") {
		if n.Kind == jsonwalk.Object {
			return n, nil
		}
	}
	return nil, errNoItem
}

// addrURLs accepts an address given as a string or as an object carrying
// UrlList, urlList or Url.
func addrURLs(addr *jsonwalk.Node) []string {
	if addr == nil {
		return nil
	}
	if addr.Kind == jsonwalk.String {
		return []string{addr.Str}
	}
	for _, key := range []string{"UrlList", "urlList", "Url"} {
		v := addr.Get(key)
		if v == nil {
			continue
		}
		if v.Kind == jsonwalk.String {
			return []string{v.Str}
		}
		if urls := v.Strings(); len(urls) > 0 {
			return urls
		}
	}
	return nil
}

var _ interfaces.Extractor = (*TikTokExtractor)(nil)
