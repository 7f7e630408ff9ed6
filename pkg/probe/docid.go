package probe

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"

	"clipfetch/pkg/interfaces"
	"clipfetch/pkg/logging"
	"clipfetch/pkg/urlutil"
)

// DefaultDocIDPatterns wrap the post-detail operation id in served scripts.
var DefaultDocIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)BarcelonaPostPage(?:Direct)?Query_threadsRelayOperation".*?e\.exports="(\d+)"`),
	regexp.MustCompile(`(?s)PostAppThreadQuery_threadsRelayOperation".*?e\.exports="(\d+)"`),
	regexp.MustCompile(`(?s)BarcelonaPostPageQuery.*?doc_id["']?\s*:\s*["'](\d+)["']`),
	regexp.MustCompile(`(?s)threadsRelayOperation.*?"(\d{15,})"`),
	regexp.MustCompile(`doc_id["']?\s*:\s*["'](\d{15,})["']`),
}

// DefaultFallbackDocIDs were observed in the wild and are tried last.
var DefaultFallbackDocIDs = []string{
	"24853561097640514",
	"9157002887897348",
	"8845759202181306",
	"9984228236336116",
	"27065904006207281",
	"26945569808375322",
	"8183567811717284",
	"6974099682683103",
}

// DocIDDiscoverer scans linked scripts for GraphQL operation ids.
type DocIDDiscoverer struct {
	client   interfaces.HTTPClient
	patterns []*regexp.Regexp
	fallback []string
	timeout  time.Duration
	headers  http.Header
	log      *logging.Logger
}

// NewDocIDDiscoverer creates a discoverer. Nil patterns or fallback use the
// defaults; timeout bounds each script fetch and defaults to 15s.
func NewDocIDDiscoverer(client interfaces.HTTPClient, patterns []*regexp.Regexp, fallback []string, headers http.Header, timeout time.Duration, log *logging.Logger) *DocIDDiscoverer {
	if patterns == nil {
		patterns = DefaultDocIDPatterns
	}
	if fallback == nil {
		fallback = DefaultFallbackDocIDs
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &DocIDDiscoverer{
		client:   client,
		patterns: patterns,
		fallback: fallback,
		timeout:  timeout,
		headers:  headers,
		log:      log.WithComponent("docid"),
	}
}

// ScriptURLs lists every <script src> in page, resolved against pageURL.
func ScriptURLs(page, pageURL string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil
	}
	var out []string
	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		if src, _ := s.Attr("src"); strings.TrimSpace(src) != "" {
			out = append(out, urlutil.ResolveURL(strings.TrimSpace(src), pageURL))
		}
	})
	return lo.Uniq(out)
}

// Discover fetches linked scripts in order and stops at the first one that
// yields ids.
func (d *DocIDDiscoverer) Discover(ctx context.Context, page, pageURL string) []string {
	for _, scriptURL := range ScriptURLs(page, pageURL) {
		body, ok := d.fetch(ctx, scriptURL)
		if !ok {
			continue
		}
		if ids := d.Match(body); len(ids) > 0 {
			d.log.Debug("discovered doc ids", "script", scriptURL, "count", len(ids))
			return ids
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil
}

// Match runs the patterns over a script body.
func (d *DocIDDiscoverer) Match(body string) []string {
	var ids []string
	for _, re := range d.patterns {
		for _, m := range re.FindAllStringSubmatch(body, -1) {
			ids = append(ids, m[1])
		}
	}
	return lo.Uniq(ids)
}

// Candidates appends the fallback ids that are not already discovered.
func (d *DocIDDiscoverer) Candidates(discovered []string) []string {
	return lo.Uniq(append(append([]string(nil), discovered...), d.fallback...))
}

func (d *DocIDDiscoverer) fetch(ctx context.Context, scriptURL string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scriptURL, nil)
	if err != nil {
		return "", false
	}
	for k, v := range d.headers {
		req.Header[k] = append([]string(nil), v...)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Debug("script fetch failed", "url", scriptURL, "error", err)
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil || len(body) == 0 {
		return "", false
	}
	return string(body), true
}
