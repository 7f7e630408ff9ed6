package scrape

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"
)

var idPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)"play_addr".*?"uri":"([^"]+)"`),
	regexp.MustCompile(`"vid":"([^"]+)"`),
	regexp.MustCompile(`"aweme_id":"([^"]+)"`),
	regexp.MustCompile(`video_id["']?\s*[:=]\s*["']?([a-zA-Z0-9_-]{8,})`),
	regexp.MustCompile(`aweme_id["']?\s*[:=]\s*["']?([a-zA-Z0-9_-]{8,})`),
	regexp.MustCompile(`(?:itemId|item_id)\D(\d{8,22})`),
	regexp.MustCompile(`/video/(\d{10,})`),
}

var urlIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/video/(\d+)`),
	regexp.MustCompile(`[?&](?:aweme_id|video_id|item_id|item_ids|modal_id)=(\d+)`),
	regexp.MustCompile(`/share/video/(\d+)`),
	regexp.MustCompile(`/(\d{19,})`),
}

var (
	anyURLRe  = regexp.MustCompile(`https?://[^"'<>\s]+`)
	mp4URLRe  = regexp.MustCompile(`https://[^"'<>\s]*\.mp4[^"'<>\s]*`)
	playURIRe = regexp.MustCompile(`"play_addr"\s*:\s*\{[^}]*"uri"\s*:\s*"([a-zA-Z0-9_\-]{8,})"`)
	vidRe     = regexp.MustCompile(`"vid"\s*:\s*"([a-zA-Z0-9_\-]{8,})"`)
)

// MinIDLength drops short tokens that are never post or video ids.
const MinIDLength = 8

// PatternExtractor regex-scans text for identifiers and direct media URLs.
// It never fails; an empty result is valid.
type PatternExtractor struct {
	// Markers are platform tokens (site domain or path fragment) that a
	// direct URL must contain to be collected by the marker patterns.
	Markers []string

	markerRes []*regexp.Regexp
}

// NewPatternExtractor compiles the marker-specific URL patterns.
func NewPatternExtractor(markers ...string) *PatternExtractor {
	p := &PatternExtractor{Markers: markers}
	for _, m := range markers {
		p.markerRes = append(p.markerRes,
			regexp.MustCompile(`https://[^"'<>\s]*`+regexp.QuoteMeta(m)+`[^"'<>\s]*play[^"'<>\s]*`))
	}
	return p
}

// Extract returns identifiers and direct URLs in first-seen order.
func (p *PatternExtractor) Extract(page string) (ids []string, directURLs []string) {
	return ExtractIDs(page), p.DirectURLs(page)
}

// ExtractIDs runs the identifier patterns over text.
func ExtractIDs(text string) []string {
	var ids []string
	for _, re := range idPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			ids = append(ids, m[1])
		}
	}
	return lo.Uniq(lo.Filter(ids, func(id string, _ int) bool { return len(id) >= MinIDLength }))
}

// PlayURI returns the play_addr uri or vid embedded in the page, or "".
func PlayURI(text string) string {
	if m := playURIRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := vidRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// DirectURLs collects URLs shaped like media links.
func (p *PatternExtractor) DirectURLs(page string) []string {
	var urls []string
	for _, re := range p.markerRes {
		urls = append(urls, re.FindAllString(page, -1)...)
	}
	urls = append(urls, mp4URLRe.FindAllString(page, -1)...)

	for _, u := range anyURLRe.FindAllString(page, -1) {
		if p.hasMarker(u) && (strings.Contains(u, "play") || strings.Contains(u, "video") || strings.Contains(u, ".mp4")) {
			urls = append(urls, u)
		}
	}
	urls = append(urls, VideoSources(page)...)
	return lo.Uniq(urls)
}

func (p *PatternExtractor) hasMarker(u string) bool {
	lower := strings.ToLower(u)
	return lo.SomeBy(p.Markers, func(m string) bool { return strings.Contains(lower, strings.ToLower(m)) })
}

// IDsFromURL extracts numeric ids carried in a page URL.
func IDsFromURL(rawURL string) []string {
	var ids []string
	for _, re := range urlIDPatterns {
		for _, m := range re.FindAllStringSubmatch(rawURL, -1) {
			ids = append(ids, m[1])
		}
	}
	return lo.Uniq(ids)
}

// AllURLs returns every http(s) URL in text.
func AllURLs(text string) []string {
	return lo.Uniq(anyURLRe.FindAllString(text, -1))
}

// VideoSources returns src attributes of <video> and <video><source> tags.
func VideoSources(page string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil
	}
	var srcs []string
	doc.Find("video[src], video source[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && strings.TrimSpace(src) != "" {
			srcs = append(srcs, strings.TrimSpace(src))
		}
	})
	return srcs
}

var (
	staticSuffixes = []string{".js", ".css", ".jpg", ".jpeg", ".png", ".gif", ".svg", ".ico", ".webp", ".woff", ".woff2", ".ttf", ".map"}
	videoTokens    = []string{".m3u8", ".mp4", "/play/", "/playwm/", "/video/tos"}
	videoHosts     = []string{"tiktokcdn.com", "tiktokcdn-us.com", "tiktokcdn-eu.com", "bytecdn", "byteoversea", "bytegoofy", "v16-webapp", "v19-webapp"}
)

// FilterVideoish drops static assets and keeps URLs that look like video.
func FilterVideoish(urls []string) []string {
	out := lo.Filter(urls, func(u string, _ int) bool {
		lower := strings.ToLower(u)
		if len(u) <= 12 {
			return false
		}
		if lo.SomeBy(staticSuffixes, func(s string) bool { return strings.HasSuffix(lower, s) }) {
			return false
		}
		contains := func(tok string) bool { return strings.Contains(lower, tok) }
		return lo.SomeBy(videoTokens, contains) || lo.SomeBy(videoHosts, contains)
	})
	return lo.Uniq(out)
}
