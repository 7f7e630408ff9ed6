// Package rank scores candidate media URLs and picks the best one.
package rank

import (
	"html"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/samber/mo"

	"clipfetch/pkg/types"
	"clipfetch/pkg/urlutil"
)

var (
	resolutionRe   = regexp.MustCompile(`(\d{3,4})p`)
	digitsRe       = regexp.MustCompile(`(\d{3,4})`)
	fpsRe          = regexp.MustCompile(`fps[=:_-]?(\d{2,3})`)
	bitrateValueRe = regexp.MustCompile(`(\d{3,})`)
	bitrateRe      = regexp.MustCompile(`(?:bitrate|br|bw|bandwidth)[=:_-]?(\d{3,})`)
	kbpsRe         = regexp.MustCompile(`(\d{3,5})kbps`)
)

var tiktokCDNTokens = []string{"v16", "v19", "v24", "tiktokcdn", "tiktokcdn-us"}

// Clean normalizes an extracted URL. It returns "" for anything that is not
// an http(s) URL after unescaping.
func Clean(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return ""
	}
	u = html.UnescapeString(u)
	u = strings.NewReplacer(`\u002F`, "/", `\u002f`, "/", `\/`, "/", `\u0026`, "&").Replace(u)
	u = urlutil.EnsureHTTPS(u)
	if !strings.HasPrefix(u, "http") {
		return ""
	}
	return u
}

// Quality infers resolution, fps and bitrate from the URL text.
func Quality(u string) types.QualityMetrics {
	lower := strings.ToLower(u)
	var q types.QualityMetrics

	for _, m := range resolutionRe.FindAllStringSubmatch(lower, -1) {
		q.Height = max(q.Height, atoi(m[1]))
	}
	if strings.Contains(lower, "uhd") || strings.Contains(lower, "4k") {
		q.Height = max(q.Height, 2160)
	}

	var query url.Values
	if parsed, err := url.Parse(u); err == nil {
		query = parsed.Query()
	}

	for _, ratio := range query["ratio"] {
		ratio = strings.ToLower(ratio)
		if m := digitsRe.FindStringSubmatch(ratio); m != nil {
			q.Height = max(q.Height, atoi(m[1]))
		}
		if strings.Contains(ratio, "uhd") || strings.Contains(ratio, "4k") {
			q.Height = max(q.Height, 2160)
		}
	}

	for _, v := range query["fps"] {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			q.FPS = max(q.FPS, n)
		}
	}
	for _, m := range fpsRe.FindAllStringSubmatch(lower, -1) {
		q.FPS = max(q.FPS, atoi(m[1]))
	}

	for _, key := range []string{"bitrate", "br", "bw", "bandwidth"} {
		for _, v := range query[key] {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				q.BitrateBps = max(q.BitrateBps, n)
			} else if m := bitrateValueRe.FindStringSubmatch(v); m != nil {
				q.BitrateBps = max(q.BitrateBps, atoi(m[1]))
			}
		}
	}
	for _, m := range bitrateRe.FindAllStringSubmatch(lower, -1) {
		q.BitrateBps = max(q.BitrateBps, atoi(m[1]))
	}
	for _, m := range kbpsRe.FindAllStringSubmatch(lower, -1) {
		q.BitrateBps = max(q.BitrateBps, atoi(m[1])*1000)
	}

	return q
}

// Heuristic returns the platform-specific tie-break score of u.
func Heuristic(u string, platform types.Platform) int {
	score := 0
	if IsWatermarked(u) {
		score -= 20
	}

	switch platform {
	case types.PlatformTikTok:
		if lo.SomeBy(tiktokCDNTokens, func(tok string) bool { return strings.Contains(u, tok) }) {
			score += 5
		}
		if strings.Contains(u, "/video/") || strings.Contains(u, "/play/") {
			score += 3
		}
	case types.PlatformDouyin:
		if strings.Contains(u, "douyin") && (strings.Contains(u, "play") || strings.Contains(u, "video")) {
			score += 5
		}
		if strings.Contains(u, "/aweme/v1/play") || strings.Contains(u, "video_id=") {
			score += 6
		}
		if strings.Contains(u, "play/") {
			score += 3
		}
		if strings.Contains(u, ".mp4") {
			score += 4
		}
	}

	if strings.HasSuffix(u, ".html") || strings.HasSuffix(u, ".htm") || strings.HasSuffix(u, "/") {
		score -= 3
	}
	if strings.HasSuffix(u, ".mp4") {
		score += 2
	}
	return score
}

// IsWatermarked reports whether u carries a watermark indicator.
func IsWatermarked(u string) bool {
	return strings.Contains(u, "playwm") || strings.Contains(u, "watermark=1") || strings.Contains(u, "wm=1")
}

// Candidates cleans, dedups and scores urls, best first. Ties keep input order.
func Candidates(urls []string, platform types.Platform) []types.CandidateURL {
	cleaned := lo.Uniq(lo.FilterMap(urls, func(u string, _ int) (string, bool) {
		c := Clean(u)
		return c, c != ""
	}))

	out := make([]types.CandidateURL, 0, len(cleaned))
	for _, u := range cleaned {
		out = append(out, types.CandidateURL{
			URL:     u,
			Quality: Quality(u),
			Score:   Heuristic(u, platform),
		})
	}

	slices.SortStableFunc(out, func(a, b types.CandidateURL) int {
		switch {
		case b.Less(a):
			return -1
		case a.Less(b):
			return 1
		}
		return 0
	})
	return out
}

// Rank returns the best URL, or None when nothing survives cleaning.
func Rank(urls []string, platform types.Platform) mo.Option[string] {
	ranked := Candidates(urls, platform)
	if len(ranked) == 0 {
		return mo.None[string]()
	}
	return mo.Some(ranked[0].URL)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
