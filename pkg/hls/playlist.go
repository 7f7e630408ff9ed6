// Package hls parses HLS playlists and assembles media playlists into a
// single transport-stream file.
package hls

import (
	"bufio"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"clipfetch/pkg/types"
	"clipfetch/pkg/urlutil"
)

var (
	bandwidthRe  = regexp.MustCompile(`BANDWIDTH=(\d+)`)
	resolutionRe = regexp.MustCompile(`RESOLUTION=(\d+)x(\d+)`)
)

// Playlist is either a master playlist (Variants set) or a media playlist
// (Segments set). URIs are absolute.
type Playlist struct {
	Variants []types.PlaylistVariant
	Segments []string
}

// IsMaster reports whether the playlist lists variant streams.
func (p *Playlist) IsMaster() bool {
	return len(p.Variants) > 0
}

// IsPlaylistURL reports whether a URL or content type looks like HLS.
func IsPlaylistURL(rawURL, contentType string) bool {
	if strings.Contains(strings.ToLower(rawURL), ".m3u8") {
		return true
	}
	return strings.Contains(strings.ToLower(contentType), "mpegurl")
}

// Parse reads a playlist body. Relative URIs are resolved against baseURL.
func Parse(body, baseURL string) *Playlist {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}

	p := &Playlist{}
	master := slices.ContainsFunc(lines, func(l string) bool { return strings.HasPrefix(l, "#EXT-X-STREAM-INF") })
	if !master {
		for _, line := range lines {
			if !strings.HasPrefix(line, "#") {
				p.Segments = append(p.Segments, urlutil.ResolveURL(line, baseURL))
			}
		}
		return p
	}

	for i := 0; i < len(lines); i++ {
		if !strings.HasPrefix(lines[i], "#EXT-X-STREAM-INF") {
			continue
		}
		info := lines[i]
		j := i + 1
		for j < len(lines) && strings.HasPrefix(lines[j], "#") {
			j++
		}
		if j >= len(lines) {
			break
		}

		v := types.PlaylistVariant{URI: urlutil.ResolveURL(lines[j], baseURL)}
		if m := bandwidthRe.FindStringSubmatch(info); m != nil {
			v.Bandwidth, _ = strconv.Atoi(m[1])
		}
		if m := resolutionRe.FindStringSubmatch(info); m != nil {
			v.Height, _ = strconv.Atoi(m[2])
		}
		p.Variants = append(p.Variants, v)
		i = j
	}
	return p
}

// Select picks one variant.
//
// With a target height, the best variant whose height is known and does not
// exceed the target wins (the smallest such one with PreferSmall); when none
// qualifies the lowest variant is used. Without a target, the highest
// bandwidth wins, or the lowest with PreferSmall.
func Select(variants []types.PlaylistVariant, sel types.Selection) (types.PlaylistVariant, bool) {
	if len(variants) == 0 {
		return types.PlaylistVariant{}, false
	}

	byHeight := func(a, b types.PlaylistVariant) int {
		if a.Height != b.Height {
			return a.Height - b.Height
		}
		return a.Bandwidth - b.Bandwidth
	}

	if sel.TargetHeight > 0 {
		eligible := make([]types.PlaylistVariant, 0, len(variants))
		for _, v := range variants {
			if v.Height > 0 && v.Height <= sel.TargetHeight {
				eligible = append(eligible, v)
			}
		}
		if len(eligible) == 0 {
			return slices.MinFunc(variants, byHeight), true
		}
		if sel.PreferSmall {
			return slices.MinFunc(eligible, byHeight), true
		}
		return slices.MaxFunc(eligible, byHeight), true
	}

	byBandwidth := func(a, b types.PlaylistVariant) int { return a.Bandwidth - b.Bandwidth }
	if sel.PreferSmall {
		return slices.MinFunc(variants, byBandwidth), true
	}
	return slices.MaxFunc(variants, byBandwidth), true
}
