package download

import (
	"strings"

	"clipfetch/pkg/types"
	"clipfetch/pkg/urlutil"
)

// QualityToRatio maps a target height to the ratio parameter play
// endpoints understand. Zero means best.
func QualityToRatio(targetHeight int) string {
	switch {
	case targetHeight <= 0, targetHeight >= 1080:
		return "1080p"
	case targetHeight >= 720:
		return "720p"
	case targetHeight >= 480:
		return "480p"
	}
	return "360p"
}

// RewritePlayURL sets ratio and line on play-endpoint URLs. Other URLs are
// returned unchanged.
func RewritePlayURL(u string, sel types.Selection) string {
	if !strings.Contains(u, "aweme/v1/play") && !strings.Contains(u, "ratio=") {
		return u
	}
	line := "0"
	if sel.PreferSmall {
		line = "1"
	}
	rewritten, err := urlutil.MergeQuery(u, map[string]string{
		"ratio": QualityToRatio(sel.TargetHeight),
		"line":  line,
	})
	if err != nil {
		return u
	}
	return rewritten
}

// ToggleWatermark returns the alternate watermark variant of a play URL, or
// u itself when there is none.
func ToggleWatermark(u string) string {
	if urlutil.QueryValue(u, "watermark") == "1" {
		if alt, err := urlutil.MergeQuery(u, map[string]string{"watermark": "0"}); err == nil {
			return alt
		}
	}
	if strings.Contains(u, "playwm") {
		return strings.ReplaceAll(u, "playwm", "play")
	}
	return strings.ReplaceAll(u, "play/", "playwm/")
}
