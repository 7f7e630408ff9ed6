package download

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"clipfetch/pkg/types"
)

const (
	maxNameRunes = 150
	// maxBaseBytes leaves room for "_YYYYMMDD_HHMMSS.ext" and the ".ts"
	// variant under the 255-byte name limit.
	maxBaseBytes = 200
)

var (
	reservedRe   = regexp.MustCompile(`[\\/:*?"<>|]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// SanitizeFilename replaces path-reserved characters, collapses whitespace
// and truncates to 150 characters.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = reservedRe.ReplaceAllString(name, "_")
	name = whitespaceRe.ReplaceAllString(name, " ")
	if utf8.RuneCountInString(name) > maxNameRunes {
		name = string([]rune(name)[:maxNameRunes])
	}
	return strings.TrimSpace(name)
}

// DecideFilename builds "<author>_<id|title|desc>_<YYYYMMDD_HHMMSS><ext>".
// With no usable metadata the base is "<platform>_video".
func DecideFilename(platform types.Platform, meta types.Metadata, ts time.Time, ext string) string {
	var parts []string
	if author := SanitizeFilename(meta[types.MetaAuthor]); author != "" {
		parts = append(parts, author)
	}
	switch {
	case meta[types.MetaID] != "":
		parts = append(parts, SanitizeFilename(meta[types.MetaID]))
	case meta[types.MetaTitle] != "":
		parts = append(parts, SanitizeFilename(meta[types.MetaTitle]))
	case meta[types.MetaDesc] != "":
		parts = append(parts, SanitizeFilename(meta[types.MetaDesc]))
	}

	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	base := strings.TrimRight(truncateBytes(strings.Join(kept, "_"), maxBaseBytes), " _")
	if base == "" {
		base = string(platform) + "_video"
	}
	if ext == "" {
		ext = ".mp4"
	}
	return base + "_" + ts.Format("20060102_150405") + ext
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// PlaylistPath maps an .mp4 destination to the .ts file an assembled
// playlist is written to.
func PlaylistPath(dest string) string {
	if strings.HasSuffix(strings.ToLower(dest), ".mp4") {
		return dest[:len(dest)-4] + ".ts"
	}
	return dest + ".ts"
}
