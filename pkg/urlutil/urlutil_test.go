package urlutil

import (
	"strings"
	"testing"
)

func TestResolveURL(t *testing.T) {
	tests := []struct {
		name    string
		urlStr  string
		baseURL string
		want    string
	}{
		{
			name:    "absolute URL unchanged",
			urlStr:  "https://example.com/video.ts",
			baseURL: "https://other.com/manifest.m3u8",
			want:    "https://example.com/video.ts",
		},
		{
			name:    "relative path",
			urlStr:  "segment001.ts",
			baseURL: "https://cdn.example.com/stream/manifest.m3u8",
			want:    "https://cdn.example.com/stream/segment001.ts",
		},
		{
			name:    "absolute path",
			urlStr:  "/video/segment001.ts",
			baseURL: "https://cdn.example.com/stream/manifest.m3u8",
			want:    "https://cdn.example.com/video/segment001.ts",
		},
		{
			name:    "parent directory reference",
			urlStr:  "../audio/segment001.ts",
			baseURL: "https://cdn.example.com/stream/video/manifest.m3u8",
			want:    "https://cdn.example.com/stream/audio/segment001.ts",
		},
		{
			name:    "multiple parent references",
			urlStr:  "../../other/segment.ts",
			baseURL: "https://cdn.example.com/a/b/c/manifest.m3u8",
			want:    "https://cdn.example.com/a/other/segment.ts",
		},
		{
			name:    "preserves special characters in base",
			urlStr:  "segment.ts",
			baseURL: "https://cdn.example.com/stream(1)/manifest.m3u8",
			want:    "https://cdn.example.com/stream(1)/segment.ts",
		},
		{
			name:    "preserves special characters in relative",
			urlStr:  "segment(1).ts",
			baseURL: "https://cdn.example.com/stream/manifest.m3u8",
			want:    "https://cdn.example.com/stream/segment(1).ts",
		},
		{
			name:    "scheme relative",
			urlStr:  "//cdn2.example.com/seg.ts",
			baseURL: "https://cdn.example.com/stream/manifest.m3u8",
			want:    "https://cdn2.example.com/seg.ts",
		},
		{
			name:    "dot slash relative",
			urlStr:  "./seg.ts",
			baseURL: "https://cdn.example.com/stream/manifest.m3u8",
			want:    "https://cdn.example.com/stream/seg.ts",
		},
		{
			name:    "base with query string",
			urlStr:  "segment.ts",
			baseURL: "https://cdn.example.com/stream/manifest.m3u8?token=abc",
			want:    "https://cdn.example.com/stream/segment.ts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveURL(tt.urlStr, tt.baseURL)
			if got != tt.want {
				t.Errorf("ResolveURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetSchemeHost(t *testing.T) {
	tests := []struct {
		name   string
		urlStr string
		want   string
	}{
		{
			name:   "https URL",
			urlStr: "https://cdn.example.com/stream/manifest.m3u8",
			want:   "https://cdn.example.com",
		},
		{
			name:   "http URL",
			urlStr: "http://cdn.example.com:8080/stream/manifest.m3u8",
			want:   "http://cdn.example.com:8080",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetSchemeHost(tt.urlStr)
			if got != tt.want {
				t.Errorf("GetSchemeHost() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEnsureHTTPS(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://a.com/x", "https://a.com/x"},
		{"//a.com/x", "https://a.com/x"},
		{"https://a.com/x", "https://a.com/x"},
		{"ftp://a.com/x", "ftp://a.com/x"},
	}
	for _, tt := range tests {
		if got := EnsureHTTPS(tt.in); got != tt.want {
			t.Errorf("EnsureHTTPS(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMergeQuery(t *testing.T) {
	got, err := MergeQuery("https://a.com/play/?video_id=v1&ratio=720p&line=1", map[string]string{
		"ratio": "1080p",
		"line":  "0",
	})
	if err != nil {
		t.Fatalf("MergeQuery() error: %v", err)
	}
	if QueryValue(got, "ratio") != "1080p" || QueryValue(got, "line") != "0" || QueryValue(got, "video_id") != "v1" {
		t.Errorf("MergeQuery() = %q", got)
	}
	if strings.Count(got, "?") != 1 {
		t.Errorf("MergeQuery() produced a malformed query: %q", got)
	}

	got, err = MergeQuery("https://a.com/play", map[string]string{"watermark": "0"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://a.com/play?watermark=0" {
		t.Errorf("MergeQuery() without query = %q", got)
	}

	got, _ = MergeQuery("https://a.com/p?wm=1&x=2", map[string]string{"wm": ""})
	if strings.Contains(got, "wm=") {
		t.Errorf("empty value should remove the key: %q", got)
	}
}

func TestHostMatches(t *testing.T) {
	suffixes := []string{"douyin.com", ".threads.net"}
	tests := []struct {
		host string
		want bool
	}{
		{"douyin.com", true},
		{"v.douyin.com", true},
		{"WWW.THREADS.NET", true},
		{"notdouyin.com", false},
		{"example.com", false},
	}
	for _, tt := range tests {
		if got := HostMatches(tt.host, suffixes); got != tt.want {
			t.Errorf("HostMatches(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
	if Hostname("https://V.Douyin.com:443/abc") != "v.douyin.com" {
		t.Error("Hostname should lowercase and strip the port")
	}
}
