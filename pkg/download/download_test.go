package download

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/spf13/afero"

	"clipfetch/pkg/hls"
	"clipfetch/pkg/identity"
	"clipfetch/pkg/logging"
	"clipfetch/pkg/types"
)

type fakeResolver map[string]string

func (f fakeResolver) ResolveRedirect(_ context.Context, rawURL string, _ http.Header, _ time.Duration) string {
	if to, ok := f[rawURL]; ok {
		return to
	}
	return rawURL
}

func newTestEngine(t *testing.T, srv *httptest.Server, resolver RedirectResolver) (*Engine, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	log := logging.Discard()
	asm := hls.NewAssembler(srv.Client(), fs, nil, 1, log)
	e := New(srv.Client(), identity.New(identity.WithSeed(7)), asm, resolver, fs, Options{Retries: 2}, log)
	return e, fs
}

func serveVideo(w http.ResponseWriter, size int) {
	w.Header().Set("Content-Type", "video/mp4")
	w.Write(bytes.Repeat([]byte{0x42}, size))
}

func TestDownload_PlausibleStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Encoding") != "identity" || r.Header.Get("Referer") != "https://www.tiktok.com/" {
			t.Errorf("headers = %v", r.Header)
		}
		serveVideo(w, 300_000)
	}))
	defer srv.Close()

	e, fs := newTestEngine(t, srv, nil)
	var lastDone int64
	res, err := e.Download(context.Background(), Request{
		URL:      srv.URL + "/v.mp4",
		Platform: types.PlatformTikTok,
		Dest:     "/out/a.mp4",
		Progress: func(done, _ int64) { lastDone = done },
	})
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	if res.Path != "/out/a.mp4" || res.Bytes != 300_000 || res.ContentType != "video/mp4" {
		t.Errorf("Download() = %+v", res)
	}
	if lastDone != 300_000 {
		t.Errorf("progress done = %d", lastDone)
	}
	if fi, err := fs.Stat("/out/a.mp4"); err != nil || fi.Size() != 300_000 {
		t.Errorf("file stat = %v, %v", fi, err)
	}
}

func TestDownload_PlaylistByContentType(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Write([]byte("#EXTM3U\n#EXTINF:2,\nseg0.ts\n#EXTINF:2,\nseg1.ts\n"))
	})
	mux.HandleFunc("/v/seg0.ts", func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte{1}, 2048))
	})
	mux.HandleFunc("/v/seg1.ts", func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte{2}, 2048))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e, fs := newTestEngine(t, srv, nil)
	res, err := e.Download(context.Background(), Request{URL: srv.URL + "/v/stream", Platform: types.PlatformDouyin, Dest: "/out/b.mp4"})
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	if res.Path != "/out/b.ts" || res.Bytes != 4096 {
		t.Errorf("Download() = %+v", res)
	}
	if ok, _ := afero.Exists(fs, "/out/b.mp4"); ok {
		t.Error("flat partial file should be removed")
	}
}

func TestDownload_WatermarkToggle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "playwm") {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html>blocked</html>"))
			return
		}
		if r.URL.Query().Get("ratio") != "720p" || r.URL.Query().Get("line") != "1" {
			t.Errorf("query = %v", r.URL.Query())
		}
		serveVideo(w, 250_000)
	}))
	defer srv.Close()

	e, fs := newTestEngine(t, srv, fakeResolver{})
	res, err := e.Download(context.Background(), Request{
		URL:       srv.URL + "/aweme/v1/playwm/?video_id=v0abc",
		Platform:  types.PlatformDouyin,
		Dest:      "/out/c.mp4",
		Selection: types.Selection{TargetHeight: 720, PreferSmall: true},
	})
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	if !strings.Contains(res.MediaURL, "/aweme/v1/play/") {
		t.Errorf("MediaURL = %q", res.MediaURL)
	}
	if fi, _ := fs.Stat("/out/c.mp4"); fi == nil || fi.Size() != 250_000 {
		t.Error("toggled download not written")
	}
}

func TestDownload_RedirectRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/good.mp4" {
			serveVideo(w, 210_000)
			return
		}
		serveVideo(w, 5_000)
	}))
	defer srv.Close()

	e, _ := newTestEngine(t, srv, fakeResolver{srv.URL + "/small.mp4": srv.URL + "/good.mp4"})
	res, err := e.Download(context.Background(), Request{URL: srv.URL + "/small.mp4", Platform: types.PlatformThreads, Dest: "/out/d.mp4"})
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	if res.MediaURL != srv.URL+"/good.mp4" {
		t.Errorf("MediaURL = %q", res.MediaURL)
	}
}

func TestDownload_TransportRetryUsesRange(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("Range") != "bytes=0-" {
			t.Errorf("Range = %q on retry", r.Header.Get("Range"))
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(bytes.Repeat([]byte{0}, 200_000))
	}))
	defer srv.Close()

	e, _ := newTestEngine(t, srv, nil)
	if _, err := e.Download(context.Background(), Request{URL: srv.URL + "/x", Platform: types.PlatformTikTok, Dest: "/out/e.mp4"}); err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestDownload_Exhausted(t *testing.T) {
	tests := []struct {
		name string
		ct   string
		size int
	}{
		{"html page", "text/html", 500_000},
		{"tiny video", "video/mp4", 512},
		{"small video", "video/mp4", 150_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.ct)
				w.Write(bytes.Repeat([]byte{'a'}, tt.size))
			}))
			defer srv.Close()

			e, fs := newTestEngine(t, srv, fakeResolver{})
			_, err := e.Download(context.Background(), Request{URL: srv.URL + "/aweme/v1/play/?video_id=1", Platform: types.PlatformDouyin, Dest: "/out/f.mp4"})
			if !errors.Is(err, types.ErrDownloadFailed) {
				t.Errorf("Download() error = %v, want ErrDownloadFailed", err)
			}
			if ok, _ := afero.Exists(fs, "/out/f.mp4"); ok {
				t.Error("partial file left behind")
			}
		})
	}
}

func TestDecideFilename(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		meta types.Metadata
		want string
	}{
		{"author and id", types.Metadata{types.MetaAuthor: "Ann/B", types.MetaID: "123", types.MetaTitle: "t"}, "Ann_B_123_20240101_120000.mp4"},
		{"id only", types.Metadata{types.MetaID: "999999999"}, "999999999_20240101_120000.mp4"},
		{"title fallback", types.Metadata{types.MetaTitle: "a  b?c"}, "a b_c_20240101_120000.mp4"},
		{"desc fallback", types.Metadata{types.MetaDesc: "hello"}, "hello_20240101_120000.mp4"},
		{"nothing", types.Metadata{}, "douyin_video_20240101_120000.mp4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecideFilename(types.PlatformDouyin, tt.meta, ts, ".mp4"); got != tt.want {
				t.Errorf("DecideFilename() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecideFilename_LongMultibyteName(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	meta := types.Metadata{types.MetaAuthor: strings.Repeat("抖", 150), types.MetaID: "7300000000000000001"}

	name := DecideFilename(types.PlatformDouyin, meta, ts, ".mp4")
	if want := strings.Repeat("抖", 66) + "_20240101_120000.mp4"; name != want {
		t.Errorf("DecideFilename() = %q, want %q", name, want)
	}
	if !utf8.ValidString(name) {
		t.Errorf("DecideFilename() = %q, not valid UTF-8", name)
	}
	if len(name) > 255 || len(PlaylistPath(name)) > 255 {
		t.Errorf("name is %d bytes, want at most 255", len(name))
	}

	f, err := os.Create(filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatalf("os.Create() error: %v", err)
	}
	f.Close()
}

func TestSanitizeFilename(t *testing.T) {
	long := strings.Repeat("가", 200)
	tests := []struct {
		in, want string
	}{
		{` a\b:c*d?e"f<g>h|i `, "a_b_c_d_e_f_g_h_i"},
		{"line\none\t two", "line one two"},
		{long, strings.Repeat("가", 150)},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQualityToRatio(t *testing.T) {
	tests := []struct {
		height int
		want   string
	}{
		{0, "1080p"}, {2160, "1080p"}, {1080, "1080p"}, {900, "720p"}, {480, "480p"}, {360, "360p"}, {100, "360p"},
	}
	for _, tt := range tests {
		if got := QualityToRatio(tt.height); got != tt.want {
			t.Errorf("QualityToRatio(%d) = %q, want %q", tt.height, got, tt.want)
		}
	}
}

func TestRewritePlayURL(t *testing.T) {
	tests := []struct {
		in   string
		sel  types.Selection
		want string
	}{
		{"https://aweme.snssdk.com/aweme/v1/play/?video_id=v0&ratio=1080p&line=0", types.Selection{TargetHeight: 480, PreferSmall: true},
			"https://aweme.snssdk.com/aweme/v1/play/?line=1&ratio=480p&video_id=v0"},
		{"https://cdn.example.com/v.mp4?ratio=720p", types.Selection{},
			"https://cdn.example.com/v.mp4?line=0&ratio=1080p"},
		{"https://cdn.example.com/v.mp4?x=1", types.Selection{TargetHeight: 360}, "https://cdn.example.com/v.mp4?x=1"},
	}
	for _, tt := range tests {
		if got := RewritePlayURL(tt.in, tt.sel); got != tt.want {
			t.Errorf("RewritePlayURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestToggleWatermark(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://a/aweme/v1/playwm/?video_id=1", "https://a/aweme/v1/play/?video_id=1"},
		{"https://a/aweme/v1/play/?video_id=1", "https://a/aweme/v1/playwm/?video_id=1"},
		{"https://a/aweme/v1/play/?video_id=1&watermark=1", "https://a/aweme/v1/play/?video_id=1&watermark=0"},
		{"https://a/v.mp4", "https://a/v.mp4"},
	}
	for _, tt := range tests {
		if got := ToggleWatermark(tt.in); got != tt.want {
			t.Errorf("ToggleWatermark(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPlaylistPath(t *testing.T) {
	if got := PlaylistPath("/x/a.MP4"); got != "/x/a.ts" {
		t.Errorf("PlaylistPath() = %q", got)
	}
	if got := PlaylistPath("/x/a"); got != "/x/a.ts" {
		t.Errorf("PlaylistPath() = %q", got)
	}
}
