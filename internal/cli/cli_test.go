package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"clipfetch/pkg/logging"
	"clipfetch/pkg/router"
	"clipfetch/pkg/types"
)

func TestCollectURLs(t *testing.T) {
	fs := afero.NewMemMapFs()
	list := "# clips\nhttps://www.douyin.com/video/1\n\n  https://x.com/u/status/2  \nhttps://www.douyin.com/video/1\n"
	if err := afero.WriteFile(fs, "/urls.txt", []byte(list), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		args    []string
		file    string
		want    []string
		wantErr bool
	}{
		{
			name: "args only",
			args: []string{"https://a", " https://b ", "https://a"},
			want: []string{"https://a", "https://b"},
		},
		{
			name: "file and args",
			args: []string{"https://x.com/u/status/2", "https://threads.net/@u/post/C"},
			file: "/urls.txt",
			want: []string{"https://x.com/u/status/2", "https://threads.net/@u/post/C", "https://www.douyin.com/video/1"},
		},
		{name: "missing file", file: "/nope.txt", wantErr: true},
		{name: "nothing given", args: []string{"  "}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := collectURLs(fs, tt.args, tt.file)
			if (err != nil) != tt.wantErr {
				t.Fatalf("collectURLs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("collectURLs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{3 * 1024 * 1024, "3.0 MB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReport(t *testing.T) {
	results := []router.JobResult{
		{SourceURL: "https://www.douyin.com/video/1", Result: &types.DownloadResult{LocalPath: "out/a.mp4", ByteSize: 2048, ContentType: "video/mp4"}},
		{SourceURL: "https://example.com/x", Err: types.ErrUnsupportedPlatform},
	}

	var text bytes.Buffer
	err := report(&text, results, false)
	if err == nil || !strings.Contains(err.Error(), "1 of 2") {
		t.Errorf("report() error = %v", err)
	}
	if !strings.Contains(text.String(), "out/a.mp4 (2.0 KB, video/mp4)") {
		t.Errorf("missing success line in %q", text.String())
	}
	if !strings.Contains(text.String(), "✗ https://example.com/x") {
		t.Errorf("missing failure line in %q", text.String())
	}

	var js bytes.Buffer
	_ = report(&js, results, true)
	lines := strings.Split(strings.TrimSpace(js.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d JSON lines, want 2", len(lines))
	}
	var first struct {
		URL    string               `json:"url"`
		Result types.DownloadResult `json:"result"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.Result.LocalPath != "out/a.mp4" || first.Result.ByteSize != 2048 {
		t.Errorf("first JSON result = %+v", first)
	}
	if !strings.Contains(lines[1], `"error"`) {
		t.Errorf("second JSON line has no error: %s", lines[1])
	}

	if err := report(&bytes.Buffer{}, results[:1], false); err != nil {
		t.Errorf("report() with no failures error = %v", err)
	}
}

func TestPrintResolution(t *testing.T) {
	res := &router.Resolution{
		Source: types.SourceReference{URL: "https://www.tiktok.com/@a/video/7", Platform: types.PlatformTikTok},
		Result: &types.ExtractResult{
			MediaURL: "https://v16.tiktokcdn.com/v.mp4",
			Referer:  "https://www.tiktok.com/",
			Metadata: types.Metadata{types.MetaID: "7", types.MetaAuthor: "a"},
		},
	}

	var buf bytes.Buffer
	if err := printResolution(&buf, res, false); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "media_url: https://v16.tiktokcdn.com/v.mp4") {
		t.Errorf("output = %q", out)
	}
	if strings.Index(out, "author:") > strings.Index(out, "id:") {
		t.Errorf("metadata not sorted: %q", out)
	}
}

func TestProgressLogger(t *testing.T) {
	var buf bytes.Buffer
	progress := progressLogger(newTestLogger(&buf))
	for _, done := range []int64{0, 5, 10, 12, 55, 100} {
		progress(done, 100)
	}
	progress(50, 0)

	if got := strings.Count(buf.String(), "downloading"); got != 4 {
		t.Errorf("logged %d progress lines, want 4:\n%s", got, buf.String())
	}
}

func TestResolveRejectsUnsupported(t *testing.T) {
	rootCmd.SetArgs([]string{"resolve", "https://example.com/video/1"})
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	err := rootCmd.Execute()
	if !errors.Is(err, types.ErrUnsupportedPlatform) {
		t.Errorf("resolve error = %v, want ErrUnsupportedPlatform", err)
	}
}

func newTestLogger(w *bytes.Buffer) *logging.Logger {
	return logging.New("info", false, w)
}
