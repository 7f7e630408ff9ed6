package scrape

import (
	"errors"
	"net/url"
	"slices"
	"testing"

	"clipfetch/pkg/jsonwalk"
	"clipfetch/pkg/types"
)

func TestStructuredExtractor_ScriptTag(t *testing.T) {
	page := `<html><head><title>Funny &amp; cats</title></head><body>
<script id="RENDER_DATA" type="application/json">{"app":{"video":{"play_addr":{"url_list":["https://www.douyin.com/aweme/v1/play/?video_id=v0abc"]},"cover":"https://p3.example.com/c.jpg"}}}</script>
</body></html>`

	e := &StructuredExtractor{ScriptIDs: []string{"RENDER_DATA"}, Markers: []string{"douyin", "aweme"}}
	urls, meta, err := e.Extract(page)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if !slices.Equal(urls, []string{"https://www.douyin.com/aweme/v1/play/?video_id=v0abc"}) {
		t.Errorf("urls = %v", urls)
	}
	if meta[types.MetaTitle] != "Funny & cats" {
		t.Errorf("title = %q", meta[types.MetaTitle])
	}
}

func TestStructuredExtractor_PercentEncodedScript(t *testing.T) {
	payload := url.PathEscape(`{"u":"https://v.douyin.com/play/x"}`)
	page := `<script id="RENDER_DATA" type="application/json">` + payload + `</script>`

	e := &StructuredExtractor{ScriptIDs: []string{"RENDER_DATA"}, Markers: []string{"douyin"}}
	urls, _, err := e.Extract(page)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if len(urls) != 1 || urls[0] != "https://v.douyin.com/play/x" {
		t.Errorf("urls = %v", urls)
	}
}

func TestStructuredExtractor_Assignment(t *testing.T) {
	page := `<script>window.RENDER_DATA = "%7B%22a%22%3A%22https%3A%2F%2Faweme.example.com%2Fplay%2F1%22%7D";</script>`

	e := &StructuredExtractor{Assignments: []string{"RENDER_DATA"}, Markers: []string{"aweme"}}
	urls, _, err := e.Extract(page)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if len(urls) != 1 || urls[0] != "https://aweme.example.com/play/1" {
		t.Errorf("urls = %v", urls)
	}
}

func TestStructuredExtractor_AssignmentPatternsCompiledOnce(t *testing.T) {
	page := `<script>window.RENDER_DATA = "%7B%22a%22%3A%22https%3A%2F%2Faweme.example.com%2Fplay%2F1%22%7D";</script>`
	e := &StructuredExtractor{Assignments: []string{"RENDER_DATA", "SIGI_STATE"}, Markers: []string{"aweme"}}

	first := e.assignmentPatterns()
	for range 3 {
		if urls, _, err := e.Extract(page); err != nil || len(urls) != 1 {
			t.Fatalf("Extract() = %v, %v", urls, err)
		}
	}
	second := e.assignmentPatterns()
	if len(first) != 2 || len(second) != 2 || first[0] != second[0] || first[1] != second[1] {
		t.Errorf("assignment patterns recompiled: %p vs %p", first[0], second[0])
	}
}

func TestStructuredExtractor_Malformed(t *testing.T) {
	page := `<title>x</title><script id="RENDER_DATA" type="application/json">{"app":{"video":</script>`

	e := &StructuredExtractor{ScriptIDs: []string{"RENDER_DATA"}, Markers: []string{"douyin"}}
	urls, meta, err := e.Extract(page)
	if len(urls) != 0 {
		t.Errorf("urls = %v, want none", urls)
	}
	var stageErr *types.StageError
	if !errors.As(err, &stageErr) || !errors.Is(err, jsonwalk.ErrInvalidJSON) {
		t.Errorf("err = %v, want StageError wrapping ErrInvalidJSON", err)
	}
	if meta[types.MetaTitle] != "x" {
		t.Error("title should survive a failed parse")
	}
}

func TestStructuredExtractor_EmptyJSON(t *testing.T) {
	page := `<script id="RENDER_DATA" type="application/json">{}</script>`

	e := &StructuredExtractor{ScriptIDs: []string{"RENDER_DATA"}, Markers: []string{"douyin"}}
	urls, _, err := e.Extract(page)
	if len(urls) != 0 || !errors.Is(err, types.ErrNoCandidatesFound) {
		t.Errorf("Extract() = %v, %v; want no urls and ErrNoCandidatesFound", urls, err)
	}
}

func TestStructuredExtractor_FirstYieldingBlockWins(t *testing.T) {
	page := `<script type="application/json">{"nothing":true}</script>
<script type="application/json">{"u":"https://cdn.example.com/first.mp4"}</script>
<script type="application/json">{"u":"https://cdn.example.com/second.mp4"}</script>`

	e := &StructuredExtractor{JSONScripts: true, Markers: []string{".mp4"}}
	urls, _, err := e.Extract(page)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if !slices.Equal(urls, []string{"https://cdn.example.com/first.mp4"}) {
		t.Errorf("urls = %v, blocks must not be merged", urls)
	}
}

func TestStructuredExtractor_ShapePreferred(t *testing.T) {
	page := `<script id="SIGI_STATE" type="application/json">{"generic":"https://www.tiktok.com/foo","preferred":"https://v16.tiktokcdn.com/v.mp4"}</script>`

	e := &StructuredExtractor{
		ScriptIDs: []string{"SIGI_STATE"},
		Markers:   []string{"tiktok"},
		Shape: func(root *jsonwalk.Node) ([]string, types.Metadata) {
			return []string{root.Get("preferred").Text()}, types.Metadata{types.MetaAuthor: "someone"}
		},
	}
	urls, meta, err := e.Extract(page)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if !slices.Equal(urls, []string{"https://v16.tiktokcdn.com/v.mp4"}) {
		t.Errorf("urls = %v", urls)
	}
	if meta[types.MetaAuthor] != "someone" {
		t.Errorf("shape metadata missing: %v", meta)
	}
}

func TestStructuredExtractor_NoBlock(t *testing.T) {
	e := &StructuredExtractor{ScriptIDs: []string{"RENDER_DATA"}}
	if _, _, err := e.Extract("<html></html>"); err == nil {
		t.Error("expected error when no block is present")
	}
}

func TestExtractIDs(t *testing.T) {
	text := `{"aweme_id":"999999999","vid":"short","x":1} video_id=v0200fg10000abc /video/7300000000000000001 "aweme_id":"999999999"`
	got := ExtractIDs(text)
	want := []string{"999999999", "v0200fg10000abc", "7300000000000000001"}
	if !slices.Equal(got, want) {
		t.Errorf("ExtractIDs() = %v, want %v", got, want)
	}
}

func TestPatternExtractor_DirectURLs(t *testing.T) {
	page := `<a href="https://www.douyin.com/aweme/v1/play/?video_id=a">x</a>
<img src="https://p3.douyinpic.com/img.jpg">
<video src="https://cdn.example.com/inline.mp4"></video>
"https://aweme.snssdk.com/aweme/v1/play/?video_id=b"`

	_, urls := NewPatternExtractor("douyin", "aweme").Extract(page)
	for _, want := range []string{
		"https://www.douyin.com/aweme/v1/play/?video_id=a",
		"https://aweme.snssdk.com/aweme/v1/play/?video_id=b",
		"https://cdn.example.com/inline.mp4",
	} {
		if !slices.Contains(urls, want) {
			t.Errorf("DirectURLs() missing %q in %v", want, urls)
		}
	}
	if slices.Contains(urls, "https://p3.douyinpic.com/img.jpg") {
		t.Error("image URL should not be collected")
	}

	seen := map[string]bool{}
	for _, u := range urls {
		if seen[u] {
			t.Errorf("duplicate %q", u)
		}
		seen[u] = true
	}
}

func TestPatternExtractor_Empty(t *testing.T) {
	ids, urls := NewPatternExtractor("douyin").Extract("")
	if len(ids) != 0 || len(urls) != 0 {
		t.Errorf("Extract(\"\") = %v, %v", ids, urls)
	}
}

func TestIDsFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want []string
	}{
		{"https://www.douyin.com/video/7300000000000000001", []string{"7300000000000000001"}},
		{"https://www.douyin.com/jingxuan?modal_id=7311111111111111111", []string{"7311111111111111111"}},
		{"https://www.iesdouyin.com/share/video/123456789/", []string{"123456789"}},
		{"https://example.com/", nil},
	}
	for _, tt := range tests {
		if got := IDsFromURL(tt.url); !slices.Equal(got, tt.want) {
			t.Errorf("IDsFromURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestPlayURI(t *testing.T) {
	if got := PlayURI(`"play_addr": {"uri": "v0200fg10000xyz", "x": 1}`); got != "v0200fg10000xyz" {
		t.Errorf("PlayURI() = %q", got)
	}
	if got := PlayURI(`"vid": "v0300abcdefgh"`); got != "v0300abcdefgh" {
		t.Errorf("PlayURI() vid = %q", got)
	}
	if got := PlayURI(`nothing`); got != "" {
		t.Errorf("PlayURI() = %q, want empty", got)
	}
}

func TestFilterVideoish(t *testing.T) {
	in := []string{
		"https://v16-webapp.tiktok.com/abc",
		"https://sf16.tiktokcdn.com/main.js",
		"https://cdn.example.com/v.mp4?x=1",
		"https://cdn.example.com/cover.jpg",
		"https://a.b/stream.m3u8",
		"https://x.com/play/1",
		"https://cdn.example.com/v.mp4?x=1",
	}
	want := []string{
		"https://v16-webapp.tiktok.com/abc",
		"https://cdn.example.com/v.mp4?x=1",
		"https://a.b/stream.m3u8",
		"https://x.com/play/1",
	}
	if got := FilterVideoish(in); !slices.Equal(got, want) {
		t.Errorf("FilterVideoish() = %v, want %v", got, want)
	}
}

func TestTitle(t *testing.T) {
	if got := Title("<TITLE lang=\"en\">\n A &lt;b&gt; \n</TITLE>"); got != "A <b>" {
		t.Errorf("Title() = %q", got)
	}
}
