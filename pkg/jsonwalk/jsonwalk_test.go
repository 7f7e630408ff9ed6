package jsonwalk

import (
	"errors"
	"slices"
	"testing"
)

const sample = `{
	"app": {"title": "clip", "count": 3, "ok": true, "none": null},
	"items": [
		{"url": "https://www.douyin.com/aweme/v1/play/?video_id=a"},
		{"url": "https://static.example.com/logo.png"},
		{"nested": {"url": "http://v3.douyinvod.com/x.mp4"}}
	]
}`

func TestParse_Kinds(t *testing.T) {
	root, err := Parse(sample)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	tests := []struct {
		path []string
		kind Kind
	}{
		{[]string{"app"}, Object},
		{[]string{"app", "title"}, String},
		{[]string{"app", "count"}, Number},
		{[]string{"app", "ok"}, Bool},
		{[]string{"app", "none"}, Null},
		{[]string{"items"}, Array},
		{[]string{"items", "2", "nested", "url"}, String},
	}
	for _, tt := range tests {
		n := root.Path(tt.path...)
		if n == nil {
			t.Errorf("Path(%v) = nil", tt.path)
			continue
		}
		if n.Kind != tt.kind {
			t.Errorf("Path(%v).Kind = %v, want %v", tt.path, n.Kind, tt.kind)
		}
	}

	if root.Path("app", "count").Int() != 3 {
		t.Error("Int() mismatch")
	}
	if root.Path("items", "9") != nil {
		t.Error("out of range index should be nil")
	}
	if root.Path("items", "x") != nil {
		t.Error("non-numeric index into array should be nil")
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "{", `{"a":}`, "not json"} {
		if _, err := Parse(in); !errors.Is(err, ErrInvalidJSON) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalidJSON", in, err)
		}
	}
}

func TestURLCollector(t *testing.T) {
	root, err := Parse(sample)
	if err != nil {
		t.Fatal(err)
	}

	c := &URLCollector{Markers: []string{"douyin"}}
	Walk(root, c)

	want := []string{
		"https://www.douyin.com/aweme/v1/play/?video_id=a",
		"http://v3.douyinvod.com/x.mp4",
	}
	if !slices.Equal(c.URLs, want) {
		t.Errorf("URLs = %v, want %v", c.URLs, want)
	}

	all := &URLCollector{}
	Walk(root, all)
	if len(all.URLs) != 3 {
		t.Errorf("without markers got %d URLs, want 3", len(all.URLs))
	}
}

func TestWalk_SkipChildren(t *testing.T) {
	root, _ := Parse(`{"skip": {"url": "https://a"}, "keep": {"url": "https://b"}}`)

	var seen []string
	Walk(root, VisitorFunc(func(key string, n *Node) bool {
		if key == "skip" {
			return false
		}
		if n.Kind == String {
			seen = append(seen, n.Str)
		}
		return true
	}))
	if !slices.Equal(seen, []string{"https://b"}) {
		t.Errorf("seen = %v", seen)
	}
}

func TestFindAll(t *testing.T) {
	root, _ := Parse(`{"a": {"url_list": ["x"]}, "b": [{"url_list": ["y", "z"]}]}`)
	found := FindAll(root, "url_list")
	if len(found) != 2 {
		t.Fatalf("FindAll() found %d nodes, want 2", len(found))
	}
	if !slices.Equal(found[1].Strings(), []string{"y", "z"}) {
		t.Errorf("Strings() = %v", found[1].Strings())
	}
}
