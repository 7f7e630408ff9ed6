// Package scrape pulls candidate media URLs and metadata out of raw HTML.
package scrape

import (
	"errors"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"clipfetch/pkg/jsonwalk"
	"clipfetch/pkg/types"
)

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// ShapeWalker extracts candidates from a payload whose structure is known.
type ShapeWalker func(root *jsonwalk.Node) ([]string, types.Metadata)

// StructuredExtractor locates embedded JSON state in a page and walks it.
type StructuredExtractor struct {
	// ScriptIDs are ids of <script> tags carrying JSON, tried in order.
	ScriptIDs []string
	// Assignments are variable names assigned an escaped JSON string,
	// as in `NAME = "...";`.
	Assignments []string
	// JSONScripts also scans every <script type="application/json">.
	JSONScripts bool
	// Markers restrict the generic walk to URLs containing one of them.
	Markers []string
	// Shape is preferred over the generic walk when it yields candidates.
	Shape ShapeWalker

	assignOnce sync.Once
	assignRes  []*regexp.Regexp
}

// assignmentPatterns compiles Assignments on first use.
func (e *StructuredExtractor) assignmentPatterns() []*regexp.Regexp {
	e.assignOnce.Do(func() {
		for _, name := range e.Assignments {
			e.assignRes = append(e.assignRes, regexp.MustCompile(`(?is)`+regexp.QuoteMeta(name)+`\s*=\s*"(.*?)"\s*;`))
		}
	})
	return e.assignRes
}

// Extract returns candidates from the first block that parses and yields
// at least one URL. The page title is returned even when extraction fails.
func (e *StructuredExtractor) Extract(page string) ([]string, types.Metadata, error) {
	meta := types.Metadata{}
	meta.Set(types.MetaTitle, Title(page))

	blocks := e.blocks(page)
	if len(blocks) == 0 {
		return nil, meta, types.NewStageError("structured", errors.New("no structured data block"))
	}

	var parsed int
	for _, block := range blocks {
		root, err := ParsePayload(block)
		if err != nil {
			continue
		}
		parsed++

		if urls, shapeMeta := e.walk(root); len(urls) > 0 {
			meta.Merge(shapeMeta)
			return urls, meta, nil
		}
	}

	if parsed == 0 {
		return nil, meta, types.NewStageError("structured", fmt.Errorf("%d block(s): %w", len(blocks), jsonwalk.ErrInvalidJSON))
	}
	return nil, meta, types.NewStageError("structured", types.ErrNoCandidatesFound)
}

func (e *StructuredExtractor) walk(root *jsonwalk.Node) ([]string, types.Metadata) {
	if e.Shape != nil {
		if urls, meta := e.Shape(root); len(urls) > 0 {
			return urls, meta
		}
	}
	c := &jsonwalk.URLCollector{Markers: e.Markers}
	jsonwalk.Walk(root, c)
	return c.URLs, nil
}

// blocks returns raw payload strings in priority order.
func (e *StructuredExtractor) blocks(page string) []string {
	var out []string

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err == nil {
		for _, id := range e.ScriptIDs {
			doc.Find("script").Each(func(_ int, s *goquery.Selection) {
				if attr, _ := s.Attr("id"); attr == id {
					out = append(out, s.Text())
				}
			})
		}
		if e.JSONScripts {
			doc.Find(`script[type="application/json"]`).Each(func(_ int, s *goquery.Selection) {
				out = append(out, s.Text())
			})
		}
	}

	for _, re := range e.assignmentPatterns() {
		for _, m := range re.FindAllStringSubmatch(page, -1) {
			out = append(out, m[1])
		}
	}
	return out
}

// ParsePayload tries the payload as-is, then HTML-unescaped, then
// percent-decoded, then with JS string escapes decoded.
func ParsePayload(payload string) (*jsonwalk.Node, error) {
	payload = strings.TrimSpace(payload)
	for _, candidate := range decodings(payload) {
		if root, err := jsonwalk.Parse(candidate); err == nil {
			return root, nil
		}
	}
	return nil, jsonwalk.ErrInvalidJSON
}

func decodings(payload string) []string {
	out := []string{payload}

	unescaped := html.UnescapeString(payload)
	if unescaped != payload {
		out = append(out, unescaped)
	}
	if decoded, err := url.PathUnescape(unescaped); err == nil && decoded != unescaped {
		out = append(out, decoded)
	}
	if unquoted, err := strconv.Unquote(`"` + unescaped + `"`); err == nil && unquoted != unescaped {
		out = append(out, unquoted)
		if decoded, err := url.PathUnescape(unquoted); err == nil && decoded != unquoted {
			out = append(out, decoded)
		}
	}
	return out
}

// Title returns the HTML-unescaped page title, or "".
func Title(page string) string {
	m := titleRe.FindStringSubmatch(page)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(m[1]))
}
