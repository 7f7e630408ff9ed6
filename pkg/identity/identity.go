// Package identity supplies randomized, browser-plausible request headers.
//
// A Provider is the only state shared between concurrent download jobs; its
// random source is guarded by a mutex and every call returns a fresh header
// set so retries present a different fingerprint.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	mrand "math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultUserAgents is the rotation pool used when none is configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Android 14; Mobile; rv:120.0) Gecko/120.0 Firefox/120.0",
}

// MobileUserAgent is the fixed Android identity used for GraphQL-backed pages.
const MobileUserAgent = "Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Mobile Safari/537.36"

var desktopBase = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.9,ko;q=0.8",
	"Cache-Control":             "no-cache",
	"Pragma":                    "no-cache",
	"Sec-Ch-Ua":                 `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
	"Sec-Ch-Ua-Mobile":          "?0",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
	"Sec-Fetch-User":            "?1",
	"Upgrade-Insecure-Requests": "1",
}

var mobileBase = map[string]string{
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "zh-CN,zh-Hans;q=0.9,en;q=0.8",
	"Cache-Control":   "no-cache",
	"Pragma":          "no-cache",
	"Sec-Fetch-Dest":  "document",
	"Sec-Fetch-Mode":  "navigate",
	"Sec-Fetch-Site":  "none",
	"Sec-Fetch-User":  "?1",
}

// Provider hands out header sets.
type Provider struct {
	userAgents []string
	mu         sync.Mutex
	rng        *mrand.Rand
}

// Option configures a Provider.
type Option func(*Provider)

// WithUserAgents replaces the rotation pool.
func WithUserAgents(uas []string) Option {
	return func(p *Provider) {
		if len(uas) > 0 {
			p.userAgents = append([]string(nil), uas...)
		}
	}
}

// WithSeed makes the rotation deterministic.
func WithSeed(seed uint64) Option {
	return func(p *Provider) {
		p.rng = mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// New creates a provider.
func New(opts ...Option) *Provider {
	now := uint64(time.Now().UnixNano())
	p := &Provider{
		userAgents: DefaultUserAgents,
		rng:        mrand.New(mrand.NewPCG(now, now>>1)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// UserAgent draws one entry from the pool.
func (p *Provider) UserAgent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userAgents[p.rng.IntN(len(p.userAgents))]
}

// Headers returns a new header set for a page request.
func (p *Provider) Headers(mobile bool) http.Header {
	base := desktopBase
	if mobile {
		base = mobileBase
	}

	h := make(http.Header, len(base)+2)
	for k, v := range base {
		h.Set(k, v)
	}

	ua := p.UserAgent()
	h.Set("User-Agent", ua)
	if !mobile {
		h.Set("Sec-Ch-Ua-Platform", platformHint(ua))
	}
	return h
}

// DownloadHeaders returns headers for fetching media bytes. Retries
// (attempt > 0) ask for the whole range explicitly.
func (p *Provider) DownloadHeaders(mobile bool, referer string, attempt int) http.Header {
	h := p.Headers(mobile)
	h.Set("Accept", "*/*")
	h.Set("Accept-Encoding", "identity")
	h.Del("Upgrade-Insecure-Requests")
	h.Set("Sec-Fetch-Dest", "video")
	h.Set("Sec-Fetch-Mode", "no-cors")
	if referer != "" {
		h.Set("Referer", referer)
	}
	if attempt > 0 {
		h.Set("Range", "bytes=0-")
	}
	return h
}

// Tokens are anti-bot cookie values some platforms expect on API calls.
type Tokens struct {
	MsToken string
	TTWID   string
}

// Cookie renders the tokens as a Cookie header value.
func (t Tokens) Cookie() string {
	return "msToken=" + t.MsToken + "; ttwid=" + t.TTWID
}

// Tokens generates fresh token values.
func (p *Provider) Tokens() Tokens {
	return Tokens{
		MsToken: randomHex(16),
		TTWID:   randomHex(32),
	}
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func platformHint(ua string) string {
	switch {
	case strings.Contains(ua, "Macintosh"):
		return `"macOS"`
	case strings.Contains(ua, "iPhone"):
		return `"iOS"`
	case strings.Contains(ua, "Android"):
		return `"Android"`
	}
	return `"Windows"`
}
