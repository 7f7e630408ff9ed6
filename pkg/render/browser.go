package render

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"clipfetch/pkg/interfaces"
	"clipfetch/pkg/logging"
)

// BrowserConfig configures the headless browser renderer.
type BrowserConfig struct {
	Headless  bool
	UserAgent string
	Timeout   time.Duration
	// Settle waits after the body is ready so client-side state is populated.
	Settle time.Duration
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
}

// DefaultBrowserConfig returns the defaults used by the CLI.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Headless: true,
		Timeout:  45 * time.Second,
		Settle:   2 * time.Second,
	}
}

// Browser renders pages in a fresh headless Chrome per call.
type Browser struct {
	config BrowserConfig
	log    *logging.Logger
}

// NewBrowser creates a browser renderer. Chrome is only started on Render.
func NewBrowser(config BrowserConfig, log *logging.Logger) *Browser {
	if config.Timeout <= 0 {
		config.Timeout = DefaultBrowserConfig().Timeout
	}
	return &Browser{config: config, log: log.WithComponent("browser")}
}

// Name returns the renderer name.
func (b *Browser) Name() string {
	return "browser"
}

// allocatorOptions builds the Chrome flags.
func (b *Browser) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox, // Required for Docker environments
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	}
	if b.config.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if b.config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.config.UserAgent))
	}
	if b.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.config.ExecPath))
	}
	return opts
}

// Render navigates to url and returns the document's outer HTML.
func (b *Browser) Render(ctx context.Context, url string) (string, error) {
	start := time.Now()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, b.allocatorOptions()...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancel := context.WithTimeout(browserCtx, b.config.Timeout)
	defer cancel()

	tasks := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	}
	if b.config.Settle > 0 {
		tasks = append(tasks, chromedp.Sleep(b.config.Settle))
	}

	var html string
	tasks = append(tasks, chromedp.OuterHTML("html", &html))
	if err := chromedp.Run(runCtx, tasks...); err != nil {
		return "", fmt.Errorf("browser render failed: %w", err)
	}

	b.log.Debug("page rendered", "url", url, "bytes", len(html), "duration", time.Since(start))
	return html, nil
}

var _ interfaces.PageRenderer = (*Browser)(nil)
