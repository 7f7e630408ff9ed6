// Package app provides the main application setup and dependency injection.
package app

import (
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"clipfetch/pkg/config"
	"clipfetch/pkg/download"
	"clipfetch/pkg/extractors"
	"clipfetch/pkg/hls"
	"clipfetch/pkg/httpclient"
	"clipfetch/pkg/identity"
	"clipfetch/pkg/interfaces"
	"clipfetch/pkg/logging"
	"clipfetch/pkg/registry"
	"clipfetch/pkg/render"
	"clipfetch/pkg/router"
	"clipfetch/pkg/types"
)

// App is the main application container.
type App struct {
	Config       *config.Config
	Log          *logging.Logger
	HTTPClient   *httpclient.Client
	ExtractorReg *registry.ExtractorRegistry
	Router       *router.Router
}

// New loads configuration from configFile (may be empty) and builds the
// application.
func New(configFile string) (*App, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.LogLevel, cfg.LogJSON, nil)
	return NewWithConfig(cfg, log), nil
}

// NewWithConfig builds the application from an already loaded config.
func NewWithConfig(cfg *config.Config, log *logging.Logger) *App {
	log.Debug("initializing clipfetch", "log_level", cfg.LogLevel, "output_dir", cfg.OutputDir)

	httpClient := httpclient.New(cfg, log)
	ident := identity.New()

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	deps := extractors.Deps{
		Client:    httpClient,
		Identity:  ident,
		Config:    cfg,
		Limiter:   limiter,
		Renderers: renderers(cfg, ident, log),
		Log:       log,
	}

	extractorReg := registry.NewExtractorRegistry()
	registerExtractors(extractorReg, deps, cfg, log)

	fs := afero.NewOsFs()
	assembler := hls.NewAssembler(httpClient, fs, limiter, cfg.SegmentRetries, log)
	engine := download.New(httpClient, ident, assembler, httpClient, fs, download.Options{
		Retries:  cfg.DownloadRetries,
		MinDelay: cfg.RetryMinDelay,
		MaxDelay: cfg.RetryMaxDelay,
		Timeout:  cfg.DownloadTimeout,
	}, log)

	return &App{
		Config:       cfg,
		Log:          log,
		HTTPClient:   httpClient,
		ExtractorReg: extractorReg,
		Router:       router.New(extractorReg, engine, fs, cfg.Platforms, log),
	}
}

// Options returns router options seeded from the configuration.
func (a *App) Options() router.Options {
	return router.Options{
		OutputDir:    a.Config.OutputDir,
		TargetHeight: a.Config.TargetHeight,
		PreferSmall:  a.Config.PreferSmall,
	}
}

// Shutdown releases the extractors.
func (a *App) Shutdown() {
	a.Log.Debug("shutting down application")
	if err := a.Router.Close(); err != nil {
		a.Log.Warn("failed to close extractors", "error", err)
	}
}

// renderers builds the optional page renderers in the order they are tried.
func renderers(cfg *config.Config, ident *identity.Provider, log *logging.Logger) []interfaces.PageRenderer {
	var out []interfaces.PageRenderer

	if cfg.FlareSolverrURL != "" {
		out = append(out, render.NewFlareSolverr(cfg.FlareSolverrURL, cfg.FlareSolverrTimeout, log))
		log.Info("FlareSolverr renderer enabled", "url", cfg.FlareSolverrURL)
	}

	if cfg.BrowserEnabled {
		bc := render.DefaultBrowserConfig()
		bc.UserAgent = ident.UserAgent()
		bc.Timeout = cfg.BrowserTimeout
		out = append(out, render.NewBrowser(bc, log))
		log.Info("headless browser renderer enabled", "timeout", cfg.BrowserTimeout)
	}

	return out
}

// registerExtractors registers all platform extractors.
// Add a platform by:
// 1. Creating its extractor in pkg/extractors/
// 2. Adding its host list to config.PlatformHosts
// 3. Registering it below
func registerExtractors(reg *registry.ExtractorRegistry, deps extractors.Deps, cfg *config.Config, log *logging.Logger) {
	reg.Register(extractors.NewDouyinExtractor(deps, extractors.DouyinOptions{}))
	reg.Register(extractors.NewTikTokExtractor(deps, nil))
	reg.Register(extractors.NewThreadsExtractor(deps, extractors.ThreadsOptions{
		ReaderPrefix: extractors.DefaultReaderPrefix,
	}))

	ytdlp := extractors.NewYTDLP(cfg.YTDLPPath, log)
	reg.Register(extractors.NewDelegateExtractor(types.PlatformInstagram, cfg.Platforms.Instagram, ytdlp, log))
	reg.Register(extractors.NewDelegateExtractor(types.PlatformTwitter, cfg.Platforms.Twitter, ytdlp, log))
	reg.Register(extractors.NewDelegateExtractor(types.PlatformYouTube, cfg.Platforms.YouTube, ytdlp, log))

	log.Debug("registered extractors", "count", len(reg.All()))
}
