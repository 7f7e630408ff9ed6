// Package config handles application configuration from defaults, an optional
// config file and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is accepted in front of every environment key.
const EnvPrefix = "CLIPFETCH"

// Config holds all application configuration.
type Config struct {
	// Output
	OutputDir string

	// Timeouts
	RedirectTimeout time.Duration
	PageTimeout     time.Duration
	APITimeout      time.Duration
	ScriptTimeout   time.Duration
	DownloadTimeout time.Duration

	// Retry behaviour
	DownloadRetries   int
	RetryMinDelay     time.Duration
	RetryMaxDelay     time.Duration
	SegmentRetries    int
	RequestsPerSecond float64

	// Quality selection
	TargetHeight int
	PreferSmall  bool

	// Proxy settings
	GlobalProxies   []string
	TransportRoutes []TransportRoute
	UTLSDomains     []string

	// Logging
	LogLevel string
	LogJSON  bool

	// Optional page renderers
	FlareSolverrURL     string
	FlareSolverrTimeout time.Duration
	BrowserEnabled      bool
	BrowserTimeout      time.Duration

	// External downloader
	YTDLPPath string

	// Hosts claimed by each platform
	Platforms PlatformHosts
}

// PlatformHosts lists the host suffixes matched for each platform.
type PlatformHosts struct {
	Douyin    []string
	TikTok    []string
	Threads   []string
	Instagram []string
	Twitter   []string
	YouTube   []string
}

// TransportRoute defines URL-specific proxy routing.
type TransportRoute struct {
	URLPattern string
	Proxy      string
	DisableSSL bool
	Direct     bool // If true, bypass global proxy and connect directly
}

// Default values, also used by tests that build a Config by hand.
var (
	DefaultUTLSDomains = []string{
		"douyin.com",
		"iesdouyin.com",
		"tiktok.com",
	}
	DefaultPlatformHosts = PlatformHosts{
		Douyin:    []string{"douyin.com", "iesdouyin.com", "v.douyin.com", "snssdk.com"},
		TikTok:    []string{"tiktok.com", "vm.tiktok.com", "vt.tiktok.com", "m.tiktok.com"},
		Threads:   []string{"threads.net", "threads.com"},
		Instagram: []string{"instagram.com", "instagr.am"},
		Twitter:   []string{"twitter.com", "x.com", "t.co"},
		YouTube:   []string{"youtube.com", "youtu.be"},
	}
)

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		OutputDir:           "downloads",
		RedirectTimeout:     30 * time.Second,
		PageTimeout:         30 * time.Second,
		APITimeout:          20 * time.Second,
		ScriptTimeout:       15 * time.Second,
		DownloadTimeout:     60 * time.Second,
		DownloadRetries:     3,
		RetryMinDelay:       1 * time.Second,
		RetryMaxDelay:       3 * time.Second,
		SegmentRetries:      2,
		UTLSDomains:         append([]string(nil), DefaultUTLSDomains...),
		LogLevel:            "info",
		FlareSolverrTimeout: 60 * time.Second,
		BrowserTimeout:      45 * time.Second,
		YTDLPPath:           "yt-dlp",
		Platforms:           DefaultPlatformHosts,
	}
}

// Load reads configuration. configFile may be empty.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bare names (LOG_LEVEL, GLOBAL_PROXIES, ...) are accepted as well.
	for _, key := range v.AllKeys() {
		envName := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, EnvPrefix+"_"+envName, envName); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", envName, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		OutputDir:           v.GetString("output_dir"),
		RedirectTimeout:     getDuration(v, "redirect_timeout"),
		PageTimeout:         getDuration(v, "page_timeout"),
		APITimeout:          getDuration(v, "api_timeout"),
		ScriptTimeout:       getDuration(v, "script_timeout"),
		DownloadTimeout:     getDuration(v, "download_timeout"),
		DownloadRetries:     v.GetInt("download_retries"),
		RetryMinDelay:       getDuration(v, "retry_min_delay"),
		RetryMaxDelay:       getDuration(v, "retry_max_delay"),
		SegmentRetries:      v.GetInt("segment_retries"),
		RequestsPerSecond:   v.GetFloat64("requests_per_second"),
		TargetHeight:        v.GetInt("target_height"),
		PreferSmall:         v.GetBool("prefer_small"),
		GlobalProxies:       getStringSlice(v, "global_proxies"),
		UTLSDomains:         getStringSlice(v, "utls_domains"),
		LogLevel:            v.GetString("log_level"),
		LogJSON:             v.GetBool("log_json"),
		FlareSolverrURL:     v.GetString("flaresolverr_url"),
		FlareSolverrTimeout: getDuration(v, "flaresolverr_timeout"),
		BrowserEnabled:      v.GetBool("browser_enabled"),
		BrowserTimeout:      getDuration(v, "browser_timeout"),
		YTDLPPath:           v.GetString("ytdlp_path"),
		Platforms: PlatformHosts{
			Douyin:    getStringSlice(v, "hosts.douyin"),
			TikTok:    getStringSlice(v, "hosts.tiktok"),
			Threads:   getStringSlice(v, "hosts.threads"),
			Instagram: getStringSlice(v, "hosts.instagram"),
			Twitter:   getStringSlice(v, "hosts.twitter"),
			YouTube:   getStringSlice(v, "hosts.youtube"),
		},
	}

	cfg.TransportRoutes = parseTransportRoutes(v.GetString("transport_routes"))

	// Legacy single proxy support
	if globalProxy := v.GetString("global_proxy"); globalProxy != "" && len(cfg.GlobalProxies) == 0 {
		cfg.GlobalProxies = []string{globalProxy}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would make the pipeline misbehave.
func (c *Config) Validate() error {
	if c.DownloadRetries < 1 {
		return fmt.Errorf("download_retries must be at least 1, got %d", c.DownloadRetries)
	}
	if c.SegmentRetries < 0 {
		return fmt.Errorf("segment_retries must not be negative, got %d", c.SegmentRetries)
	}
	if c.RetryMaxDelay < c.RetryMinDelay {
		return fmt.Errorf("retry_max_delay (%s) is below retry_min_delay (%s)", c.RetryMaxDelay, c.RetryMinDelay)
	}
	if c.TargetHeight < 0 {
		return fmt.Errorf("target_height must not be negative, got %d", c.TargetHeight)
	}
	return nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("redirect_timeout", d.RedirectTimeout.String())
	v.SetDefault("page_timeout", d.PageTimeout.String())
	v.SetDefault("api_timeout", d.APITimeout.String())
	v.SetDefault("script_timeout", d.ScriptTimeout.String())
	v.SetDefault("download_timeout", d.DownloadTimeout.String())
	v.SetDefault("download_retries", d.DownloadRetries)
	v.SetDefault("retry_min_delay", d.RetryMinDelay.String())
	v.SetDefault("retry_max_delay", d.RetryMaxDelay.String())
	v.SetDefault("segment_retries", d.SegmentRetries)
	v.SetDefault("requests_per_second", d.RequestsPerSecond)
	v.SetDefault("target_height", d.TargetHeight)
	v.SetDefault("prefer_small", d.PreferSmall)
	v.SetDefault("global_proxies", "")
	v.SetDefault("global_proxy", "")
	v.SetDefault("transport_routes", "")
	v.SetDefault("utls_domains", strings.Join(d.UTLSDomains, ","))
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_json", d.LogJSON)
	v.SetDefault("flaresolverr_url", d.FlareSolverrURL)
	v.SetDefault("flaresolverr_timeout", d.FlareSolverrTimeout.String())
	v.SetDefault("browser_enabled", d.BrowserEnabled)
	v.SetDefault("browser_timeout", d.BrowserTimeout.String())
	v.SetDefault("ytdlp_path", d.YTDLPPath)
	v.SetDefault("hosts.douyin", strings.Join(d.Platforms.Douyin, ","))
	v.SetDefault("hosts.tiktok", strings.Join(d.Platforms.TikTok, ","))
	v.SetDefault("hosts.threads", strings.Join(d.Platforms.Threads, ","))
	v.SetDefault("hosts.instagram", strings.Join(d.Platforms.Instagram, ","))
	v.SetDefault("hosts.twitter", strings.Join(d.Platforms.Twitter, ","))
	v.SetDefault("hosts.youtube", strings.Join(d.Platforms.YouTube, ","))
}

// getDuration accepts plain seconds ("30") as well as duration strings ("30s").
func getDuration(v *viper.Viper, key string) time.Duration {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0
	}
	if secs, err := time.ParseDuration(raw + "s"); err == nil && !strings.ContainsAny(raw, "hmsuµn") {
		return secs
	}
	return v.GetDuration(key)
}

// getStringSlice accepts a comma-separated string or a list from a config file.
func getStringSlice(v *viper.Viper, key string) []string {
	var parts []string
	switch raw := v.Get(key).(type) {
	case []any:
		for _, p := range raw {
			parts = append(parts, fmt.Sprint(p))
		}
	case []string:
		parts = raw
	default:
		parts = strings.Split(v.GetString(key), ",")
	}

	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseTransportRoutes parses the TRANSPORT_ROUTES value.
// Format: {URL=pattern, PROXY=url, DISABLE_SSL=true}, {URL=pattern2}
func parseTransportRoutes(s string) []TransportRoute {
	if s == "" {
		return nil
	}

	var routes []TransportRoute
	s = strings.TrimSpace(s)

	parts := strings.Split(s, "}, {")
	for _, part := range parts {
		part = strings.Trim(part, "{} ")
		if part == "" {
			continue
		}

		route := TransportRoute{}
		for _, field := range strings.Split(part, ", ") {
			kv := strings.SplitN(field, "=", 2)
			if len(kv) != 2 {
				continue
			}
			value := strings.TrimSpace(kv[1])

			switch strings.ToUpper(strings.TrimSpace(kv[0])) {
			case "URL":
				route.URLPattern = value
			case "PROXY":
				route.Proxy = value
			case "DISABLE_SSL":
				route.DisableSSL = strings.EqualFold(value, "true")
			case "DIRECT":
				route.Direct = strings.EqualFold(value, "true")
			}
		}
		if route.URLPattern != "" {
			routes = append(routes, route)
		}
	}

	return routes
}
