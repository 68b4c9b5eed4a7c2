package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config represents the lawsker configuration
type Config struct {
	Title     string           `yaml:"title"`
	Server    ServerConfig     `yaml:"server"`
	Site      SiteConfig       `yaml:"site"`
	Routes    []RouteConfig    `yaml:"routes"`
	Redirects []RedirectConfig `yaml:"redirects,omitempty"`
	Blocked   []string         `yaml:"blocked,omitempty"` // Paths answered with a bare 404
	Demo      DemoConfig       `yaml:"demo"`
	Store     StoreConfig      `yaml:"store"`
	API       *APIConfig       `yaml:"api,omitempty"`
	Features  FeaturesConfig   `yaml:"features"`
	Notify    []NotifyConfig   `yaml:"notify,omitempty"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port  int    `yaml:"port"`
	Host  string `yaml:"host"`
	Debug bool   `yaml:"debug"`
}

// SiteConfig describes where page files come from.
type SiteConfig struct {
	Dir      string `yaml:"dir,omitempty"`       // Directory with page files; empty serves the embedded site
	Home     string `yaml:"home"`                // File served for "/" and unmatched paths
	CacheTTL string `yaml:"cache_ttl,omitempty"` // Page cache TTL (e.g. "1m"); empty disables caching
}

// GetCacheTTL returns the parsed page cache TTL (0 = disabled)
func (c SiteConfig) GetCacheTTL() time.Duration {
	if c.CacheTTL == "" {
		return 0
	}
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil {
		return 0
	}
	return d
}

// RouteConfig maps a URL path to a page file relative to the site root.
type RouteConfig struct {
	Path string `yaml:"path"`
	File string `yaml:"file"`
}

// RedirectConfig sends From to To with the given status (default 301).
type RedirectConfig struct {
	From   string `yaml:"from"`
	To     string `yaml:"to"`
	Status int    `yaml:"status,omitempty"`
}

// GetStatus returns the redirect status code (default: 301)
func (r RedirectConfig) GetStatus() int {
	if r.Status == 0 {
		return 301
	}
	return r.Status
}

// DemoConfig configures the business-flow step sequencer.
type DemoConfig struct {
	StartDelay   string       `yaml:"start_delay,omitempty"`   // Delay between start and step 1 (default: 1s)
	AdvanceDelay string       `yaml:"advance_delay,omitempty"` // Auto-play delay between steps (default: 3s)
	FinishDelay  string       `yaml:"finish_delay,omitempty"`  // Auto-play delay after the last step (default: 2s)
	Steps        []StepConfig `yaml:"steps,omitempty"`         // Overrides the built-in step catalogue
}

// StepConfig describes one step of the demo narrative.
type StepConfig struct {
	Key         string      `yaml:"key"`
	Title       string      `yaml:"title"`
	Description string      `yaml:"description,omitempty"` // Markdown
	Data        []string    `yaml:"data,omitempty"`        // Mock data lines shown by the show-data cue
	Cues        []CueConfig `yaml:"cues,omitempty"`
}

// CueConfig is one delayed mutation in a step timeline.
type CueConfig struct {
	At     string `yaml:"at"`     // Offset after the step is entered (e.g. "2s")
	Action string `yaml:"action"` // "show-data", "complete-step" or "finish-run"
}

// GetStartDelay returns the delay before step 1 (default: 1s)
func (c DemoConfig) GetStartDelay() time.Duration {
	return parseDurationOr(c.StartDelay, time.Second)
}

// GetAdvanceDelay returns the auto-play step interval (default: 3s)
func (c DemoConfig) GetAdvanceDelay() time.Duration {
	return parseDurationOr(c.AdvanceDelay, 3*time.Second)
}

// GetFinishDelay returns the auto-play completion delay (default: 2s)
func (c DemoConfig) GetFinishDelay() time.Duration {
	return parseDurationOr(c.FinishDelay, 2*time.Second)
}

// StoreConfig selects the backend for the completed-runs counter.
type StoreConfig struct {
	Driver string       `yaml:"driver"`          // "sqlite" (default), "postgres" or "memory"
	DSN    string       `yaml:"dsn,omitempty"`   // sqlite file path or postgres connection string
	Retry  *RetryConfig `yaml:"retry,omitempty"` // Retry configuration for writes
}

// RetryConfig configures retry behavior for store writes
type RetryConfig struct {
	MaxRetries int    `yaml:"max_retries,omitempty"` // Maximum retry attempts (default: 3)
	BaseDelay  string `yaml:"base_delay,omitempty"`  // Initial delay (e.g., "50ms"). Default: 50ms
	MaxDelay   string `yaml:"max_delay,omitempty"`   // Maximum delay (e.g., "2s"). Default: 2s
}

// GetDriver returns the store driver (default: sqlite)
func (c StoreConfig) GetDriver() string {
	if c.Driver == "" {
		return StoreSQLite
	}
	return strings.ToLower(c.Driver)
}

// GetDSN returns the DSN with environment variables expanded. For sqlite the
// default is ./lawsker.db.
func (c StoreConfig) GetDSN() string {
	if c.DSN == "" && c.GetDriver() == StoreSQLite {
		return "./lawsker.db"
	}
	return os.ExpandEnv(c.DSN)
}

// GetRetryMaxRetries returns the max retries (default: 3, set to 0 to disable retries)
func (c StoreConfig) GetRetryMaxRetries() int {
	if c.Retry == nil || c.Retry.MaxRetries < 0 {
		return 3
	}
	return c.Retry.MaxRetries
}

// GetRetryBaseDelay returns the base delay (default: 50ms)
func (c StoreConfig) GetRetryBaseDelay() time.Duration {
	if c.Retry == nil {
		return 50 * time.Millisecond
	}
	return parseDurationOr(c.Retry.BaseDelay, 50*time.Millisecond)
}

// GetRetryMaxDelay returns the max delay (default: 2s)
func (c StoreConfig) GetRetryMaxDelay() time.Duration {
	if c.Retry == nil {
		return 2 * time.Second
	}
	return parseDurationOr(c.Retry.MaxDelay, 2*time.Second)
}

// APIConfig holds configuration for the demo REST API
type APIConfig struct {
	CORS      *CORSConfig      `yaml:"cors,omitempty"`
	RateLimit *RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// CORSConfig holds CORS configuration for the API
type CORSConfig struct {
	Origins []string `yaml:"origins,omitempty"` // Allowed origins (e.g., ["http://localhost:3000", "*"])
}

// RateLimitConfig limits demo commands per client IP. REST command POSTs and
// websocket commands count against the same bucket; reads are not limited.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"` // Commands per second (default: 10)
	Burst             int     `yaml:"burst,omitempty"`               // Burst size (default: 20)
	MaxTrackedIPs     int     `yaml:"max_tracked_ips,omitempty"`     // LRU capacity (default: 10000)
}

// GetCORSOrigins returns the configured CORS origins, or nil if not configured
func (c *APIConfig) GetCORSOrigins() []string {
	if c == nil || c.CORS == nil {
		return nil
	}
	return c.CORS.Origins
}

// GetRateLimitRPS returns the rate limit in requests per second (default: 10)
func (c *APIConfig) GetRateLimitRPS() float64 {
	if c == nil || c.RateLimit == nil || c.RateLimit.RequestsPerSecond <= 0 {
		return 10
	}
	return c.RateLimit.RequestsPerSecond
}

// GetRateLimitBurst returns the burst size (default: 20)
func (c *APIConfig) GetRateLimitBurst() int {
	if c == nil || c.RateLimit == nil || c.RateLimit.Burst <= 0 {
		return 20
	}
	return c.RateLimit.Burst
}

// GetMaxTrackedIPs returns the rate limiter LRU capacity (default: 10000)
func (c *APIConfig) GetMaxTrackedIPs() int {
	if c == nil || c.RateLimit == nil || c.RateLimit.MaxTrackedIPs <= 0 {
		return 10000
	}
	return c.RateLimit.MaxTrackedIPs
}

// FeaturesConfig holds feature flags
type FeaturesConfig struct {
	HotReload bool `yaml:"hot_reload"` // Watch site.dir and push reloads (ignored for the embedded site)
}

// NotifyConfig configures a run-completion notification output.
type NotifyConfig struct {
	Type    string `yaml:"type"`              // "slack" or "log"
	Channel string `yaml:"channel,omitempty"` // Slack channel, e.g. "#demo-runs"
}

// DefaultRoutes is the page table of the Lawsker demo site.
func DefaultRoutes() []RouteConfig {
	return []RouteConfig{
		{Path: "/", File: "index.html"},
		{Path: "/legal", File: "lawyer-workspace.html"},
		{Path: "/calculator", File: "earnings-calculator.html"},
		{Path: "/admin-pro", File: "admin-config.html"},
		{Path: "/user", File: "user-workspace.html"},
		{Path: "/login", File: "login.html"},
		{Path: "/demo", File: "business-flow-demo.html"},
		{Path: "/dashboard", File: "dashboard.html"},
	}
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Title: "Lawsker",
		Server: ServerConfig{
			Port:  8080,
			Host:  "localhost",
			Debug: false,
		},
		Site: SiteConfig{
			Home:     "index.html",
			CacheTTL: "1m",
		},
		Routes: DefaultRoutes(),
		Redirects: []RedirectConfig{
			{From: "/sales", To: "/user", Status: 301},
		},
		Blocked: []string{"/admin-config-legacy.html"},
		Store: StoreConfig{
			Driver: StoreSQLite,
		},
		Features: FeaturesConfig{
			HotReload: false,
		},
	}
}

// Validate checks the configuration for mistakes that would only surface at
// request time.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for i, r := range c.Routes {
		if !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("routes[%d]: path %q must start with /", i, r.Path)
		}
		if r.File == "" {
			return fmt.Errorf("routes[%d]: file is required for %s", i, r.Path)
		}
		if strings.Contains(r.File, "..") || filepath.IsAbs(r.File) {
			return fmt.Errorf("routes[%d]: file %q must be relative to the site root", i, r.File)
		}
		if seen[r.Path] {
			return fmt.Errorf("routes[%d]: duplicate path %s", i, r.Path)
		}
		seen[r.Path] = true
	}

	for i, r := range c.Redirects {
		if !strings.HasPrefix(r.From, "/") || r.To == "" {
			return fmt.Errorf("redirects[%d]: from must start with / and to is required", i)
		}
		if s := r.GetStatus(); s < 300 || s > 399 {
			return fmt.Errorf("redirects[%d]: status %d is not a redirect", i, s)
		}
	}

	for _, d := range []struct {
		name  string
		value string
	}{
		{"demo.start_delay", c.Demo.StartDelay},
		{"demo.advance_delay", c.Demo.AdvanceDelay},
		{"demo.finish_delay", c.Demo.FinishDelay},
		{"site.cache_ttl", c.Site.CacheTTL},
	} {
		if d.value == "" {
			continue
		}
		if v, err := time.ParseDuration(d.value); err != nil || v < 0 {
			return fmt.Errorf("%s: invalid duration %q", d.name, d.value)
		}
	}

	for i, s := range c.Demo.Steps {
		if s.Key == "" {
			return fmt.Errorf("demo.steps[%d]: key is required", i)
		}
		for j, cue := range s.Cues {
			if _, err := time.ParseDuration(cue.At); err != nil {
				return fmt.Errorf("demo.steps[%d].cues[%d]: invalid offset %q", i, j, cue.At)
			}
			switch cue.Action {
			case "show-data", "complete-step", "finish-run":
			default:
				return fmt.Errorf("demo.steps[%d].cues[%d]: unknown action %q", i, j, cue.Action)
			}
		}
	}

	switch c.Store.GetDriver() {
	case StoreSQLite, StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("store.driver: unsupported driver %q", c.Store.Driver)
	}

	for i, n := range c.Notify {
		switch n.Type {
		case "slack":
			if n.Channel == "" {
				return fmt.Errorf("notify[%d]: slack channel is required", i)
			}
		case "log":
		default:
			return fmt.Errorf("notify[%d]: unsupported type %q", i, n.Type)
		}
	}

	return nil
}

// Load loads configuration from a YAML file
// If the file doesn't exist, returns the default configuration
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig() // Start with defaults
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// A relative site dir is relative to the config file, not the cwd
	if config.Site.Dir != "" && !filepath.IsAbs(config.Site.Dir) {
		config.Site.Dir = filepath.Join(filepath.Dir(configPath), config.Site.Dir)
	}

	return config, nil
}

// LoadFromDir looks for lawsker.yaml (then lawsker.yml) in the given directory.
// If none is found, returns the default configuration
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{"lawsker.yaml", "lawsker.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return DefaultConfig(), nil
}

// Save writes the configuration to a YAML file
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
