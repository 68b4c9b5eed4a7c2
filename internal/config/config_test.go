package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemoConfigDelays(t *testing.T) {
	tests := []struct {
		name    string
		cfg     DemoConfig
		start   time.Duration
		advance time.Duration
		finish  time.Duration
	}{
		{"defaults", DemoConfig{}, time.Second, 3 * time.Second, 2 * time.Second},
		{"explicit", DemoConfig{StartDelay: "10ms", AdvanceDelay: "20ms", FinishDelay: "30ms"}, 10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond},
		{"invalid falls back", DemoConfig{StartDelay: "soon"}, time.Second, 3 * time.Second, 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetStartDelay(); got != tt.start {
				t.Errorf("GetStartDelay() = %v, want %v", got, tt.start)
			}
			if got := tt.cfg.GetAdvanceDelay(); got != tt.advance {
				t.Errorf("GetAdvanceDelay() = %v, want %v", got, tt.advance)
			}
			if got := tt.cfg.GetFinishDelay(); got != tt.finish {
				t.Errorf("GetFinishDelay() = %v, want %v", got, tt.finish)
			}
		})
	}
}

func TestSiteConfigGetCacheTTL(t *testing.T) {
	tests := []struct {
		ttl      string
		expected time.Duration
	}{
		{"", 0},
		{"invalid", 0},
		{"1m", time.Minute},
		{"30s", 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.ttl, func(t *testing.T) {
			cfg := SiteConfig{CacheTTL: tt.ttl}
			if got := cfg.GetCacheTTL(); got != tt.expected {
				t.Errorf("GetCacheTTL() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestStoreConfigDefaults(t *testing.T) {
	var cfg StoreConfig
	assert.Equal(t, StoreSQLite, cfg.GetDriver())
	assert.Equal(t, "./lawsker.db", cfg.GetDSN())
	assert.Equal(t, 3, cfg.GetRetryMaxRetries())
	assert.Equal(t, 50*time.Millisecond, cfg.GetRetryBaseDelay())
	assert.Equal(t, 2*time.Second, cfg.GetRetryMaxDelay())

	cfg = StoreConfig{Driver: "Postgres", DSN: "postgres://${LAWSKER_TEST_PGHOST}/demo"}
	t.Setenv("LAWSKER_TEST_PGHOST", "db.internal")
	assert.Equal(t, StorePostgres, cfg.GetDriver())
	assert.Equal(t, "postgres://db.internal/demo", cfg.GetDSN())

	cfg = StoreConfig{Retry: &RetryConfig{MaxRetries: 0, BaseDelay: "5ms", MaxDelay: "1s"}}
	assert.Equal(t, 0, cfg.GetRetryMaxRetries(), "zero disables retries")
	assert.Equal(t, 5*time.Millisecond, cfg.GetRetryBaseDelay())
	assert.Equal(t, time.Second, cfg.GetRetryMaxDelay())
}

func TestRedirectDefaultStatus(t *testing.T) {
	assert.Equal(t, 301, RedirectConfig{From: "/a", To: "/b"}.GetStatus())
	assert.Equal(t, 302, RedirectConfig{From: "/a", To: "/b", Status: 302}.GetStatus())
}

func TestAPIConfigDefaults(t *testing.T) {
	var nilCfg *APIConfig
	assert.Nil(t, nilCfg.GetCORSOrigins())
	assert.Equal(t, float64(10), nilCfg.GetRateLimitRPS())
	assert.Equal(t, 20, nilCfg.GetRateLimitBurst())
	assert.Equal(t, 10000, nilCfg.GetMaxTrackedIPs())

	cfg := &APIConfig{
		CORS:      &CORSConfig{Origins: []string{"*"}},
		RateLimit: &RateLimitConfig{RequestsPerSecond: 2, Burst: 4, MaxTrackedIPs: 50},
	}
	assert.Equal(t, []string{"*"}, cfg.GetCORSOrigins())
	assert.Equal(t, float64(2), cfg.GetRateLimitRPS())
	assert.Equal(t, 4, cfg.GetRateLimitBurst())
	assert.Equal(t, 50, cfg.GetMaxTrackedIPs())
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	paths := make(map[string]string)
	for _, r := range cfg.Routes {
		paths[r.Path] = r.File
	}
	assert.Equal(t, "lawyer-workspace.html", paths["/legal"])
	assert.Equal(t, "earnings-calculator.html", paths["/calculator"])
	assert.Equal(t, "admin-config.html", paths["/admin-pro"])
	assert.Equal(t, []RedirectConfig{{From: "/sales", To: "/user", Status: 301}}, cfg.Redirects)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"relative route path", func(c *Config) { c.Routes = []RouteConfig{{Path: "legal", File: "a.html"}} }, "must start with /"},
		{"missing file", func(c *Config) { c.Routes = []RouteConfig{{Path: "/a"}} }, "file is required"},
		{"escaping file", func(c *Config) { c.Routes = []RouteConfig{{Path: "/a", File: "../etc/passwd"}} }, "relative to the site root"},
		{"duplicate path", func(c *Config) {
			c.Routes = []RouteConfig{{Path: "/a", File: "a.html"}, {Path: "/a", File: "b.html"}}
		}, "duplicate path"},
		{"bad redirect status", func(c *Config) { c.Redirects = []RedirectConfig{{From: "/a", To: "/b", Status: 200}} }, "not a redirect"},
		{"bad delay", func(c *Config) { c.Demo.AdvanceDelay = "fast" }, "demo.advance_delay"},
		{"negative delay", func(c *Config) { c.Demo.StartDelay = "-1s" }, "demo.start_delay"},
		{"step without key", func(c *Config) { c.Demo.Steps = []StepConfig{{Title: "x"}} }, "key is required"},
		{"bad cue action", func(c *Config) {
			c.Demo.Steps = []StepConfig{{Key: "a", Cues: []CueConfig{{At: "1s", Action: "explode"}}}}
		}, "unknown action"},
		{"bad cue offset", func(c *Config) {
			c.Demo.Steps = []StepConfig{{Key: "a", Cues: []CueConfig{{At: "later", Action: "show-data"}}}}
		}, "invalid offset"},
		{"bad store", func(c *Config) { c.Store.Driver = "redis" }, "unsupported driver"},
		{"slack without channel", func(c *Config) { c.Notify = []NotifyConfig{{Type: "slack"}} }, "channel is required"},
		{"unknown notify", func(c *Config) { c.Notify = []NotifyConfig{{Type: "pager"}} }, "unsupported type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	content := `
title: Lawsker Staging
server:
  port: 9090
site:
  dir: site
routes:
  - path: /
    file: home.html
  - path: /legal
    file: legal.html
demo:
  advance_delay: 500ms
  steps:
    - key: publish
      title: Publish
      cues:
        - at: 1s
          action: complete-step
store:
  driver: memory
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lawsker.yaml"), []byte(content), 0644))

	cfg, err := LoadFromDir(dir)
	require.NoError(t, err)

	assert.Equal(t, "Lawsker Staging", cfg.Title)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host, "unset fields keep defaults")
	assert.Equal(t, filepath.Join(dir, "site"), cfg.Site.Dir)
	assert.Len(t, cfg.Routes, 2, "routes replace the default table")
	assert.Equal(t, 500*time.Millisecond, cfg.Demo.GetAdvanceDelay())
	require.Len(t, cfg.Demo.Steps, 1)
	assert.Equal(t, "complete-step", cfg.Demo.Steps[0].Cues[0].Action)
	assert.Equal(t, StoreMemory, cfg.Store.GetDriver())
	assert.NoError(t, cfg.Validate())
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lawsker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lawsker.yaml")
	cfg := DefaultConfig()
	cfg.Server.Port = 7070
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, loaded.Server.Port)
	assert.Equal(t, cfg.Routes, loaded.Routes)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("LAWSKER_HOST", "0.0.0.0")
	t.Setenv("LAWSKER_PORT", "3000")
	t.Setenv("LAWSKER_DEBUG", "true")
	t.Setenv("LAWSKER_STORE_DRIVER", "memory")
	t.Setenv("LAWSKER_HOT_RELOAD", "true")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.True(t, cfg.Server.Debug)
	assert.Equal(t, StoreMemory, cfg.Store.GetDriver())
	assert.True(t, cfg.Features.HotReload)
	assert.Equal(t, "", cfg.Site.Dir, "unset variables leave config untouched")
}

func TestApplyEnvInvalidPort(t *testing.T) {
	t.Setenv("LAWSKER_PORT", "not-a-number")
	cfg := DefaultConfig()
	assert.Error(t, cfg.ApplyEnv())
}
