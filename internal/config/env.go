package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvOverrides are the settings that can be supplied through the environment.
// Unset variables leave the file configuration untouched.
type EnvOverrides struct {
	Host        string `env:"LAWSKER_HOST"`
	Port        int    `env:"LAWSKER_PORT"`
	Debug       *bool  `env:"LAWSKER_DEBUG"`
	SiteDir     string `env:"LAWSKER_SITE_DIR"`
	StoreDriver string `env:"LAWSKER_STORE_DRIVER"`
	StoreDSN    string `env:"LAWSKER_STORE_DSN"`
	HotReload   *bool  `env:"LAWSKER_HOT_RELOAD"`
}

// ParseEnv loads EnvOverrides from the process environment.
func ParseEnv() (EnvOverrides, error) {
	var o EnvOverrides
	if err := env.Parse(&o); err != nil {
		return o, fmt.Errorf("parse env: %w", err)
	}
	return o, nil
}

// ApplyEnv parses the environment and applies any overrides to c.
func (c *Config) ApplyEnv() error {
	o, err := ParseEnv()
	if err != nil {
		return err
	}
	c.applyOverrides(o)
	return nil
}

func (c *Config) applyOverrides(o EnvOverrides) {
	if o.Host != "" {
		c.Server.Host = o.Host
	}
	if o.Port != 0 {
		c.Server.Port = o.Port
	}
	if o.Debug != nil {
		c.Server.Debug = *o.Debug
	}
	if o.SiteDir != "" {
		c.Site.Dir = o.SiteDir
	}
	if o.StoreDriver != "" {
		c.Store.Driver = o.StoreDriver
	}
	if o.StoreDSN != "" {
		c.Store.DSN = o.StoreDSN
	}
	if o.HotReload != nil {
		c.Features.HotReload = *o.HotReload
	}
}
