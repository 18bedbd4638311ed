// Package config loads control-plane settings: flags beat environment beats
// config file beats defaults. Every port involved has exactly one source of
// truth with a documented default.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "SLIPWAY"

// Config is the control plane's runtime configuration.
type Config struct {
	// ListenPort is the API's own port, overridable via SLIPWAY_LISTEN_PORT.
	ListenPort int `mapstructure:"listen_port"`
	// ProxyDomain is the suffix the preview proxy routes app subdomains
	// under, e.g. "localhost" serves crawler-api.localhost.
	ProxyDomain string `mapstructure:"proxy_domain"`
	// BuildWorkers bounds concurrent builds.
	BuildWorkers int `mapstructure:"build_workers"`
	// BuildBacklog bounds queued builds before the API starts refusing.
	BuildBacklog int `mapstructure:"build_backlog"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from the optional file plus SLIPWAY_* variables.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetDefault("listen_port", 3000)
	v.SetDefault("proxy_domain", "localhost")
	v.SetDefault("build_workers", 2)
	v.SetDefault("build_backlog", 16)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("listen_port %d out of range", c.ListenPort)
	}
	if c.BuildWorkers < 1 {
		return fmt.Errorf("build_workers must be at least 1, got %d", c.BuildWorkers)
	}
	if c.BuildBacklog < 1 {
		return fmt.Errorf("build_backlog must be at least 1, got %d", c.BuildBacklog)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}
