// Package config loads runtime settings from defaults, an optional YAML file,
// a .env file and AGENTFLOW_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ineilsen/agent-builder-sub002/internal/layout"
)

const EnvPrefix = "AGENTFLOW"

// DefaultAPIBase is the agent network server's REST root.
var DefaultAPIBase = "http://localhost:4173/api/v1"

type Config struct {
	APIBase          string        `yaml:"api_base" mapstructure:"api_base"`
	WSBase           string        `yaml:"ws_base" mapstructure:"ws_base"`
	DialTimeout      time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	CachePath        string        `yaml:"cache_path" mapstructure:"cache_path"`
	TraceDatabaseURL string        `yaml:"trace_database_url" mapstructure:"trace_database_url"`
	LogLevel         string        `yaml:"log_level" mapstructure:"log_level"`
	MetricsAddr      string        `yaml:"metrics_addr" mapstructure:"metrics_addr"`
	ActiveAgentClear time.Duration `yaml:"active_agent_clear" mapstructure:"active_agent_clear"`
	Layout           Layout        `yaml:"layout" mapstructure:"layout"`
}

type Layout struct {
	BaseRadius   float64 `yaml:"base_radius" mapstructure:"base_radius"`
	LevelSpacing float64 `yaml:"level_spacing" mapstructure:"level_spacing"`
	FreeSpacing  float64 `yaml:"free_spacing" mapstructure:"free_spacing"`
	CanvasWidth  float64 `yaml:"canvas_width" mapstructure:"canvas_width"`
	CanvasHeight float64 `yaml:"canvas_height" mapstructure:"canvas_height"`
}

func setDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	v.SetDefault("api_base", DefaultAPIBase)
	v.SetDefault("ws_base", "")
	v.SetDefault("dial_timeout", "5s")
	v.SetDefault("cache_path", filepath.Join(home, ".agentflow", "cache.db"))
	v.SetDefault("trace_database_url", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("active_agent_clear", "2s")
	v.SetDefault("layout.base_radius", 150)
	v.SetDefault("layout.level_spacing", 200)
	v.SetDefault("layout.free_spacing", 100)
	v.SetDefault("layout.canvas_width", 1200)
	v.SetDefault("layout.canvas_height", 800)
}

// Load reads configuration. configFile may be empty; envFile is loaded when
// it exists and never overrides variables already set in the environment.
func Load(configFile, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("env file", "path", envFile, "error", err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.WSBase == "" {
		cfg.WSBase = WSBaseFor(cfg.APIBase)
	}
	cfg.WSBase = strings.TrimRight(cfg.WSBase, "/")
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WSBaseFor derives the websocket root from a REST root:
// http://host/api/v1 becomes ws://host/api/v1/ws.
func WSBaseFor(apiBase string) string {
	u := strings.TrimRight(apiBase, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + u[len("https://"):]
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + u[len("http://"):]
	}
	return u + "/ws"
}

func (c *Config) validate() error {
	if !strings.HasPrefix(c.APIBase, "http://") && !strings.HasPrefix(c.APIBase, "https://") {
		return fmt.Errorf("api_base must be an http(s) url, got %q", c.APIBase)
	}
	if !strings.HasPrefix(c.WSBase, "ws://") && !strings.HasPrefix(c.WSBase, "wss://") {
		return fmt.Errorf("ws_base must be a ws(s) url, got %q", c.WSBase)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be positive, got %s", c.DialTimeout)
	}
	if c.Layout.CanvasWidth <= 0 || c.Layout.CanvasHeight <= 0 {
		return fmt.Errorf("layout canvas must be positive, got %gx%g", c.Layout.CanvasWidth, c.Layout.CanvasHeight)
	}
	return nil
}

// SlogLevel maps log_level onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func (c *Config) LayoutOptions() layout.Options {
	opts := layout.DefaultOptions(c.Layout.CanvasWidth, c.Layout.CanvasHeight)
	if c.Layout.BaseRadius > 0 {
		opts.BaseRadius = c.Layout.BaseRadius
	}
	if c.Layout.LevelSpacing > 0 {
		opts.LevelSpacing = c.Layout.LevelSpacing
	}
	if c.Layout.FreeSpacing > 0 {
		opts.FreeSpacing = c.Layout.FreeSpacing
	}
	return opts
}
