// Package config loads domreplay configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level domreplay configuration.
type Config struct {
	Browser   BrowserConfig   `yaml:"browser"`
	Store     StoreConfig     `yaml:"store"`
	Recording RecordingConfig `yaml:"recording"`
	Transmit  TransmitConfig  `yaml:"transmit"`
	Server    ServerConfig    `yaml:"server"`
	Sinks     []SinkConfig    `yaml:"sinks"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Mode             string        `yaml:"mode"` // headless | headful | plain
	XvfbDisplay      string        `yaml:"xvfb_display"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
}

// StoreConfig locates the record log.
type StoreConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RecordingConfig mirrors the recorder options.
type RecordingConfig struct {
	URL        string `yaml:"url"`
	Session    string `yaml:"session"` // empty = generated
	Write      *bool  `yaml:"write"`   // default true
	SkipClear  bool   `yaml:"skip_clear"`
	Visibility string `yaml:"visibility"` // resume | terminal
	Mode       string `yaml:"mode"`
}

// TransmitConfig enables off-host upload. Empty Endpoint disables it.
type TransmitConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	BatchSize int           `yaml:"batch_size"`
	Interval  time.Duration `yaml:"interval"`
	Retries   int           `yaml:"retries"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ServerConfig controls the replay HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// SinkConfig defines a local output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default is the configuration used without a file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// WriteEnabled reports whether records are appended to the store.
func (r RecordingConfig) WriteEnabled() bool {
	return r.Write == nil || *r.Write
}

func (c *Config) applyDefaults() {
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Store.Path == "" {
		c.Store.Path = "domreplay.db"
	}
	if c.Store.BusyTimeout <= 0 {
		c.Store.BusyTimeout = 5 * time.Second
	}
	if c.Recording.Visibility == "" {
		c.Recording.Visibility = "resume"
	}
	if c.Transmit.BatchSize <= 0 {
		c.Transmit.BatchSize = 64
	}
	if c.Transmit.Interval <= 0 {
		c.Transmit.Interval = time.Second
	}
	if c.Transmit.Retries <= 0 {
		c.Transmit.Retries = 3
	}
	if c.Transmit.Timeout <= 0 {
		c.Transmit.Timeout = 10 * time.Second
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8087"
	}
}

func (c *Config) validate() error {
	switch c.Browser.Mode {
	case "headless", "headful", "plain":
	default:
		return fmt.Errorf("config: browser.mode %q: want headless, headful or plain", c.Browser.Mode)
	}
	switch c.Recording.Visibility {
	case "resume", "terminal":
	default:
		return fmt.Errorf("config: recording.visibility %q: want resume or terminal", c.Recording.Visibility)
	}
	for i, s := range c.Sinks {
		if s.Type != "stdout" {
			return fmt.Errorf("config: sinks[%d].type %q: want stdout", i, s.Type)
		}
	}
	return nil
}
