package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultAPI is the backend address used when none is configured.
const DefaultAPI = "http://localhost:8000"

// Config represents the client configuration persisted in ~/.wingdesk/config.yaml.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	History HistoryConfig `yaml:"history"`
	Editor  string        `yaml:"editor,omitempty"`

	// Dir is the directory the config was loaded from. Not persisted.
	Dir string `yaml:"-"`
}

type ServerConfig struct {
	API       string  `yaml:"api"`
	WS        string  `yaml:"ws,omitempty"`      // derived from API when empty
	Timeout   string  `yaml:"timeout,omitempty"` // e.g. "30s"
	RateLimit float64 `yaml:"rate_limit,omitempty"`
	RateBurst int     `yaml:"rate_burst,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

type HistoryConfig struct {
	Path     string `yaml:"path,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			API:       DefaultAPI,
			Timeout:   "30s",
			RateLimit: 10,
			RateBurst: 20,
		},
		Logging: LoggingConfig{Level: "warn"},
	}
}

// Load reads the config from dir/config.yaml. A missing file yields defaults.
func Load(dir string) (*Config, error) {
	cfg := Default()
	cfg.Dir = dir

	data, err := os.ReadFile(Path(dir))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Override with environment variables if present
	if v := os.Getenv("WD_SERVER"); v != "" {
		cfg.Server.API = v
	}
	if v := os.Getenv("WD_WS"); v != "" {
		cfg.Server.WS = v
	}
	if v := os.Getenv("WD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Save writes the config back to its directory.
func (c *Config) Save() error {
	if err := EnsureDir(c.Dir); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(Path(c.Dir), data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.API == "" {
		return fmt.Errorf("server.api is required")
	}
	u, err := url.Parse(c.Server.API)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server.api must be an http(s) URL, got %q", c.Server.API)
	}
	if c.Server.WS != "" {
		u, err := url.Parse(c.Server.WS)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fmt.Errorf("server.ws must be a ws(s) URL, got %q", c.Server.WS)
		}
	}
	if c.Server.Timeout != "" {
		if _, err := time.ParseDuration(c.Server.Timeout); err != nil {
			return fmt.Errorf("server.timeout: %w", err)
		}
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	return nil
}

// APIBase returns the REST base URL without a trailing slash.
func (c *Config) APIBase() string {
	return strings.TrimRight(c.Server.API, "/")
}

// WSBase returns the real-time base URL, deriving ws:// or wss:// from the API URL.
func (c *Config) WSBase() string {
	if c.Server.WS != "" {
		return strings.TrimRight(c.Server.WS, "/")
	}
	base := c.APIBase()
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base
}

// RequestTimeout returns the per-request timeout, 30s when unset.
func (c *Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// HistoryPath returns the sqlite path for local transcripts.
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return HistoryFile(c.Dir)
}

// EditorCommand returns the editor used by the shell's edit command.
func (c *Config) EditorCommand() string {
	if c.Editor != "" {
		return c.Editor
	}
	if e := os.Getenv("EDITOR"); e != "" {
		return e
	}
	return "vi"
}
