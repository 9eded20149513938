// Package config loads the mediator's own settings: where the user config
// document lives, the index version stamped into it, engine directories,
// disk thresholds, logging and metrics.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultIndexVersion is stamped into user configs that carry none.
	DefaultIndexVersion = "v1"

	// DefaultUserConfigFileName is the config document name inside DataDir.
	DefaultUserConfigFileName = "search_users_config.json"

	envPrefix = "SWIFTSEARCH_"
)

// Config represents the complete mediator configuration.
type Config struct {
	Version int `yaml:"version" json:"version"`

	// DataDir is the root for every file the mediator writes.
	// Default: ~/.swiftsearch
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// UserConfigFile is the per-user JSON document. Empty means
	// <DataDir>/search_users_config.json.
	UserConfigFile string `yaml:"user_config_file" json:"user_config_file"`

	// IndexVersion is stamped into user configs written without one.
	IndexVersion string `yaml:"index_version" json:"index_version"`

	Search  SearchConfig  `yaml:"search" json:"search"`
	Disk    DiskConfig    `yaml:"disk" json:"disk"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// SearchConfig configures the bleve-backed engine.
type SearchConfig struct {
	// IndexDir holds one main index per user. Empty means <DataDir>/data/search_index.
	IndexDir string `yaml:"index_dir" json:"index_dir"`
	// RealTimeDir holds one real-time index per user. Empty means <DataDir>/data/realtime_index.
	RealTimeDir string `yaml:"realtime_dir" json:"realtime_dir"`
	// DefaultLimit is used when a search carries no limit.
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`
	// MaxLimit caps the page size of a single search.
	MaxLimit int `yaml:"max_limit" json:"max_limit"`
}

// DiskConfig configures the free-space probe.
type DiskConfig struct {
	MinFreeMB int `yaml:"min_free_mb" json:"min_free_mb"`
}

// LoggingConfig configures the slog setup.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	File   string `yaml:"file" json:"file"`
	Stderr bool   `yaml:"stderr" json:"stderr"`
}

// MetricsConfig configures the optional Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `yaml:"addr" json:"addr"`
}

// NewConfig creates a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version:      1,
		DataDir:      defaultDataDir(),
		IndexVersion: DefaultIndexVersion,
		Search: SearchConfig{
			DefaultLimit: 25,
			MaxLimit:     500,
		},
		Disk: DiskConfig{
			MinFreeMB: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Stderr: true,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".swiftsearch")
	}
	return filepath.Join(home, ".swiftsearch")
}

// GetUserConfigPath returns the path of the user-level settings file:
//   - $XDG_CONFIG_HOME/swiftsearch/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/swiftsearch/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "swiftsearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "swiftsearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "swiftsearch", "config.yaml")
}

// Load builds the configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/swiftsearch/config.yaml)
//  3. The explicit file at path, when path is non-empty
//  4. Environment variables (SWIFTSEARCH_*)
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if path != "" {
		if !fileExists(path) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadYAML parses path and merges its non-zero values into c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed, loggingKeySet(data, "stderr"))
	return nil
}

// loggingKeySet reports whether the logging section sets key at all, so an explicit
// `stderr: false` can override the default.
func loggingKeySet(data []byte, key string) bool {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return false
	}
	logging, ok := raw["logging"].(map[string]any)
	if !ok {
		return false
	}
	_, ok = logging[key]
	return ok
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config, stderrSet bool) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = expandHome(other.DataDir)
	}
	if other.UserConfigFile != "" {
		c.UserConfigFile = expandHome(other.UserConfigFile)
	}
	if other.IndexVersion != "" {
		c.IndexVersion = other.IndexVersion
	}

	if other.Search.IndexDir != "" {
		c.Search.IndexDir = expandHome(other.Search.IndexDir)
	}
	if other.Search.RealTimeDir != "" {
		c.Search.RealTimeDir = expandHome(other.Search.RealTimeDir)
	}
	if other.Search.DefaultLimit != 0 {
		c.Search.DefaultLimit = other.Search.DefaultLimit
	}
	if other.Search.MaxLimit != 0 {
		c.Search.MaxLimit = other.Search.MaxLimit
	}

	if other.Disk.MinFreeMB != 0 {
		c.Disk.MinFreeMB = other.Disk.MinFreeMB
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.File != "" {
		c.Logging.File = expandHome(other.Logging.File)
	}
	if stderrSet {
		c.Logging.Stderr = other.Logging.Stderr
	}

	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}
}

// applyEnvOverrides applies SWIFTSEARCH_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(envPrefix + "DATA_DIR"); v != "" {
		c.DataDir = expandHome(v)
	}
	if v := os.Getenv(envPrefix + "USER_CONFIG_FILE"); v != "" {
		c.UserConfigFile = expandHome(v)
	}
	if v := os.Getenv(envPrefix + "INDEX_VERSION"); v != "" {
		c.IndexVersion = v
	}
	if v := os.Getenv(envPrefix + "MIN_FREE_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Disk.MinFreeMB = n
		}
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(envPrefix + "LOG_FILE"); v != "" {
		c.Logging.File = expandHome(v)
	}
	if v := os.Getenv(envPrefix + "LOG_STDERR"); v != "" {
		c.Logging.Stderr = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv(envPrefix + "METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
}

// Validate checks the configuration for values the mediator cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if strings.TrimSpace(c.IndexVersion) == "" {
		return fmt.Errorf("index_version cannot be empty")
	}
	if c.Search.DefaultLimit <= 0 {
		return fmt.Errorf("search.default_limit must be positive, got %d", c.Search.DefaultLimit)
	}
	if c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("search.max_limit (%d) must be >= search.default_limit (%d)",
			c.Search.MaxLimit, c.Search.DefaultLimit)
	}
	if c.Disk.MinFreeMB < 0 {
		return fmt.Errorf("disk.min_free_mb cannot be negative")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	return nil
}

// UserConfigPath returns the resolved config document path.
func (c *Config) UserConfigPath() string {
	if c.UserConfigFile != "" {
		return c.UserConfigFile
	}
	return filepath.Join(c.DataDir, DefaultUserConfigFileName)
}

// IndexDir returns the resolved main index root.
func (c *Config) IndexDir() string {
	if c.Search.IndexDir != "" {
		return c.Search.IndexDir
	}
	return filepath.Join(c.DataDir, "data", "search_index")
}

// RealTimeDir returns the resolved real-time index root.
func (c *Config) RealTimeDir() string {
	if c.Search.RealTimeDir != "" {
		return c.Search.RealTimeDir
	}
	return filepath.Join(c.DataDir, "data", "realtime_index")
}

// MinFreeBytes returns the disk threshold in bytes.
func (c *Config) MinFreeBytes() uint64 {
	return uint64(c.Disk.MinFreeMB) * 1024 * 1024
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
