package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Alice39s/aqua-speed/pkg/models"
)

// Config is the validated, immutable-per-run test configuration. Numeric
// bounds are clamped by Normalize before a run starts; Validate must pass
// before any network I/O happens.
type Config struct {
	// Server is the base URL of the test endpoint.
	Server string `yaml:"server"`
	// Type selects the server dialect: singlefile, librespeed, cloudflare.
	Type string `yaml:"type"`
	// Threads is the configured concurrency hint (clamped to 1..32).
	Threads int `yaml:"threads"`
	// Timeout bounds each individual HTTP request (clamped to 5s..300s).
	Timeout time.Duration `yaml:"timeout"`

	// Convergence parameters for the sampling loop.
	MinTestTime time.Duration `yaml:"min_test_time"`
	MaxTestTime time.Duration `yaml:"max_test_time"`
	TargetError float64       `yaml:"target_error"`
	MinSamples  int           `yaml:"min_samples"`

	// ProgressInterval is the cadence of display-only progress callbacks.
	ProgressInterval time.Duration `yaml:"progress_interval"`

	// AcceptAnyStatus keeps the availability probe's relaxed gate: any
	// HTTP response, 4xx included, counts as reachable. When false the
	// probe requires a 2xx/3xx status.
	AcceptAnyStatus bool `yaml:"accept_any_status"`

	// NoUpload skips the upload phase entirely.
	NoUpload bool `yaml:"no_upload"`

	// LogLevel is the zerolog level name (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	dialect models.Dialect
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Type:             models.DialectCloudflare.String(),
		Server:           "https://speed.cloudflare.com",
		Threads:          4,
		Timeout:          30 * time.Second,
		MinTestTime:      5 * time.Second,
		MaxTestTime:      30 * time.Second,
		TargetError:      0.05,
		MinSamples:       5,
		ProgressInterval: 200 * time.Millisecond,
		AcceptAnyStatus:  true,
		LogLevel:         "info",
	}
}

// Load reads configuration from a YAML file, creating it with defaults
// when missing.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := Save(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to check config file: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes configuration to a YAML file.
func Save(configPath string, cfg *Config) error {
	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Normalize clamps numeric fields to sane ranges and fills zero values
// with defaults.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Threads < 1 {
		c.Threads = def.Threads
	}
	if c.Threads > 32 {
		c.Threads = 32
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.Timeout < 5*time.Second {
		c.Timeout = 5 * time.Second
	}
	if c.Timeout > 300*time.Second {
		c.Timeout = 300 * time.Second
	}
	if c.MinTestTime <= 0 {
		c.MinTestTime = def.MinTestTime
	}
	if c.MaxTestTime <= 0 {
		c.MaxTestTime = def.MaxTestTime
	}
	if c.TargetError <= 0 {
		c.TargetError = def.TargetError
	}
	if c.MinSamples <= 0 {
		c.MinSamples = def.MinSamples
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = def.ProgressInterval
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

// Validate checks the configuration before any network I/O. It parses
// and caches the dialect so later Dialect calls cannot fail.
func (c *Config) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("server URL is required")
	}
	u, err := url.Parse(c.Server)
	if err != nil {
		return fmt.Errorf("invalid server URL %q: %w", c.Server, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server URL %q must use http or https", c.Server)
	}
	if u.Host == "" {
		return fmt.Errorf("server URL %q has no host", c.Server)
	}

	d, err := models.ParseDialect(c.Type)
	if err != nil {
		return err
	}
	c.dialect = d

	if d == models.DialectSingleFile && !c.NoUpload {
		return fmt.Errorf("dialect %s does not support upload; set no_upload", d)
	}

	if c.TargetError <= 0 || c.TargetError > 1 {
		return fmt.Errorf("target_error must be in (0, 1], got %v", c.TargetError)
	}
	if c.MinTestTime > c.MaxTestTime {
		return fmt.Errorf("min_test_time %v exceeds max_test_time %v", c.MinTestTime, c.MaxTestTime)
	}
	return nil
}

// Dialect returns the dialect parsed by Validate.
func (c *Config) Dialect() models.Dialect { return c.dialect }

// ServerURL returns the parsed server URL. Validate must have passed.
func (c *Config) ServerURL() *url.URL {
	u, _ := url.Parse(c.Server)
	return u
}
