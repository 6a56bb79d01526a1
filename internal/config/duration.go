package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// rawConfig mirrors Config with durations as strings so config files can
// say "30s" or "1m" instead of nanosecond integers.
type rawConfig struct {
	Server           string  `yaml:"server"`
	Type             string  `yaml:"type"`
	Threads          int     `yaml:"threads"`
	Timeout          string  `yaml:"timeout"`
	MinTestTime      string  `yaml:"min_test_time"`
	MaxTestTime      string  `yaml:"max_test_time"`
	TargetError      float64 `yaml:"target_error"`
	MinSamples       int     `yaml:"min_samples"`
	ProgressInterval string  `yaml:"progress_interval"`
	AcceptAnyStatus  *bool   `yaml:"accept_any_status"`
	NoUpload         bool    `yaml:"no_upload"`
	LogLevel         string  `yaml:"log_level"`
}

// UnmarshalYAML decodes duration fields from their string form.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var raw rawConfig
	if err := node.Decode(&raw); err != nil {
		return err
	}

	if raw.Server != "" {
		c.Server = raw.Server
	}
	if raw.Type != "" {
		c.Type = raw.Type
	}
	if raw.Threads != 0 {
		c.Threads = raw.Threads
	}
	if raw.TargetError != 0 {
		c.TargetError = raw.TargetError
	}
	if raw.MinSamples != 0 {
		c.MinSamples = raw.MinSamples
	}
	if raw.AcceptAnyStatus != nil {
		c.AcceptAnyStatus = *raw.AcceptAnyStatus
	}
	if raw.LogLevel != "" {
		c.LogLevel = raw.LogLevel
	}
	c.NoUpload = c.NoUpload || raw.NoUpload

	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"timeout", raw.Timeout, &c.Timeout},
		{"min_test_time", raw.MinTestTime, &c.MinTestTime},
		{"max_test_time", raw.MaxTestTime, &c.MaxTestTime},
		{"progress_interval", raw.ProgressInterval, &c.ProgressInterval},
	} {
		d, err := parseDurationField(f.name, f.raw)
		if err != nil {
			return err
		}
		if d > 0 {
			*f.dst = d
		}
	}
	return nil
}

// MarshalYAML writes duration fields back in their string form.
func (c Config) MarshalYAML() (interface{}, error) {
	accept := c.AcceptAnyStatus
	return rawConfig{
		Server:           c.Server,
		Type:             c.Type,
		Threads:          c.Threads,
		Timeout:          c.Timeout.String(),
		MinTestTime:      c.MinTestTime.String(),
		MaxTestTime:      c.MaxTestTime.String(),
		TargetError:      c.TargetError,
		MinSamples:       c.MinSamples,
		ProgressInterval: c.ProgressInterval.String(),
		AcceptAnyStatus:  &accept,
		NoUpload:         c.NoUpload,
		LogLevel:         c.LogLevel,
	}, nil
}

func parseDurationField(name, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", name, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", name)
	}
	return d, nil
}
