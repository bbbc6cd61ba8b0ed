package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/gg/gptr"
	"github.com/bytedance/sonic"
)

type (
	Config struct {
		Server  ServerConfig  `yaml:"server"`
		Logging LoggingConfig `yaml:"logging"`
		Runner  RunnerConfig  `yaml:"runner"`
	}

	ServerConfig struct {
		Bind           string `yaml:"bind"`
		RequestTimeout int    `yaml:"request_timeout"` // seconds
		APIKey         string `yaml:"api_key,omitempty"`
		MetricsBind    string `yaml:"metrics_bind,omitempty"` // empty disables the metrics listener
		MetricsPath    string `yaml:"metrics_path,omitempty"`
	}

	LoggingConfig struct {
		Level      string `yaml:"level"`  // debug, info, warn, error
		Format     string `yaml:"format"` // json, text
		Output     string `yaml:"output"` // stdout, stderr, file, both
		File       string `yaml:"file,omitempty"`
		MaxSize    int    `yaml:"max_size,omitempty"` // MB
		MaxBackups int    `yaml:"max_backups,omitempty"`
		MaxAge     int    `yaml:"max_age,omitempty"` // days
	}

	RunnerConfig struct {
		WorkspaceRoot        string                   `yaml:"workspace_root"`
		Restricted           bool                     `yaml:"restricted"`
		TimeoutSec           int                      `yaml:"timeout_sec"`
		RestrictedTimeoutSec int                      `yaml:"restricted_timeout_sec"`
		GracePeriodMS        *int                     `yaml:"grace_period_ms"` // 0 kills at once, unset means the default
		MaxOutputBytes       int                      `yaml:"max_output_bytes"`
		MaxConcurrent        int                      `yaml:"max_concurrent"` // 0 means unlimited
		Retention            string                   `yaml:"retention"`
		ReapSchedule         string                   `yaml:"reap_schedule"`
		PortBaseline         int                      `yaml:"port_baseline"`
		Runtimes             map[string]RuntimeConfig `yaml:"runtimes,omitempty"`
	}

	RuntimeConfig struct {
		Command           []string `yaml:"command"`
		VersionConstraint string   `yaml:"version_constraint,omitempty"`
	}
)

// RetentionDuration returns the parsed retention window. Validate guarantees
// the value parses.
func (r RunnerConfig) RetentionDuration() time.Duration {
	d, _ := time.ParseDuration(r.Retention)
	return d
}

// GracePeriod is the pause between the stop request and the forced kill.
func (r RunnerConfig) GracePeriod() time.Duration {
	return time.Duration(gptr.Indirect(r.GracePeriodMS)) * time.Millisecond
}

// Default returns a config with every default filled in.
func Default() *Config {
	cfg := &Config{}
	_ = cfg.Validate()
	return cfg
}

// UpdateByName replaces one top-level section.
func (c *Config) UpdateByName(name string, value any) error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return fmt.Errorf("name is required")
	case "config":
		typed, ok := value.(*Config)
		if !ok || typed == nil {
			return fmt.Errorf("name 'config' requires *Config")
		}
		*c = *typed
	case "server":
		typed, ok := value.(*ServerConfig)
		if !ok || typed == nil {
			return fmt.Errorf("name 'server' requires *ServerConfig")
		}
		c.Server = *typed
	case "logging":
		typed, ok := value.(*LoggingConfig)
		if !ok || typed == nil {
			return fmt.Errorf("name 'logging' requires *LoggingConfig")
		}
		c.Logging = *typed
	case "runner":
		typed, ok := value.(*RunnerConfig)
		if !ok || typed == nil {
			return fmt.Errorf("name 'runner' requires *RunnerConfig")
		}
		c.Runner = *typed
	default:
		return fmt.Errorf("unsupported config name: %s", name)
	}
	return nil
}

func (c *Config) Clone() (*Config, error) {
	if c == nil {
		return nil, fmt.Errorf("config is nil")
	}

	raw, err := sonic.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var cloned Config
	if err := sonic.Unmarshal(raw, &cloned); err != nil {
		return nil, fmt.Errorf("unmarshal config clone: %w", err)
	}
	return &cloned, nil
}

func (c *Config) Hash() string {
	json := sonic.Config{SortMapKeys: true, UseNumber: true}.Froze()
	raw, _ := json.Marshal(c)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
