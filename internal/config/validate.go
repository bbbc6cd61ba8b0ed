package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/gg/gptr"

	"github.com/tgifai/launchpad/internal/consts"
)

const (
	defaultBind                 = "127.0.0.1:8090"
	defaultRequestTimeoutSec    = 30
	defaultMetricsPath          = "/metrics"
	defaultTimeoutSec           = 60
	defaultRestrictedTimeoutSec = 15
	defaultGracePeriodMS        = 2000
	defaultMaxOutputBytes       = 1 << 20
	defaultRetention            = "1h"
	defaultReapSchedule         = "@every 1m"
	defaultPortBaseline         = 5000
)

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config cannot be nil")
	}

	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultBind
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = defaultRequestTimeoutSec
	}
	c.Server.MetricsBind = strings.TrimSpace(c.Server.MetricsBind)
	if c.Server.MetricsBind != "" && strings.TrimSpace(c.Server.MetricsPath) == "" {
		c.Server.MetricsPath = defaultMetricsPath
	}

	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Logging.Output) == "" {
		c.Logging.Output = "stdout"
	}
	switch c.Logging.Output {
	case "file", "both":
		if strings.TrimSpace(c.Logging.File) == "" {
			c.Logging.File = consts.DefaultLogFile()
		}
	}

	if err := c.Runner.Validate(); err != nil {
		return fmt.Errorf("runner: %w", err)
	}
	return nil
}

func (r *RunnerConfig) Validate() error {
	r.WorkspaceRoot = strings.TrimSpace(r.WorkspaceRoot)
	if r.WorkspaceRoot == "" {
		r.WorkspaceRoot = consts.DefaultWorkspaceRoot()
	}
	if r.TimeoutSec <= 0 {
		r.TimeoutSec = defaultTimeoutSec
	}
	if r.RestrictedTimeoutSec <= 0 {
		r.RestrictedTimeoutSec = defaultRestrictedTimeoutSec
	}
	if r.RestrictedTimeoutSec > r.TimeoutSec {
		r.RestrictedTimeoutSec = r.TimeoutSec
	}
	if r.GracePeriodMS == nil {
		r.GracePeriodMS = gptr.Of(defaultGracePeriodMS)
	}
	if *r.GracePeriodMS < 0 {
		return errors.New("grace_period_ms cannot be negative")
	}
	if r.MaxOutputBytes <= 0 {
		r.MaxOutputBytes = defaultMaxOutputBytes
	}
	if r.MaxConcurrent < 0 {
		return errors.New("max_concurrent cannot be negative")
	}

	r.Retention = strings.TrimSpace(r.Retention)
	if r.Retention == "" {
		r.Retention = defaultRetention
	}
	if d, err := time.ParseDuration(r.Retention); err != nil || d <= 0 {
		return fmt.Errorf("invalid retention %q", r.Retention)
	}

	r.ReapSchedule = strings.TrimSpace(r.ReapSchedule)
	if r.ReapSchedule == "" {
		r.ReapSchedule = defaultReapSchedule
	}

	if r.PortBaseline <= 0 {
		r.PortBaseline = defaultPortBaseline
	}
	if r.PortBaseline > 65535 {
		return fmt.Errorf("port_baseline out of range: %d", r.PortBaseline)
	}

	normalized := make(map[string]RuntimeConfig, len(r.Runtimes))
	for key, one := range r.Runtimes {
		name := strings.ToLower(strings.TrimSpace(key))
		if name == "" {
			return errors.New("runtime name cannot be empty")
		}
		if len(one.Command) == 0 || strings.TrimSpace(one.Command[0]) == "" {
			return fmt.Errorf("runtimes[%s].command is required", name)
		}
		one.VersionConstraint = strings.TrimSpace(one.VersionConstraint)
		normalized[name] = one
	}
	r.Runtimes = normalized
	return nil
}
