package supervisor

import (
	"fmt"
	"time"

	"github.com/tgifai/launchpad/internal/config"
)

// Policy is the per-deployment execution budget, resolved once at startup.
type Policy struct {
	Timeout time.Duration
	// GracePeriod separates the graceful stop request from the forced kill.
	// Zero kills immediately.
	GracePeriod    time.Duration
	MaxOutputBytes int
	Restricted     bool
}

// PolicyFor derives the policy from runner config. Restricted mode, from
// either the flag or the config, swaps in the shorter budget and drops the
// grace period.
func PolicyFor(cfg config.RunnerConfig, restricted bool) Policy {
	p := Policy{
		Timeout:        time.Duration(cfg.TimeoutSec) * time.Second,
		GracePeriod:    cfg.GracePeriod(),
		MaxOutputBytes: cfg.MaxOutputBytes,
	}
	if restricted || cfg.Restricted {
		p.Restricted = true
		p.Timeout = time.Duration(cfg.RestrictedTimeoutSec) * time.Second
		p.GracePeriod = 0
	}
	return p
}

func (p Policy) String() string {
	return fmt.Sprintf("timeout=%s grace=%s max_output=%d restricted=%t",
		p.Timeout, p.GracePeriod, p.MaxOutputBytes, p.Restricted)
}
