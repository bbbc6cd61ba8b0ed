package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tgifai/launchpad/internal/pkg/logs"
)

// Janitor periodically forgets finished executions past their retention.
type Janitor struct {
	registry  *Registry
	retention time.Duration
	cron      *cron.Cron
}

// NewJanitor validates schedule, a cron expression such as "@every 1m".
func NewJanitor(registry *Registry, schedule string, retention time.Duration) (*Janitor, error) {
	j := &Janitor{
		registry:  registry,
		retention: retention,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DiscardLogger),
			cron.Recover(cron.DefaultLogger),
		)),
	}
	if _, err := j.cron.AddFunc(schedule, j.sweep); err != nil {
		return nil, fmt.Errorf("parse reap schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *Janitor) Start(ctx context.Context) {
	j.cron.Start()
	logs.CtxInfo(ctx, "[janitor] started retention=%s", j.retention)
}

// Stop halts the schedule and waits for a running sweep.
func (j *Janitor) Stop(ctx context.Context) {
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
	}
	logs.CtxInfo(ctx, "[janitor] stopped")
}

func (j *Janitor) sweep() {
	if n := j.registry.Reap(j.retention); n > 0 {
		logs.Info("[janitor] reaped %d finished executions", n)
	}
}
