package main

import (
	"github.com/urfave/cli/v3"

	"github.com/tgifai/launchpad/internal/config"
	"github.com/tgifai/launchpad/internal/consts"
	"github.com/tgifai/launchpad/internal/pkg/logs"
	"github.com/tgifai/launchpad/internal/runner"
	"github.com/tgifai/launchpad/internal/runner/adapter"
	"github.com/tgifai/launchpad/internal/runner/entrypoint"
	"github.com/tgifai/launchpad/internal/runner/runtimes"
	"github.com/tgifai/launchpad/internal/runner/supervisor"
	"github.com/tgifai/launchpad/internal/runner/workspace"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the config file",
		Value:   consts.DefaultConfigPath(),
		Sources: cli.EnvVars(consts.EnvConfig),
	}
}

func restrictedFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "restricted",
		Usage:   "Shared-hosting mode: shorter timeout, no grace period before kill",
		Sources: cli.EnvVars(consts.EnvRestricted),
	}
}

func initLogger(cfg config.LoggingConfig) error {
	return logs.Init(logs.Options{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		File:       cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
	})
}

// newRegistry assembles the execution pipeline described by cfg.
func newRegistry(cfg config.RunnerConfig, table *runtimes.Table, policy supervisor.Policy) *runner.Registry {
	return runner.NewRegistry(runner.Options{
		Workspaces:    workspace.NewManager(cfg.WorkspaceRoot),
		Resolver:      entrypoint.NewResolver(table),
		Adapter:       adapter.New(cfg.PortBaseline),
		Supervisor:    supervisor.New(policy),
		MaxConcurrent: cfg.MaxConcurrent,
	})
}
