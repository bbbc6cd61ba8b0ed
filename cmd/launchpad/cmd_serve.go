package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/urfave/cli/v3"

	"github.com/tgifai/launchpad/internal/config"
	"github.com/tgifai/launchpad/internal/pkg/logs"
	"github.com/tgifai/launchpad/internal/pkg/utils"
	"github.com/tgifai/launchpad/internal/runner"
	"github.com/tgifai/launchpad/internal/runner/runtimes"
	"github.com/tgifai/launchpad/internal/runner/supervisor"
	"github.com/tgifai/launchpad/internal/server"
)

const shutdownTimeout = 15 * time.Second

var serveHwd = &ServeRunner{}

type ServeRunner struct{}

func (r *ServeRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the execution service and its HTTP API",
		Flags:  []cli.Flag{configFlag(), restrictedFlag()},
		Action: r.run,
	}
}

func (r *ServeRunner) run(ctx context.Context, cmd *cli.Command) error {
	cfgPath := cmd.String("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config error: %w", err)
	}
	if err = initLogger(cfg.Logging); err != nil {
		return fmt.Errorf("init logger error: %w", err)
	}
	hlog.SetLogger(logs.NewHlogLogger(logs.DefaultLogger()))

	logs.CtxInfo(ctx, "booting launchpad, using config file: %s", cfgPath)

	policy := supervisor.PolicyFor(cfg.Runner, cmd.Bool("restricted"))
	logs.CtxInfo(ctx, "[serve] execution policy %s", policy)

	table := runtimes.NewTable(cfg.Runner.Runtimes)
	table.Probe(ctx)
	logs.CtxInfo(ctx, "[serve] recognized sources %v", table.Extensions())

	registry := newRegistry(cfg.Runner, table, policy)
	logs.CtxInfo(ctx, "[serve] workspaces under %s", registry.WorkspaceRoot())
	janitor, err := runner.NewJanitor(registry, cfg.Runner.ReapSchedule, cfg.Runner.RetentionDuration())
	if err != nil {
		return err
	}

	if host, _, err := net.SplitHostPort(cfg.Server.Bind); err == nil && !utils.IsLoopbackHost(host) && cfg.Server.APIKey == "" {
		logs.CtxWarn(ctx, "[serve] %s is reachable off-host and no api_key is set", cfg.Server.Bind)
	}

	srv := server.New(cfg.Server, registry)
	janitor.Start(ctx)
	srv.Start(ctx)

	logs.CtxInfo(ctx, "ALL IS WELL!!! Listening on %s, press Ctrl+C to stop.", cfg.Server.Bind)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signalCh)

wait:
	for {
		select {
		case sig := <-signalCh:
			if sig == syscall.SIGHUP {
				r.reload(ctx)
				continue
			}
			logs.CtxInfo(ctx, "Received shutdown signal (%s). Stopping...", sig.String())
			break wait
		case <-ctx.Done():
			logs.CtxInfo(ctx, "Context canceled. Stopping...")
			break wait
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	srv.Stop(stopCtx)
	janitor.Stop(stopCtx)
	if err = registry.Shutdown(stopCtx); err != nil {
		logs.CtxError(ctx, "stop registry error: %v", err)
	}

	logs.CtxInfo(ctx, "all stopped, good bye!")
	logs.Flush()
	return nil
}

// reload re-reads the config file and re-applies the logging section.
// Server and runner settings take effect on the next start.
func (r *ServeRunner) reload(ctx context.Context) {
	changed, err := config.Reload()
	if err != nil {
		logs.CtxError(ctx, "[serve] reload config error: %v", err)
		return
	}
	if !changed {
		logs.CtxInfo(ctx, "[serve] config unchanged")
		return
	}
	cfg, err := config.Get()
	if err != nil {
		logs.CtxError(ctx, "[serve] reload config error: %v", err)
		return
	}
	if err = initLogger(cfg.Logging); err != nil {
		logs.CtxError(ctx, "[serve] reload logger error: %v", err)
		return
	}
	hlog.SetLogger(logs.NewHlogLogger(logs.DefaultLogger()))
	logs.CtxInfo(ctx, "[serve] config reloaded, server and runner changes apply on restart")
}
