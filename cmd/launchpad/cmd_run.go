package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/tgifai/launchpad/internal/config"
	"github.com/tgifai/launchpad/internal/runner/execution"
	"github.com/tgifai/launchpad/internal/runner/runtimes"
	"github.com/tgifai/launchpad/internal/runner/supervisor"
)

const pollInterval = 100 * time.Millisecond

var (
	cOK   = color.New(color.FgGreen)
	cFail = color.New(color.FgRed)
	cDim  = color.New(color.FgHiBlack)
)

var skippedDirs = map[string]bool{
	"__pycache__":  true,
	"node_modules": true,
	".venv":        true,
	"venv":         true,
}

var runHwd = &RunRunner{}

type RunRunner struct{}

func (r *RunRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run a local project directory through the execution pipeline",
		ArgsUsage: "<dir>",
		Flags: []cli.Flag{
			configFlag(),
			restrictedFlag(),
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Override the configured wall-clock budget",
			},
		},
		Action: r.run,
	}
}

func (r *RunRunner) run(ctx context.Context, cmd *cli.Command) error {
	dir := cmd.Args().First()
	if dir == "" {
		return errors.New("a project directory is required")
	}
	files, err := collectFiles(dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("loading config error: %w", err)
	}
	if err = initLogger(config.LoggingConfig{Level: "warn", Format: "text", Output: "stderr"}); err != nil {
		return fmt.Errorf("init logger error: %w", err)
	}

	policy := supervisor.PolicyFor(cfg.Runner, cmd.Bool("restricted"))
	if d := cmd.Duration("timeout"); d > 0 {
		policy.Timeout = d
	}
	registry := newRegistry(cfg.Runner, runtimes.NewTable(cfg.Runner.Runtimes), policy)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = registry.Shutdown(stopCtx)
	}()

	id, err := registry.Submit(ctx, files)
	if err != nil {
		return err
	}
	cDim.Fprintf(os.Stderr, "execution %s (%d files, %s)\n", id, len(files), policy)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	printed := 0
	for {
		select {
		case <-signalCh:
			if _, err := registry.Cancel(ctx, id); err != nil {
				return err
			}
		case <-ticker.C:
		}

		snap, err := registry.Status(id, 0)
		if err != nil {
			return err
		}
		if len(snap.Output) > printed {
			fmt.Print(snap.Output[printed:])
			printed = len(snap.Output)
		}
		if snap.Status.Terminal() {
			return report(snap)
		}
	}
}

func report(snap execution.Snapshot) error {
	if snap.Truncated {
		cDim.Fprintln(os.Stderr, "output truncated")
	}
	if snap.Status == execution.StatusCompleted {
		cOK.Fprintf(os.Stderr, "%s %s\n", snap.Status, snap.EntryPoint)
		return nil
	}

	msg := string(snap.Status)
	if snap.Error != "" {
		msg += ": " + snap.Error
	}
	cFail.Fprintln(os.Stderr, msg)

	code := 1
	if snap.ExitCode != nil && *snap.ExitCode > 0 {
		code = *snap.ExitCode
	}
	return cli.Exit("", code)
}

// collectFiles reads every regular file under dir, skipping hidden and
// dependency directories.
func collectFiles(dir string) ([]execution.SubmittedFile, error) {
	var out []execution.SubmittedFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != dir && (strings.HasPrefix(name, ".") || skippedDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out = append(out, execution.SubmittedFile{Path: filepath.ToSlash(rel), Content: string(raw)})
		return nil
	})
	return out, err
}
