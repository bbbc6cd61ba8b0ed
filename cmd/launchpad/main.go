package main

import (
	"context"
	"errors"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/tgifai/launchpad"
	"github.com/tgifai/launchpad/internal/pkg/logs"
)

func main() {
	cmd := &cli.Command{
		Name:    "launchpad",
		Usage:   "Run submitted programs in isolated, supervised workspaces",
		Version: launchpad.VERSION,
		Commands: []*cli.Command{
			serveHwd.cmd(),
			runHwd.cmd(),
			initHwd.cmd(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		logs.Error("Command execution failed: %v", err)
		os.Exit(1)
	}
}
