package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/tgifai/launchpad/internal/config"
	"github.com/tgifai/launchpad/internal/pkg/utils"
)

const apiKeyLength = 32

var initHwd = &InitRunner{}

type InitRunner struct{}

func (r *InitRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Write a default config file",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Overwrite an existing config file",
			},
			&cli.BoolFlag{
				Name:  "api-key",
				Usage: "Generate a random bearer token for the HTTP API",
			},
		},
		Action: r.run,
	}
}

func (r *InitRunner) run(_ context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	if _, err := os.Stat(path); err == nil {
		if !cmd.Bool("force") {
			color.New(color.FgYellow).Printf("%s already exists, pass --force to overwrite\n", path)
			return nil
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove old config: %w", err)
		}
	}

	ins := &config.InstanceManager{}
	cfg, err := ins.Load(path)
	if err != nil {
		return fmt.Errorf("load defaults: %w", err)
	}
	if cmd.Bool("api-key") {
		cfg.Server.APIKey = utils.RandStr(apiKeyLength)
		if err := ins.Apply("server", &cfg.Server); err != nil {
			return fmt.Errorf("apply api key: %w", err)
		}
	}
	if err := ins.Save(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	color.New(color.FgGreen).Printf("✓ Config written to %s\n", path)
	if cfg.Server.APIKey != "" {
		fmt.Printf("  API key: %s\n", cfg.Server.APIKey)
	}
	fmt.Println("  Start the service with: launchpad serve")
	return nil
}
