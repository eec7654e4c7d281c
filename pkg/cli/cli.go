// Package cli provides the command-line interface for devicectl.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/devicectl/pkg/config"
	"github.com/devicelab-dev/devicectl/pkg/logger"
	"github.com/devicelab-dev/devicectl/pkg/process"
	"github.com/devicelab-dev/devicectl/pkg/registry"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Directory containing config.yaml",
		Value:   ".",
		EnvVars: []string{"DEVICECTL_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "log-file",
		Usage:   "Log file path",
		EnvVars: []string{"DEVICECTL_LOG"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// Execute runs the CLI.
func Execute() {
	app := &cli.App{
		Name:    "devicectl",
		Usage:   "Control plane for simulators, emulators, and cabled devices",
		Version: Version,
		Description: `devicectl discovers iOS simulators, iOS devices, Android emulators,
and Android devices, and drives their lifecycle for automated testing.

Examples:
  devicectl devices
  devicectl boot --id <udid-or-avd>
  devicectl script --id <udid-or-avd> automation.js`,
		Flags: GlobalFlags,
		Commands: []*cli.Command{
			devicesCommand,
			bootCommand,
			shutdownCommand,
			installCommand,
			launchCommand,
			scriptCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildRegistry loads configuration and constructs the runtime. Driver
// loading failures surface as the command error, which Execute turns into
// a non-zero exit.
func buildRegistry(c *cli.Context) (*registry.Registry, *config.Config, error) {
	cfg, err := config.LoadFromDir(c.String("config"))
	if err != nil {
		return nil, nil, err
	}

	logPath := c.String("log-file")
	if logPath == "" {
		logPath = cfg.LogFile
	}
	if logPath != "" {
		if err := logger.Init(logPath); err != nil {
			return nil, nil, err
		}
	}

	r, err := registry.New(cfg, process.NewExecRunner())
	if err != nil {
		return nil, nil, err
	}
	return r, cfg, nil
}
