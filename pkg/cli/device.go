package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/devicectl/pkg/device"
	"github.com/devicelab-dev/devicectl/pkg/lifecycle"
	"github.com/devicelab-dev/devicectl/pkg/script"
)

var devicesCommand = &cli.Command{
	Name:  "devices",
	Usage: "List discovered devices",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "all",
			Usage: "Include devices that are busy or locked",
		},
	},
	Action: runDevices,
}

var bootCommand = &cli.Command{
	Name:  "boot",
	Usage: "Boot a device and hold a session on it",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "id", Usage: "Device id (UDID or AVD name)", Required: true},
	},
	Action: runBoot,
}

var shutdownCommand = &cli.Command{
	Name:  "shutdown",
	Usage: "Shut a device down",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "id", Usage: "Device id (UDID or AVD name)", Required: true},
	},
	Action: runShutdown,
}

var installCommand = &cli.Command{
	Name:      "install",
	Usage:     "Install an app on a booted device",
	ArgsUsage: "<app path>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "id", Usage: "Device id (UDID or AVD name)", Required: true},
	},
	Action: runInstall,
}

var launchCommand = &cli.Command{
	Name:      "launch",
	Usage:     "Launch an app on a booted device",
	ArgsUsage: "<bundle id>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "id", Usage: "Device id (UDID or AVD name)", Required: true},
	},
	Action: runLaunch,
}

var scriptCommand = &cli.Command{
	Name:      "script",
	Usage:     "Run a JavaScript automation script against a device",
	ArgsUsage: "<script file>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "id", Usage: "Device id (UDID or AVD name)", Required: true},
	},
	Action: runScript,
}

func runDevices(c *cli.Context) error {
	r, _, err := buildRegistry(c)
	if err != nil {
		return err
	}

	devices, err := r.Discover(c.Context, !c.Bool("all"), c.Bool("all"))
	if err != nil {
		return err
	}

	if c.Bool("no-ansi") {
		color.NoColor = true
	}
	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	fmt.Printf("%s\n", bold("ID                                    STATE      PLATFORM  NAME"))
	for _, d := range devices {
		state := d.State().String()
		if d.State() == device.StateBooted {
			state = green(state)
		} else {
			state = dim(state)
		}
		fmt.Printf("%-38s%-11s%-10s%s\n", d.ID(), state, d.Platform(), d.Name())
	}
	return nil
}

// withSession claims the device, runs fn, and releases the session.
func withSession(c *cli.Context, fn func(r registryHandle, dev *device.Device, token string) error) error {
	r, _, err := buildRegistry(c)
	if err != nil {
		return err
	}
	dev, err := r.GetDeviceWithId(c.Context, c.String("id"))
	if err != nil {
		return err
	}
	if dev == nil {
		return fmt.Errorf("no device with id %s", c.String("id"))
	}

	orch := r.Orchestrator()
	token, err := orch.StartSession(dev)
	if err != nil {
		return err
	}
	defer func() {
		if err := orch.EndSession(dev, token); err != nil {
			fmt.Fprintf(os.Stderr, "warning: releasing session: %v\n", err)
		}
	}()

	return fn(registryHandle{orch: orch}, dev, token)
}

type registryHandle struct {
	orch *lifecycle.Orchestrator
}

func runBoot(c *cli.Context) error {
	return withSession(c, func(h registryHandle, dev *device.Device, token string) error {
		return h.orch.Boot(c.Context, dev, token, lifecycle.DefaultBootOptions())
	})
}

func runShutdown(c *cli.Context) error {
	return withSession(c, func(h registryHandle, dev *device.Device, token string) error {
		return h.orch.Shutdown(c.Context, dev, token)
	})
}

func runInstall(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("install takes exactly one app path")
	}
	return withSession(c, func(h registryHandle, dev *device.Device, token string) error {
		return h.orch.Install(c.Context, dev, token, c.Args().First())
	})
}

func runLaunch(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("launch takes exactly one bundle id")
	}
	return withSession(c, func(h registryHandle, dev *device.Device, token string) error {
		return h.orch.Launch(c.Context, dev, token, c.Args().First())
	})
}

func runScript(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("script takes exactly one script file")
	}
	source, err := os.ReadFile(c.Args().First())
	if err != nil {
		return err
	}
	return withSession(c, func(h registryHandle, dev *device.Device, token string) error {
		return script.New(h.orch).Run(c.Context, dev, token, string(source))
	})
}
