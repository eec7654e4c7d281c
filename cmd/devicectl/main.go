package main

import (
	"github.com/devicelab-dev/devicectl/pkg/cli"

	// Built-in drivers register their factories on import.
	_ "github.com/devicelab-dev/devicectl/pkg/driver/androidemu"
	_ "github.com/devicelab-dev/devicectl/pkg/driver/androidphys"
	_ "github.com/devicelab-dev/devicectl/pkg/driver/iosphys"
	_ "github.com/devicelab-dev/devicectl/pkg/driver/iossim"
)

func main() {
	cli.Execute()
}
