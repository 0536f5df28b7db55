// Command greenrt runs a demo workload on the green-thread runtime and
// prints the effective configuration.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "greenrt",
		Usage: "M:N green-thread runtime demo",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML or JSON config file",
				EnvVars: []string{"GREENRT_CONFIG"},
			},
			&cli.IntFlag{
				Name:    "threads",
				Aliases: []string{"t"},
				Usage:   "number of schedulers (0 keeps the config value)",
			},
			&cli.StringFlag{
				Name:  "stack-size",
				Usage: "default task stack size, e.g. 64KiB",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			configCommand(),
		},
	}
}
