package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/shipbot/cmd"
)

func main() {
	app := &cli.App{
		Name:    "shipbot",
		Usage:   "Chat-driven merge, deploy and release bot for GitHub and GitLab",
		Version: cmd.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "shipbot.toml",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log at debug level",
			},
		},
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.CycleCommand(),
			cmd.APICommand(),
			cmd.TalkCommand(),
			cmd.ConfigCommand(),
			cmd.EnvCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
