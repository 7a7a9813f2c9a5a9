package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/urfave/cli"
)

var (
	app = cli.NewApp()

	configFlag = cli.StringFlag{
		Name:  "config, c",
		Value: "config.yml",
		Usage: "path to the YAML config file",
	}
)

func init() {
	app.Name = filepath.Base(os.Args[0])
	app.Usage = "deadline-driven task scheduler on a fixed-priority kernel"
	app.HideVersion = true
	app.Flags = []cli.Flag{configFlag}
	app.Commands = []cli.Command{
		consoleCommand,
		serveCommand,
		templatesCommand,
	}
	sort.Sort(cli.CommandsByName(app.Commands))
	app.Action = runConsole
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
