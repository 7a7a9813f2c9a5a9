package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/urfave/cli"

	"ddsched/internal/config"
	"ddsched/internal/console"
	logx "ddsched/pkg/logx"
)

var (
	consoleCommand = cli.Command{
		Name:   "console",
		Usage:  "run the scheduler with an interactive command console",
		Action: runConsole,
	}
	serveCommand = cli.Command{
		Name:   "serve",
		Usage:  "run the scheduler headless until SIGINT/SIGTERM",
		Action: runServe,
	}
	templatesCommand = cli.Command{
		Name:   "templates",
		Usage:  "list the configured task templates",
		Action: listTemplates,
	}
)

func configPath(c *cli.Context) string {
	if p := c.GlobalString("config"); p != "" {
		return p
	}
	return c.String("config")
}

func runConsole(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	sys, err := build(configPath(c), os.Stdout)
	if err != nil {
		return err
	}
	wait := sys.start(ctx, cancel)

	con := &console.Console{
		Client:    sys.client,
		Periodic:  sys.periodic,
		Reporter:  sys.reporter,
		Templates: sys.templates,
		Out:       os.Stdout,
		Log:       sys.log,
	}
	err = con.Run(ctx)
	cancel()
	if werr := wait(); werr != nil {
		return werr
	}
	return err
}

func runServe(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sys, err := build(configPath(c), os.Stdout)
	if err != nil {
		return err
	}
	wait := sys.start(ctx, cancel)

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		sys.log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		sys.log.Debug("notified systemd: ready")
	}

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	sys.log.Info("shutting down")
	return wait()
}

func listTemplates(c *cli.Context) error {
	cfg, err := config.Load(configPath(c))
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tNAME\tPRIORITY\tSTACK\tWORK TICKS\tDEADLINE TICKS")
	for i, t := range cfg.Templates {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\n", i, t.Name, t.Priority, t.StackSize, t.WorkTicks, t.DeadlineTicks)
	}
	return tw.Flush()
}
