// Package console is the operator interface to the scheduler: one command
// per line, mapped onto the scheduler client.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"

	"ddsched/internal/job"
	"ddsched/internal/monitor"
	"ddsched/internal/sched"
	logx "ddsched/pkg/logx"
)

const prompt = "ddsched> "

// Console executes commands. Periodic and Reporter may be nil.
type Console struct {
	Client    *sched.Client
	Periodic  *job.Periodic
	Reporter  *monitor.Reporter
	Templates []sched.Template
	Out       io.Writer
	Log       logx.Logger
}

// Run reads commands from stdin until exit, end of input or ctx ends. A
// terminal gets line editing and history.
func (c *Console) Run(ctx context.Context) error {
	if !isatty.IsTerminal(os.Stdin.Fd()) || !liner.TerminalSupported() {
		return c.RunReader(ctx, os.Stdin)
	}

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	ln.SetCompleter(func(line string) []string {
		var out []string
		for _, w := range []string{"c ", "d ", "a", "o", "p", "k ", "s", "help", "exit"} {
			if strings.HasPrefix(w, line) {
				out = append(out, w)
			}
		}
		return out
	})

	fmt.Fprintln(c.Out, Usage)
	for ctx.Err() == nil {
		line, err := ln.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		ln.AppendHistory(line)
		if c.Line(ctx, line) {
			return nil
		}
	}
	return nil
}

// RunReader executes one command per line of r.
func (c *Console) RunReader(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	for ctx.Err() == nil && sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		if c.Line(ctx, sc.Text()) {
			return nil
		}
	}
	return sc.Err()
}

// Line parses and executes one line. It reports whether the console should exit.
func (c *Console) Line(ctx context.Context, line string) bool {
	cmd, err := Parse(line)
	if err != nil {
		fmt.Fprintln(c.Out, err)
		return false
	}
	if cmd.Kind == Exit {
		return true
	}
	if err := c.Execute(ctx, cmd); err != nil {
		fmt.Fprintf(c.Out, "error: %v\n", err)
		c.log().Debug("command failed", logx.String("line", line), logx.Err(err))
	}
	return false
}

// Execute runs a parsed command and prints its result.
func (c *Console) Execute(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case Create:
		if cmd.Period > 0 {
			if c.Periodic == nil {
				return errors.New("periodic creation unavailable")
			}
			gen, id, err := c.Periodic.Start(ctx, cmd.Template, cmd.Deadline, cmd.Period)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.Out, "created task %v; generator %d repeats every %d ticks\n", id, gen, cmd.Period)
			return nil
		}
		id, err := c.Client.Schedule(ctx, cmd.Template, cmd.Deadline)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.Out, "created task %v (%s), deadline in %d ticks\n", id, c.templateName(cmd.Template), cmd.Deadline)

	case Delete:
		ok, err := c.Client.Cancel(ctx, cmd.TaskID)
		if err != nil {
			return err
		}
		if ok {
			fmt.Fprintf(c.Out, "deleted task %v\n", cmd.TaskID)
		} else {
			fmt.Fprintf(c.Out, "task %v not found\n", cmd.TaskID)
		}

	case Active:
		l, err := c.Client.ListActive(ctx)
		if err != nil {
			return err
		}
		c.printList("active", l)

	case Overdue:
		l, err := c.Client.ListOverdue(ctx)
		if err != nil {
			return err
		}
		c.printList("overdue", l)

	case Periodics:
		if c.Periodic == nil || len(c.Periodic.List()) == 0 {
			fmt.Fprintln(c.Out, "no periodic generators")
			return nil
		}
		for _, g := range c.Periodic.List() {
			fmt.Fprintf(c.Out, "generator %d: %s every %d ticks, deadline %d, created %d, failed %d, last %v\n",
				g.ID, c.templateName(g.Template), g.Period, g.Deadline, g.Created, g.Failed, g.Last)
		}

	case Kill:
		if c.Periodic != nil && c.Periodic.Stop(cmd.Generator) {
			fmt.Fprintf(c.Out, "stopped generator %d\n", cmd.Generator)
		} else {
			fmt.Fprintf(c.Out, "generator %d not found\n", cmd.Generator)
		}

	case Status:
		if c.Reporter == nil {
			return errors.New("status reporter unavailable")
		}
		return c.Reporter.Report(ctx)

	case Help:
		fmt.Fprintln(c.Out, Usage)

	default:
		return ErrInvalid
	}
	return nil
}

func (c *Console) printList(name string, l sched.TaskList) {
	if len(l) == 0 {
		fmt.Fprintf(c.Out, "no %s tasks\n", name)
		return
	}
	for _, t := range l {
		fmt.Fprintf(c.Out, "%v  deadline %d  %s  created %d\n", t.ID, t.Deadline, c.templateName(t.Kind), t.CreatedAt)
	}
}

func (c *Console) templateName(i uint32) string {
	if int(i) < len(c.Templates) {
		return c.Templates[i].Name
	}
	return fmt.Sprintf("#%d", i)
}

func (c *Console) log() logx.Logger {
	if c.Log.IsZero() {
		return logx.Nop()
	}
	return c.Log
}
