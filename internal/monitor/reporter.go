// Package monitor prints periodic status updates: the active and overdue
// task lists and the CPU utilisation since the previous update.
package monitor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"

	"ddsched/internal/kernel"
	"ddsched/internal/sched"
	logx "ddsched/pkg/logx"
)

// Config mirrors the status section of config.yml.
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron expression or descriptor, e.g. "@every 10s"
}

func DefaultConfig() Config { return Config{Enabled: true, Schedule: "@every 10s"} }

// Lister is the part of the scheduler client the reporter reads.
type Lister interface {
	ListActive(ctx context.Context) (sched.TaskList, error)
	ListOverdue(ctx context.Context) (sched.TaskList, error)
}

// CPU reports kernel busy time.
type CPU interface {
	Usage() kernel.Usage
}

// Reporter is safe for concurrent Report calls.
type Reporter struct {
	lister    Lister
	cpu       CPU
	templates []sched.Template
	clock     *sched.TickClock
	log       logx.Logger

	mu   sync.Mutex
	out  io.Writer
	last kernel.Usage

	parser cron.Parser
	c      *cron.Cron
}

func NewReporter(l Lister, cpu CPU, templates []sched.Template, tc *sched.TickClock, out io.Writer, log logx.Logger) *Reporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reporter{
		lister:    l,
		cpu:       cpu,
		templates: templates,
		clock:     tc,
		out:       out,
		log:       log.With(logx.String("component", "monitor")),
		parser:    cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start schedules Report on cfg.Schedule until Stop or ctx ends.
func (r *Reporter) Start(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		return nil
	}
	spec := strings.TrimSpace(cfg.Schedule)
	if spec == "" {
		spec = DefaultConfig().Schedule
	}
	schedule, err := r.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("status schedule %q: %w", spec, err)
	}

	r.c = cron.New(cron.WithParser(r.parser))
	r.c.Schedule(schedule, cron.FuncJob(func() {
		rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := r.Report(rctx); err != nil && ctx.Err() == nil {
			r.log.Warn("status update failed", logx.Err(err))
		}
	}))
	r.c.Start()
	r.log.Info("status updates scheduled", logx.String("schedule", spec))
	return nil
}

// Stop waits for a running report to finish.
func (r *Reporter) Stop() {
	if r.c == nil {
		return
	}
	<-r.c.Stop().Done()
}

// Report writes one status update.
func (r *Reporter) Report(ctx context.Context) error {
	active, err := r.lister.ListActive(ctx)
	if err != nil {
		return err
	}
	overdue, err := r.lister.ListOverdue(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	usage := r.cpu.Usage()
	window := kernel.Usage{Busy: usage.Busy - r.last.Busy, Elapsed: usage.Elapsed - r.last.Elapsed}
	r.last = usage

	var b strings.Builder
	fmt.Fprintf(&b, "[Status] tick %s, CPU %s%% (since last update), %s%% overall\n",
		humanize.Comma(int64(r.clock.Now())),
		humanize.FtoaWithDigits(window.Utilisation(), 1),
		humanize.FtoaWithDigits(usage.Utilisation(), 1))
	r.writeList(&b, "Active tasks", active)
	r.writeList(&b, "Overdue tasks", overdue)

	_, err = io.WriteString(r.out, b.String())
	return err
}

func (r *Reporter) writeList(b *strings.Builder, title string, l sched.TaskList) {
	fmt.Fprintf(b, "%s (%d):\n", title, len(l))
	if len(l) == 0 {
		return
	}
	tw := tabwriter.NewWriter(b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tDEADLINE\tTEMPLATE\tCREATED")
	for _, t := range l {
		fmt.Fprintf(tw, "  %v\t%d\t%s\t%d\n", t.ID, t.Deadline, r.templateName(t.Kind), t.CreatedAt)
	}
	tw.Flush()
}

func (r *Reporter) templateName(i uint32) string {
	if int(i) < len(r.templates) {
		return r.templates[i].Name
	}
	return fmt.Sprintf("#%d", i)
}
