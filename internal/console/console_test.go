package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"ddsched/internal/job"
	"ddsched/internal/kernel"
	"ddsched/internal/sched"
	logx "ddsched/pkg/logx"
)

func TestParse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		line string
		want Command
	}{
		{"c 0 100", Command{Kind: Create, Template: 0, Deadline: 100}},
		{"  c 1 0  ", Command{Kind: Create, Template: 1, Deadline: 0}},
		{"c 0 10 500", Command{Kind: Create, Deadline: 10, Period: 500}},
		{"d 0x101", Command{Kind: Delete, TaskID: 0x101}},
		{"d 257", Command{Kind: Delete, TaskID: 257}},
		{"a", Command{Kind: Active}},
		{"O", Command{Kind: Overdue}},
		{"p", Command{Kind: Periodics}},
		{"k 2", Command{Kind: Kill, Generator: 2}},
		{"s", Command{Kind: Status}},
		{"?", Command{Kind: Help}},
		{"exit", Command{Kind: Exit}},
	}
	for _, tt := range tests {
		got, err := Parse(tt.line)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", tt.line, err)
		}
		if got != tt.want {
			t.Fatalf("Parse(%q) = %+v, want %+v", tt.line, got, tt.want)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()
	for _, line := range []string{"", "x", "c", "c 0", "c a 10", "c 0 -1", "c 0 10 0", "c 0 1 2 3", "d", "d 0", "d zz", "a 1", "k", "k -1"} {
		if _, err := Parse(line); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Parse(%q) err = %v, want ErrInvalid", line, err)
		}
	}
}

func newTestConsole(t *testing.T) (*Console, *bytes.Buffer) {
	t.Helper()
	tc := sched.NewTickClock(nil, time.Millisecond)
	k := kernel.New(kernel.DefaultConfig(), tc, logx.Nop())
	w := job.NewWorker(k, logx.Nop())
	tmpls := w.Templates([]job.TemplateSpec{{Name: "Long Task", Priority: 10, WorkTicks: 1 << 20}})
	s := sched.New(sched.DefaultConfig(), k, tmpls, sched.WithClock(tc))
	w.Attach(s.Client())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	p := job.NewPeriodic(s.Client(), tc, logx.Nop())
	t.Cleanup(func() {
		p.Close()
		cancel()
		<-done
		k.Close()
	})

	var out bytes.Buffer
	return &Console{Client: s.Client(), Periodic: p, Templates: tmpls, Out: &out}, &out
}

func TestConsoleSession(t *testing.T) {
	c, out := newTestConsole(t)
	ctx := context.Background()

	c.Line(ctx, "c 0 100000")
	first := out.String()
	if !strings.Contains(first, "created task") || !strings.Contains(first, "Long Task") {
		t.Fatalf("create output: %q", first)
	}
	var id uint32
	if _, err := fmt.Sscanf(first, "created task %v", &id); err != nil {
		t.Fatalf("cannot read id from %q: %v", first, err)
	}

	out.Reset()
	c.Line(ctx, "a")
	if !strings.Contains(out.String(), fmt.Sprintf("%#x", id)) {
		t.Fatalf("active list missing task: %q", out.String())
	}

	out.Reset()
	c.Line(ctx, fmt.Sprintf("d %#x", id))
	c.Line(ctx, fmt.Sprintf("d %#x", id))
	c.Line(ctx, "o")
	c.Line(ctx, "bogus")
	want := []string{"deleted task", "not found", "no overdue tasks", "invalid command"}
	for _, w := range want {
		if !strings.Contains(out.String(), w) {
			t.Fatalf("output missing %q:\n%s", w, out.String())
		}
	}
}

func TestConsolePeriodicAndExit(t *testing.T) {
	c, out := newTestConsole(t)
	in := strings.NewReader("c 0 100000 100000\np\nk 1\nk 1\nexit\nc 0 1\n")
	if err := c.RunReader(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, w := range []string{"generator 1 repeats", "generator 1: Long Task", "stopped generator 1", "generator 1 not found"} {
		if !strings.Contains(got, w) {
			t.Fatalf("output missing %q:\n%s", w, got)
		}
	}
	if strings.Count(got, "created task") != 1 {
		t.Fatalf("commands after exit were executed:\n%s", got)
	}
}
