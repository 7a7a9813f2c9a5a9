package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "ddsched/pkg/logx"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scheduler != Default().Scheduler || len(cfg.Templates) != 2 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParse(t *testing.T) {
	t.Parallel()
	cfg, err := Parse([]byte(`
scheduler:
  tick_ms: 2
  fault_policy: halt
kernel:
  max_tasks: 8
log:
  level: debug
journal:
  driver: csv
  path: out/journal.csv
status:
  enabled: true
  schedule: "@every 5s"
templates:
  - name: Sensor Poll
    priority: 20
    work_ticks: 3
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scheduler.TickMS != 2 || cfg.Scheduler.FaultPolicy != "halt" {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.ReplyMax != 100 {
		t.Fatalf("unset scheduler field lost its default: %+v", cfg.Scheduler)
	}
	if cfg.Kernel.MaxTasks != 8 || cfg.Log.Level != "debug" || cfg.Journal.Driver != "csv" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.Templates) != 1 || cfg.Templates[0].Name != "Sensor Poll" || cfg.Templates[0].WorkTicks != 3 {
		t.Fatalf("templates = %+v", cfg.Templates)
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	bad := []string{
		"scheduler: [1, 2",
		"scheduler:\n  tick_ms: fast\n",
		"scheduler:\n  priorities:\n    nice: 3\n",
		"no_such_section: 1",
		"templates:\n  - priority: 3\n",
		"journal:\n  driver: kafka\n",
	}
	for _, b := range bad {
		if _, err := Parse([]byte(b)); err == nil {
			t.Fatalf("Parse(%q) accepted", b)
		}
	}
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte("log:\n  level: info\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got := make(chan Config, 4)
	w := NewWatcher(path, logx.Nop(), func(c Config) { got <- c })
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()
	defer func() { cancel(); <-done }()

	// give the watcher time to register the directory
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-got:
		if c.Log.Level != "debug" {
			t.Fatalf("reloaded level = %q", c.Log.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after write")
	}
}
