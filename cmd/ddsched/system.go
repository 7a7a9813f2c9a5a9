package main

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"ddsched/internal/config"
	"ddsched/internal/eventbus"
	"ddsched/internal/job"
	"ddsched/internal/journal"
	"ddsched/internal/kernel"
	"ddsched/internal/monitor"
	"ddsched/internal/sched"
	logx "ddsched/pkg/logx"
)

// system is every component of one scheduler process.
type system struct {
	cfgPath string
	cfg     config.Config

	logSvc *logx.Service
	log    logx.Logger

	clock     *sched.TickClock
	kernel    *kernel.Kernel
	engine    *sched.Scheduler
	client    *sched.Client
	templates []sched.Template
	periodic  *job.Periodic
	reporter  *monitor.Reporter
	bus       eventbus.Bus
	recorder  *journal.Recorder
}

func build(cfgPath string, out io.Writer) (*system, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logSvc, log := logx.New(cfg.Log, nil)

	s := &system{cfgPath: cfgPath, cfg: cfg, logSvc: logSvc, log: log, bus: eventbus.New()}
	s.clock = sched.NewTickClock(nil, time.Duration(cfg.Scheduler.TickMS)*time.Millisecond)
	s.kernel = kernel.New(cfg.Kernel, s.clock, log)

	worker := job.NewWorker(s.kernel, log)
	s.templates = worker.Templates(cfg.Templates)
	s.engine = sched.New(cfg.Scheduler, s.kernel, s.templates,
		sched.WithClock(s.clock),
		sched.WithLogger(log),
		sched.WithBus(s.bus),
	)
	s.client = s.engine.Client()
	worker.Attach(s.client)

	s.periodic = job.NewPeriodic(s.client, s.clock, log)
	s.reporter = monitor.NewReporter(s.client, s.kernel, s.templates, s.clock, out, log)

	sink, err := journal.Open(cfg.Journal, log)
	if err != nil {
		s.kernel.Close()
		logSvc.Close()
		return nil, err
	}
	if sink != nil {
		s.recorder = journal.NewRecorder(sink, log)
	}
	return s, nil
}

// start runs the background components. Engine failure under the halt
// policy cancels the process through stop. The returned wait shuts
// everything down once ctx is done and returns the engine's error.
func (s *system) start(ctx context.Context, stop context.CancelFunc) (wait func() error) {
	var (
		wg        sync.WaitGroup
		engineErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.engine.Run(ctx); err != nil {
			engineErr = err
			s.log.Error("scheduler engine stopped", logx.Err(err))
			stop()
		}
	}()

	if s.recorder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.recorder.Run(ctx, s.bus)
		}()
	}

	if err := s.reporter.Start(ctx, s.cfg.Status); err != nil {
		s.log.Warn("status updates disabled", logx.Err(err))
	}

	watcher := config.NewWatcher(s.cfgPath, s.log, s.applyConfig)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := watcher.Watch(ctx); err != nil {
			s.log.Debug("config hot reload unavailable", logx.Err(err))
		}
	}()

	s.log.Info("scheduler started",
		logx.Int("templates", len(s.templates)),
		logx.Duration("tick", s.clock.Interval()),
		logx.String("fault_policy", string(s.cfg.Scheduler.FaultPolicy)))

	return func() error {
		<-ctx.Done()
		s.periodic.Close()
		s.reporter.Stop()
		wg.Wait()
		s.kernel.Close()
		s.log.Info("scheduler stopped", logx.Uint64("events_dropped", s.bus.Dropped()))
		s.logSvc.Close()
		if errors.Is(engineErr, context.Canceled) {
			return nil
		}
		return engineErr
	}
}

// applyConfig takes the parts of a reloaded config that can change at runtime.
// Scheduler, kernel and template settings need a restart.
func (s *system) applyConfig(cfg config.Config) {
	s.logSvc.Apply(cfg.Log)
	if cfg.Scheduler != s.cfg.Scheduler || cfg.Kernel != s.cfg.Kernel {
		s.log.Warn("scheduler and kernel settings change on restart only")
	}
}
