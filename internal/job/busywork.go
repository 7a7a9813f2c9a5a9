package job

import (
	"context"
	"sync"

	"ddsched/internal/sched"
	logx "ddsched/pkg/logx"
)

// CPU is where task bodies burn their ticks.
type CPU interface {
	Compute(ctx context.Context, ticks uint32) error
}

// Canceler removes a task from the scheduler.
type Canceler interface {
	Cancel(ctx context.Context, id sched.TaskID) (bool, error)
}

// Worker builds the body shared by the user task templates: do busy work for
// the template's tick count, then delete itself through the scheduler.
type Worker struct {
	cpu CPU
	log logx.Logger

	mu     sync.RWMutex
	cancel Canceler
}

func NewWorker(cpu CPU, log logx.Logger) *Worker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Worker{cpu: cpu, log: log.With(logx.String("component", "user"))}
}

// Attach sets the scheduler the bodies cancel themselves through. Templates
// are built before the scheduler exists, so this happens after New.
func (w *Worker) Attach(c Canceler) {
	w.mu.Lock()
	w.cancel = c
	w.mu.Unlock()
}

// BusyWork is a sched.TaskFunc.
func (w *Worker) BusyWork(ctx context.Context, ticks uint32) error {
	id := sched.TaskIDFromContext(ctx)
	w.log.Info("doing busy work", logx.Uint32("task", uint32(id)), logx.Uint32("ticks", ticks))
	if err := w.cpu.Compute(ctx, ticks); err != nil {
		return err
	}
	w.log.Info("task complete", logx.Uint32("task", uint32(id)))

	w.mu.RLock()
	c := w.cancel
	w.mu.RUnlock()
	if c == nil {
		return nil
	}
	_, err := c.Cancel(ctx, id)
	return err
}

// TemplateSpec is the config form of a user task template.
type TemplateSpec struct {
	Name          string `yaml:"name"`
	Priority      uint32 `yaml:"priority"`
	StackSize     uint32 `yaml:"stack_size"`
	DeadlineTicks uint32 `yaml:"deadline_ticks"`
	WorkTicks     uint32 `yaml:"work_ticks"`
}

// DefaultTemplates are used when the config file names none.
func DefaultTemplates() []TemplateSpec {
	return []TemplateSpec{
		{Name: "Periodic Task", Priority: 10, StackSize: 700, WorkTicks: 10},
		{Name: "Run Once Task", Priority: 10, StackSize: 700, WorkTicks: 2000},
	}
}

// Templates turns specs into scheduler templates running w.BusyWork.
func (w *Worker) Templates(specs []TemplateSpec) []sched.Template {
	out := make([]sched.Template, 0, len(specs))
	for _, s := range specs {
		out = append(out, sched.Template{
			Name:      s.Name,
			Entry:     w.BusyWork,
			StackSize: s.StackSize,
			Priority:  sched.Priority(s.Priority),
			Deadline:  sched.Tick(s.DeadlineTicks),
			Arg:       s.WorkTicks,
		})
	}
	return out
}
