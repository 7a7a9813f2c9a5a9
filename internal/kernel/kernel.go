// Package kernel simulates a single-core fixed-priority kernel: tasks are
// created suspended, released into their own goroutine, and share one CPU
// that is granted a tick at a time to the highest-priority task asking for it.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"ddsched/internal/sched"
	logx "ddsched/pkg/logx"
)

var (
	ErrTooManyTasks = errors.New("kernel task limit reached")
	ErrNoTask       = errors.New("no such kernel task")
	ErrNotSuspended = errors.New("kernel task already released")
	ErrNotATask     = errors.New("caller is not a kernel task")
)

// Config mirrors the kernel section of config.yml.
type Config struct {
	MaxTasks int `yaml:"max_tasks"` // 64 (by default)
}

func DefaultConfig() Config { return Config{MaxTasks: 64} }

// TaskState is the life-cycle state of a task control block.
type TaskState int

const (
	Suspended TaskState = iota
	Ready
	Running
	Finished // body returned; the TCB lives until Destroy
)

func (s TaskState) String() string {
	switch s {
	case Suspended:
		return "suspended"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

type tcb struct {
	id     sched.TaskID
	name   string
	prio   sched.Priority
	state  TaskState
	entry  sched.TaskFunc
	arg    uint32
	ctx    context.Context
	cancel context.CancelFunc
	busy   time.Duration

	// wantSeq orders equal-priority tasks waiting for the CPU; zero means not waiting.
	wantSeq uint64
}

// Kernel is safe for concurrent use.
type Kernel struct {
	clock   clockwork.Clock
	quantum time.Duration
	max     int
	log     logx.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	tasks map[sched.TaskID]*tcb
	next  sched.TaskID
	owner sched.TaskID // holds the CPU for the current quantum
	seq   uint64
	busy  time.Duration
	start time.Time

	root   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

var _ sched.Kernel = (*Kernel)(nil)

// New creates a kernel whose CPU quantum is one tick of tc.
func New(cfg Config, tc *sched.TickClock, log logx.Logger) *Kernel {
	if cfg.MaxTasks <= 0 {
		cfg.MaxTasks = DefaultConfig().MaxTasks
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	root, stop := context.WithCancel(context.Background())
	k := &Kernel{
		clock:   tc.Clock(),
		quantum: tc.Interval(),
		max:     cfg.MaxTasks,
		log:     log.With(logx.String("component", "kernel")),
		tasks:   make(map[sched.TaskID]*tcb),
		start:   tc.Clock().Now(),
		root:    root,
		stop:    stop,
	}
	k.cond = sync.NewCond(&k.mu)
	return k
}

// CreateSuspended allocates a task control block. The body does not start until Release.
func (k *Kernel) CreateSuspended(tmpl sched.Template) (sched.TaskID, error) {
	if tmpl.Entry == nil {
		return sched.NullTaskID, fmt.Errorf("template %q has no entry", tmpl.Name)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return sched.NullTaskID, errors.New("kernel closed")
	}
	if len(k.tasks) >= k.max {
		return sched.NullTaskID, fmt.Errorf("%w: %d", ErrTooManyTasks, k.max)
	}

	for {
		k.next++
		if k.next != sched.NullTaskID {
			if _, taken := k.tasks[k.next]; !taken {
				break
			}
		}
	}
	ctx, cancel := context.WithCancel(k.root)
	t := &tcb{
		id:     k.next,
		name:   tmpl.Name,
		prio:   tmpl.Priority,
		state:  Suspended,
		entry:  tmpl.Entry,
		arg:    tmpl.Arg,
		ctx:    sched.WithTaskID(ctx, k.next),
		cancel: cancel,
	}
	k.tasks[t.id] = t
	return t.id, nil
}

// Release starts a suspended task.
func (k *Kernel) Release(id sched.TaskID) error {
	k.mu.Lock()
	t, ok := k.tasks[id]
	if !ok || k.closed {
		k.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrNoTask, id)
	}
	if t.state != Suspended {
		k.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrNotSuspended, id)
	}
	t.state = Ready
	k.wg.Add(1)
	k.mu.Unlock()

	go k.run(t)
	return nil
}

func (k *Kernel) run(t *tcb) {
	defer k.wg.Done()
	err := t.entry(t.ctx, t.arg)
	if err != nil && !errors.Is(err, context.Canceled) {
		k.log.Warn("task body failed", logx.Uint32("task", uint32(t.id)), logx.String("name", t.name), logx.Err(err))
	}
	k.mu.Lock()
	t.state = Finished
	k.mu.Unlock()
}

// Destroy stops the task and frees its control block. A task may destroy
// itself only through the scheduler; the kernel never waits for the body.
func (k *Kernel) Destroy(id sched.TaskID) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, ok := k.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %v", ErrNoTask, id)
	}
	t.cancel()
	t.wantSeq = 0
	delete(k.tasks, id)
	if k.owner == id {
		k.owner = sched.NullTaskID
	}
	k.cond.Broadcast()
	return nil
}

// SetPriority changes the level the task competes for the CPU at. It takes
// effect at the next quantum boundary.
func (k *Kernel) SetPriority(id sched.TaskID, p sched.Priority) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, ok := k.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %v", ErrNoTask, id)
	}
	t.prio = p
	k.cond.Broadcast()
	return nil
}

// Compute burns ticks quanta of CPU on behalf of the calling task, whose id
// is taken from ctx. The task keeps the CPU between quanta unless a task of
// equal or higher priority is waiting, in which case it yields. Compute
// returns early with ctx's error if the task is destroyed or ctx ends.
func (k *Kernel) Compute(ctx context.Context, ticks uint32) error {
	id := sched.TaskIDFromContext(ctx)
	if id == sched.NullTaskID {
		return ErrNotATask
	}
	if ticks == 0 {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		k.mu.Lock()
		k.cond.Broadcast()
		k.mu.Unlock()
	})
	defer stop()

	k.mu.Lock()
	err := k.waitTurn(ctx, id)
	k.mu.Unlock()
	if err != nil {
		return err
	}
	defer k.releaseCPU(id)

	for i := uint32(0); i < ticks; i++ {
		if i > 0 {
			if err := k.preemptionPoint(ctx, id); err != nil {
				return err
			}
		}
		if err := k.burn(ctx); err != nil {
			return err
		}
		k.account(id)
	}
	return nil
}

// waitTurn blocks until id is the best task waiting for a free CPU, then
// takes the CPU. k.mu must be held.
func (k *Kernel) waitTurn(ctx context.Context, id sched.TaskID) error {
	t, ok := k.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %v", ErrNoTask, id)
	}
	k.seq++
	t.wantSeq = k.seq
	t.state = Ready

	for {
		if err := ctx.Err(); err != nil {
			t.wantSeq = 0
			return err
		}
		if _, alive := k.tasks[id]; !alive {
			return context.Canceled
		}
		if k.owner == sched.NullTaskID && k.best() == t {
			k.owner = id
			t.wantSeq = 0
			t.state = Running
			return nil
		}
		k.cond.Wait()
	}
}

// preemptionPoint hands the CPU over when a task at least as urgent as id is waiting.
func (k *Kernel) preemptionPoint(ctx context.Context, id sched.TaskID) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, ok := k.tasks[id]
	if !ok {
		return context.Canceled
	}
	if b := k.best(); b == nil || b.prio > t.prio {
		return nil
	}
	if k.owner == id {
		k.owner = sched.NullTaskID
	}
	k.cond.Broadcast()
	return k.waitTurn(ctx, id)
}

// best returns the waiting task with the lowest priority value, earliest request first.
func (k *Kernel) best() *tcb {
	var b *tcb
	for _, t := range k.tasks {
		if t.wantSeq == 0 {
			continue
		}
		if b == nil || t.prio < b.prio || (t.prio == b.prio && t.wantSeq < b.wantSeq) {
			b = t
		}
	}
	return b
}

func (k *Kernel) burn(ctx context.Context) error {
	select {
	case <-k.clock.After(k.quantum):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *Kernel) account(id sched.TaskID) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.busy += k.quantum
	if t, ok := k.tasks[id]; ok {
		t.busy += k.quantum
	}
}

func (k *Kernel) releaseCPU(id sched.TaskID) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if t, ok := k.tasks[id]; ok && t.state == Running {
		t.state = Ready
	}
	if k.owner == id {
		k.owner = sched.NullTaskID
	}
	k.cond.Broadcast()
}

// Close cancels every task and waits for their bodies to return.
func (k *Kernel) Close() {
	k.mu.Lock()
	k.closed = true
	k.mu.Unlock()
	k.stop()
	k.mu.Lock()
	k.cond.Broadcast()
	k.mu.Unlock()
	k.wg.Wait()
}
