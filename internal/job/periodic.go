package job

import (
	"context"
	"errors"
	"sort"
	"sync"

	"ddsched/internal/sched"
	logx "ddsched/pkg/logx"
)

var ErrZeroPeriod = errors.New("period must be at least one tick")

// Scheduler creates deadline-driven tasks.
type Scheduler interface {
	Schedule(ctx context.Context, templateIndex uint32, deadlineTicks uint32) (sched.TaskID, error)
}

// GeneratorInfo describes a running periodic generator.
type GeneratorInfo struct {
	ID       int
	Template uint32
	Deadline uint32 // relative, ticks
	Period   uint32 // ticks
	Created  uint64
	Failed   uint64
	Last     sched.TaskID
}

type generator struct {
	info   GeneratorInfo
	cancel context.CancelFunc
}

// Periodic re-creates a task from the same template every period ticks.
type Periodic struct {
	sched Scheduler
	clock *sched.TickClock
	log   logx.Logger

	mu   sync.Mutex
	next int
	gens map[int]*generator
	wg   sync.WaitGroup
}

func NewPeriodic(s Scheduler, tc *sched.TickClock, log logx.Logger) *Periodic {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Periodic{
		sched: s,
		clock: tc,
		log:   log.With(logx.String("component", "periodic")),
		gens:  make(map[int]*generator),
	}
}

// Start creates the first task right away and then one every period ticks
// until Stop or ctx ends. A failed first creation is returned and no
// generator is started.
func (p *Periodic) Start(ctx context.Context, template, deadline, period uint32) (int, sched.TaskID, error) {
	if period == 0 {
		return 0, sched.NullTaskID, ErrZeroPeriod
	}
	first, err := p.sched.Schedule(ctx, template, deadline)
	if err != nil {
		return 0, sched.NullTaskID, err
	}

	gctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.next++
	g := &generator{
		info:   GeneratorInfo{ID: p.next, Template: template, Deadline: deadline, Period: period, Created: 1, Last: first},
		cancel: cancel,
	}
	p.gens[g.info.ID] = g
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(gctx, g)
	return g.info.ID, first, nil
}

func (p *Periodic) run(ctx context.Context, g *generator) {
	defer p.wg.Done()
	ticker := p.clock.Clock().NewTicker(p.clock.Duration(sched.Tick(g.info.Period)))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			id, err := p.sched.Schedule(ctx, g.info.Template, g.info.Deadline)
			p.mu.Lock()
			if err != nil {
				g.info.Failed++
			} else {
				g.info.Created++
				g.info.Last = id
			}
			p.mu.Unlock()
			if err != nil && ctx.Err() == nil {
				p.log.Warn("periodic create failed", logx.Int("generator", g.info.ID), logx.Err(err))
			}
		}
	}
}

// Stop ends generator id. Tasks it already created are not touched.
func (p *Periodic) Stop(id int) bool {
	p.mu.Lock()
	g, ok := p.gens[id]
	delete(p.gens, id)
	p.mu.Unlock()
	if ok {
		g.cancel()
	}
	return ok
}

// List returns the running generators by id.
func (p *Periodic) List() []GeneratorInfo {
	p.mu.Lock()
	out := make([]GeneratorInfo, 0, len(p.gens))
	for _, g := range p.gens {
		out = append(out, g.info)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close stops every generator and waits for them.
func (p *Periodic) Close() {
	p.mu.Lock()
	for id, g := range p.gens {
		g.cancel()
		delete(p.gens, id)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
