package kernel

import (
	"sort"
	"time"

	"ddsched/internal/sched"
)

// Usage is the CPU accounting since the kernel started.
type Usage struct {
	Busy    time.Duration
	Elapsed time.Duration
}

// Utilisation returns the busy share of elapsed time in percent.
func (u Usage) Utilisation() float64 {
	if u.Elapsed <= 0 {
		return 0
	}
	pct := float64(u.Busy) / float64(u.Elapsed) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (k *Kernel) Usage() Usage {
	k.mu.Lock()
	defer k.mu.Unlock()
	return Usage{Busy: k.busy, Elapsed: k.clock.Since(k.start)}
}

// TaskInfo describes one task control block.
type TaskInfo struct {
	ID       sched.TaskID
	Name     string
	Priority sched.Priority
	State    TaskState
	Busy     time.Duration
}

// Tasks lists the live task control blocks by id.
func (k *Kernel) Tasks() []TaskInfo {
	k.mu.Lock()
	out := make([]TaskInfo, 0, len(k.tasks))
	for _, t := range k.tasks {
		out = append(out, TaskInfo{ID: t.id, Name: t.name, Priority: t.prio, State: t.state, Busy: t.busy})
	}
	k.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
