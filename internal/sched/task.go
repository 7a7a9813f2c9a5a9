package sched

import (
	"context"
	"fmt"
)

// TaskID identifies a kernel task. NullTaskID is never assigned.
type TaskID uint32

const NullTaskID TaskID = 0

func (id TaskID) String() string { return fmt.Sprintf("%#x", uint32(id)) }

// TaskFunc is the body of a kernel task. ctx is cancelled when the task is destroyed.
type TaskFunc func(ctx context.Context, arg uint32) error

// Template describes how a kernel task is created. Templates are owned by the
// application and read-only to the scheduler.
type Template struct {
	Name      string
	Entry     TaskFunc
	StackSize uint32
	Priority  Priority // base priority the kernel creates the task with
	Deadline  Tick     // initial deadline offset used when a caller does not supply one
	Arg       uint32   // creation parameter passed to Entry
}

// ScheduledTask is the scheduler's record of one deadline-driven task.
type ScheduledTask struct {
	ID        TaskID
	CreatedAt Tick
	Deadline  Tick   // absolute
	Kind      uint32 // template index
}

// TaskList is an ordered snapshot of scheduled tasks. A TaskList returned by
// the scheduler is a private copy owned by the caller.
type TaskList []ScheduledTask

// IDs returns the task ids in list order.
func (l TaskList) IDs() []TaskID {
	ids := make([]TaskID, len(l))
	for i, t := range l {
		ids[i] = t.ID
	}
	return ids
}

// Contains reports whether id is present in the list.
func (l TaskList) Contains(id TaskID) bool {
	for _, t := range l {
		if t.ID == id {
			return true
		}
	}
	return false
}
