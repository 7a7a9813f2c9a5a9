// internal/sched/schedulerEvent.go

package sched

import (
	"time"
)

// StatusKind represents the type of scheduler event
type StatusKind int

const (
	StatusIdle     StatusKind = iota // no active tasks, waiting for requests only
	StatusArmed                      // waiting for requests until the earliest deadline
	StatusEnqueue                    // task created and inserted into the active list
	StatusDispatch                   // task promoted to running priority
	StatusPreempt                    // current task demoted to ready priority
	StatusOverdue                    // current task missed its deadline
	StatusFinish                     // task deleted
	StatusReject                     // request failed or could not be understood
)

// StatusEvent is emitted on every engine state change.
type StatusEvent struct {
	Time     time.Time
	Tick     Tick
	Kind     StatusKind
	TaskID   TaskID
	Deadline Tick
	Template uint32
	Detail   string
}

func (sk StatusKind) String() string {
	switch sk {
	case StatusIdle:
		return "Idle"
	case StatusArmed:
		return "Armed"
	case StatusEnqueue:
		return "Enqueued"
	case StatusDispatch:
		return "Dispatch"
	case StatusPreempt:
		return "Preempt"
	case StatusOverdue:
		return "Overdue"
	case StatusFinish:
		return "Finish"
	case StatusReject:
		return "Reject"
	default:
		return "Unknown"
	}
}
