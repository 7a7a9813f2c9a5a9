package sched

import (
	"fmt"

	logx "ddsched/pkg/logx"
)

// State is everything the engine owns: both task lists, the current task and
// the template table. Only the engine goroutine touches it.
type State struct {
	kernel    Kernel
	clock     *TickClock
	templates []Template
	prio      Priorities
	log       logx.Logger

	active  *deadlineQueue
	overdue *fifoQueue
	current TaskID

	emit func(StatusEvent)
}

func newState(k Kernel, clock *TickClock, templates []Template, prio Priorities, log logx.Logger) *State {
	return &State{
		kernel:    k,
		clock:     clock,
		templates: templates,
		prio:      prio,
		log:       log,
		active:    newDeadlineQueue(),
		overdue:   newFIFOQueue(),
	}
}

func (s *State) event(kind StatusKind, t *ScheduledTask, detail string) {
	if s.emit == nil {
		return
	}
	ev := StatusEvent{Time: s.clock.Clock().Now(), Tick: s.clock.Now(), Kind: kind, Detail: detail}
	if t != nil {
		ev.TaskID = t.ID
		ev.Deadline = t.Deadline
		ev.Template = t.Kind
	}
	s.emit(ev)
}

// createTask creates a kernel task from a template and schedules it with a
// deadline ticksToDeadline from now. The kernel task stays suspended until it
// is registered and has its priority, so it cannot run unscheduled.
func (s *State) createTask(templateIndex uint32, ticksToDeadline Tick) (TaskID, error) {
	if int(templateIndex) >= len(s.templates) {
		return NullTaskID, fmt.Errorf("%w: index %d, %d registered", ErrUnknownTemplate, templateIndex, len(s.templates))
	}

	id, err := s.kernel.CreateSuspended(s.templates[templateIndex])
	if err != nil {
		return NullTaskID, fmt.Errorf("%w: %v", ErrTaskCreate, err)
	}

	now := s.clock.Now()
	t := &ScheduledTask{
		ID:        id,
		CreatedAt: now,
		Deadline:  now + ticksToDeadline,
		Kind:      templateIndex,
	}

	pos := s.active.Insert(t)
	s.event(StatusEnqueue, t, s.templates[templateIndex].Name)

	if pos == 0 {
		err = s.promote(t)
	} else {
		err = s.setPriority(t.ID, s.prio.Ready)
	}
	if err == nil {
		err = s.kernel.Release(id)
	}
	if err != nil {
		s.abandon(t)
		return NullTaskID, fmt.Errorf("%w: %v", ErrTaskCreate, err)
	}

	s.log.Debug("task scheduled",
		logx.Uint32("task", uint32(id)),
		logx.Int64("deadline", int64(t.Deadline)),
		logx.Int("position", pos))
	return id, nil
}

// abandon rolls back a half-created task.
func (s *State) abandon(t *ScheduledTask) {
	s.active.Remove(t.ID)
	if s.current == t.ID {
		s.current = NullTaskID
	}
	// a failed promote may have left nobody current
	if s.current == NullTaskID {
		if head := s.active.Head(); head != nil {
			if err := s.promote(head); err != nil {
				s.log.Error("promote after rollback failed", logx.Uint32("task", uint32(head.ID)), logx.Err(err))
			}
		}
	}
	if err := s.kernel.Destroy(t.ID); err != nil {
		s.log.Warn("destroy of abandoned task failed", logx.Uint32("task", uint32(t.ID)), logx.Err(err))
	}
}

// deleteTask removes id from whichever list holds it, hands running priority
// to the new head if id was current, then destroys the kernel task.
func (s *State) deleteTask(id TaskID) bool {
	t, ok := s.active.Remove(id)
	if !ok {
		t, ok = s.overdue.Remove(id)
	}
	if !ok {
		return false
	}

	if s.current == id {
		// the old current task is going away; nothing to demote
		s.current = NullTaskID
		if head := s.active.Head(); head != nil {
			if err := s.promote(head); err != nil {
				s.log.Error("promote after delete failed", logx.Uint32("task", uint32(head.ID)), logx.Err(err))
			}
		}
	}

	if err := s.kernel.Destroy(id); err != nil {
		s.log.Warn("kernel destroy failed", logx.Uint32("task", uint32(id)), logx.Err(err))
	}
	s.event(StatusFinish, t, "")
	return true
}

// markCurrentOverdue moves the current task to the overdue list at overdue
// priority and promotes the next active task. It returns NullTaskID if there
// is no active task.
func (s *State) markCurrentOverdue() TaskID {
	head := s.active.Head()
	if head == nil {
		return NullTaskID
	}
	if head.ID != s.current {
		// current always mirrors the active head; keep going with the head
		s.log.Error("current task is not the active head",
			logx.Uint32("task", uint32(s.current)), logx.Uint32("head", uint32(head.ID)))
	}
	t, _ := s.active.Remove(head.ID)

	s.overdue.Append(t)
	s.current = NullTaskID
	if err := s.setPriority(t.ID, s.prio.Overdue); err != nil {
		s.log.Error("overdue demotion failed", logx.Uint32("task", uint32(t.ID)), logx.Err(err))
	}
	s.event(StatusOverdue, t, "")

	if head := s.active.Head(); head != nil {
		if err := s.promote(head); err != nil {
			s.log.Error("promote after overrun failed", logx.Uint32("task", uint32(head.ID)), logx.Err(err))
		}
	}
	return t.ID
}

// promote makes t the current task. The previous current task is demoted
// before t is raised, so two tasks never hold running priority at once.
func (s *State) promote(t *ScheduledTask) error {
	if s.current == t.ID {
		return nil
	}
	if s.current != NullTaskID {
		prev := s.current
		if err := s.setPriority(prev, s.prio.Ready); err != nil {
			return err
		}
		if old, ok := s.active.keys[prev]; ok {
			if v, found := s.active.rbt.Get(old); found {
				s.event(StatusPreempt, v.(*ScheduledTask), "")
			}
		}
		s.current = NullTaskID
	}
	if err := s.setPriority(t.ID, s.prio.Running); err != nil {
		return err
	}
	s.current = t.ID
	s.event(StatusDispatch, t, "")
	return nil
}

func (s *State) setPriority(id TaskID, p Priority) error {
	if err := s.kernel.SetPriority(id, p); err != nil {
		return fmt.Errorf("%w: task %v to %d: %v", ErrPriority, id, p, err)
	}
	return nil
}

// nextDeadline returns the deadline of the active head, which is the current task.
func (s *State) nextDeadline() (Tick, bool) {
	head := s.active.Head()
	if head == nil {
		return 0, false
	}
	return head.Deadline, true
}

func (s *State) snapshotActive() TaskList  { return s.active.Snapshot() }
func (s *State) snapshotOverdue() TaskList { return s.overdue.Snapshot() }

// checkInvariants reports the first broken bookkeeping rule, or nil.
func (s *State) checkInvariants() error {
	seen := make(map[TaskID]string)
	for _, t := range s.active.Snapshot() {
		seen[t.ID] = "active"
	}
	for _, t := range s.overdue.Snapshot() {
		if where, dup := seen[t.ID]; dup {
			return fmt.Errorf("task %v in both %s and overdue", t.ID, where)
		}
		seen[t.ID] = "overdue"
	}

	head := s.active.Head()
	switch {
	case head == nil && s.current != NullTaskID:
		return fmt.Errorf("current task %v set with empty active list", s.current)
	case head != nil && s.current != head.ID:
		return fmt.Errorf("current task %v is not active head %v", s.current, head.ID)
	}

	prev := Tick(0)
	for i, t := range s.active.Snapshot() {
		if i > 0 && t.Deadline < prev {
			return fmt.Errorf("active list out of order at %d", i)
		}
		prev = t.Deadline
	}
	return nil
}
