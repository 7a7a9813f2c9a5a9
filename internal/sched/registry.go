package sched

import (
	"github.com/emirpasic/gods/lists/doublylinkedlist"
	"github.com/emirpasic/gods/trees/redblacktree"
)

// nodeKey is used as a key in the red-black tree.
// seq is the insertion sequence, so equal deadlines keep FIFO order.
type nodeKey struct {
	deadline Tick
	seq      uint64
}

// cmp orders nodeKeys by deadline, then by insertion.
func cmp(a, b any) int {
	ka, kb := a.(nodeKey), b.(nodeKey)
	switch {
	case ka.deadline < kb.deadline:
		return -1
	case ka.deadline > kb.deadline:
		return 1
	case ka.seq < kb.seq:
		return -1
	case ka.seq > kb.seq:
		return 1
	default:
		return 0
	}
}

// deadlineQueue holds the active tasks sorted by ascending absolute deadline.
// The head is always the task with the nearest deadline.
type deadlineQueue struct {
	rbt  *redblacktree.Tree
	keys map[TaskID]nodeKey
	seq  uint64
}

func newDeadlineQueue() *deadlineQueue {
	return &deadlineQueue{
		rbt:  redblacktree.NewWith(cmp),
		keys: make(map[TaskID]nodeKey),
	}
}

// Insert adds t keeping deadline order and returns its zero-based position.
// Position 0 means t became the new head.
func (q *deadlineQueue) Insert(t *ScheduledTask) int {
	q.seq++
	key := nodeKey{deadline: t.Deadline, seq: q.seq}
	q.rbt.Put(key, t)
	q.keys[t.ID] = key

	pos := 0
	it := q.rbt.Iterator()
	for it.Next() {
		if cmp(it.Key(), key) == 0 {
			break
		}
		pos++
	}
	return pos
}

// Remove unlinks the task with the given id. ok is false if it is absent.
func (q *deadlineQueue) Remove(id TaskID) (*ScheduledTask, bool) {
	key, ok := q.keys[id]
	if !ok {
		return nil, false
	}
	v, found := q.rbt.Get(key)
	q.rbt.Remove(key)
	delete(q.keys, id)
	if !found {
		return nil, false
	}
	return v.(*ScheduledTask), true
}

// Head returns the task with the nearest deadline, or nil if the queue is empty.
func (q *deadlineQueue) Head() *ScheduledTask {
	node := q.rbt.Left()
	if node == nil {
		return nil
	}
	return node.Value.(*ScheduledTask)
}

func (q *deadlineQueue) Len() int { return q.rbt.Size() }

// Snapshot returns a deep copy in deadline order.
func (q *deadlineQueue) Snapshot() TaskList {
	out := make(TaskList, 0, q.rbt.Size())
	it := q.rbt.Iterator()
	for it.Next() {
		out = append(out, *it.Value().(*ScheduledTask))
	}
	return out
}

// fifoQueue holds overdue tasks in the order their deadlines were missed.
type fifoQueue struct {
	list *doublylinkedlist.List
}

func newFIFOQueue() *fifoQueue {
	return &fifoQueue{list: doublylinkedlist.New()}
}

// Append adds t at the tail.
func (q *fifoQueue) Append(t *ScheduledTask) {
	q.list.Append(t)
}

// Remove unlinks the task with the given id. ok is false if it is absent.
func (q *fifoQueue) Remove(id TaskID) (*ScheduledTask, bool) {
	idx, v := q.list.Find(func(_ int, value interface{}) bool {
		return value.(*ScheduledTask).ID == id
	})
	if idx < 0 {
		return nil, false
	}
	q.list.Remove(idx)
	return v.(*ScheduledTask), true
}

func (q *fifoQueue) Len() int { return q.list.Size() }

// Snapshot returns a deep copy in insertion order.
func (q *fifoQueue) Snapshot() TaskList {
	out := make(TaskList, 0, q.list.Size())
	it := q.list.Iterator()
	for it.Next() {
		out = append(out, *it.Value().(*ScheduledTask))
	}
	return out
}
