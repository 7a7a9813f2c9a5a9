package sched

import (
	"errors"
	"sync"
)

var errKernelFull = errors.New("kernel full")

// fakeKernel records every call and flags two tasks holding running priority.
type fakeKernel struct {
	mu         sync.Mutex
	next       TaskID
	running    Priority
	prio       map[TaskID]Priority
	released   map[TaskID]bool
	destroyed  []TaskID
	calls      []string
	violations int
	failCreate bool
}

func newFakeKernel(running Priority) *fakeKernel {
	return &fakeKernel{
		next:     0x100,
		running:  running,
		prio:     map[TaskID]Priority{},
		released: map[TaskID]bool{},
	}
}

func (k *fakeKernel) CreateSuspended(tmpl Template) (TaskID, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.failCreate {
		return NullTaskID, errKernelFull
	}
	k.next++
	k.prio[k.next] = tmpl.Priority
	k.calls = append(k.calls, "create")
	return k.next, nil
}

func (k *fakeKernel) Release(id TaskID) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.released[id] = true
	k.calls = append(k.calls, "release")
	return nil
}

func (k *fakeKernel) Destroy(id TaskID) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.prio, id)
	k.destroyed = append(k.destroyed, id)
	k.calls = append(k.calls, "destroy")
	return nil
}

func (k *fakeKernel) SetPriority(id TaskID, p Priority) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.prio[id]; !ok {
		return errors.New("no such task")
	}
	k.prio[id] = p
	k.calls = append(k.calls, "prio")
	n := 0
	for _, v := range k.prio {
		if v == k.running {
			n++
		}
	}
	if n > 1 {
		k.violations++
	}
	return nil
}

func (k *fakeKernel) priority(id TaskID) Priority {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.prio[id]
}

func (k *fakeKernel) wasDestroyed(id TaskID) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, d := range k.destroyed {
		if d == id {
			return true
		}
	}
	return false
}

func (k *fakeKernel) setFailCreate(v bool) {
	k.mu.Lock()
	k.failCreate = v
	k.mu.Unlock()
}

func (k *fakeKernel) runningViolations() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.violations
}
