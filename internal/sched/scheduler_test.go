package sched

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"ddsched/internal/eventbus"
	logx "ddsched/pkg/logx"
)

type harness struct {
	s     *Scheduler
	c     *Client
	k     *fakeKernel
	errCh chan error

	now        func() time.Time
	advance    func(time.Duration)
	blockUntil func(int)
}

func testTemplates() []Template {
	return []Template{
		{Name: "Periodic Task", Priority: 50},
		{Name: "Run Once Task", Priority: 50},
	}
}

func startEngine(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	cfg = cfg.Sanitize()
	fc := clockwork.NewFakeClock()
	k := newFakeKernel(cfg.Priorities.Running)
	opts = append([]Option{WithClock(NewTickClock(fc, time.Millisecond))}, opts...)
	s := New(cfg, k, testTemplates(), opts...)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		s:          s,
		c:          s.Client(),
		k:          k,
		errCh:      make(chan error, 1),
		now:        fc.Now,
		advance:    fc.Advance,
		blockUntil: fc.BlockUntil,
	}
	go func() { h.errCh <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.errCh:
		case <-time.After(2 * time.Second):
			t.Error("engine did not stop")
		}
	})
	return h
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) schedule(t *testing.T, tmpl, ticks uint32) TaskID {
	t.Helper()
	id, err := h.c.Schedule(ctxT(t), tmpl, ticks)
	if err != nil {
		t.Fatalf("Schedule(%d, %d): %v", tmpl, ticks, err)
	}
	if id == NullTaskID {
		t.Fatal("Schedule returned the null id without an error")
	}
	return id
}

func (h *harness) active(t *testing.T) []TaskID {
	t.Helper()
	l, err := h.c.ListActive(ctxT(t))
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	return l.IDs()
}

func (h *harness) overdue(t *testing.T) []TaskID {
	t.Helper()
	l, err := h.c.ListOverdue(ctxT(t))
	if err != nil {
		t.Fatalf("ListOverdue: %v", err)
	}
	return l.IDs()
}

func TestEarliestDeadlineRunsFirst(t *testing.T) {
	h := startEngine(t, DefaultConfig())
	prio := DefaultConfig().Priorities

	a := h.schedule(t, 0, 100)
	b := h.schedule(t, 1, 50)

	if got, want := h.active(t), []TaskID{b, a}; !reflect.DeepEqual(got, want) {
		t.Fatalf("active = %v, want %v", got, want)
	}
	if cur := h.s.Stats().Current; cur != b {
		t.Fatalf("current = %v, want B %v", cur, b)
	}
	if p := h.k.priority(b); p != prio.Running {
		t.Fatalf("B priority = %d, want running %d", p, prio.Running)
	}
	if p := h.k.priority(a); p != prio.Ready {
		t.Fatalf("A priority = %d, want ready %d", p, prio.Ready)
	}
	if v := h.k.runningViolations(); v != 0 {
		t.Fatalf("%d moments with two running tasks", v)
	}

	ok, err := h.c.Cancel(ctxT(t), b)
	if err != nil || !ok {
		t.Fatalf("Cancel(B) = %v, %v", ok, err)
	}
	if got, want := h.active(t), []TaskID{a}; !reflect.DeepEqual(got, want) {
		t.Fatalf("active after cancel = %v, want %v", got, want)
	}
	if cur := h.s.Stats().Current; cur != a {
		t.Fatalf("current after cancel = %v, want A %v", cur, a)
	}
	if p := h.k.priority(a); p != prio.Running {
		t.Fatalf("A not promoted after B was deleted: priority %d", p)
	}
	if !h.k.wasDestroyed(b) {
		t.Fatal("kernel task of B was not destroyed")
	}
}

func TestEqualDeadlinesKeepArrivalOrder(t *testing.T) {
	h := startEngine(t, DefaultConfig())
	first := h.schedule(t, 0, 40)
	second := h.schedule(t, 0, 40)
	if got, want := h.active(t), []TaskID{first, second}; !reflect.DeepEqual(got, want) {
		t.Fatalf("active = %v, want %v", got, want)
	}
	if h.k.priority(second) == DefaultConfig().Priorities.Running {
		t.Fatal("a tie preempted the current task")
	}
}

func TestCancelUnknownAndTwice(t *testing.T) {
	h := startEngine(t, DefaultConfig())
	id := h.schedule(t, 0, 100)

	if ok, err := h.c.Cancel(ctxT(t), 999); ok || err != nil {
		t.Fatalf("Cancel(999) = %v, %v; want false, nil", ok, err)
	}
	if ok, _ := h.c.Cancel(ctxT(t), id); !ok {
		t.Fatal("first cancel failed")
	}
	if ok, _ := h.c.Cancel(ctxT(t), id); ok {
		t.Fatal("second cancel of the same task succeeded")
	}
	if got := h.active(t); len(got) != 0 {
		t.Fatalf("active = %v, want empty", got)
	}
}

func TestUnknownTemplate(t *testing.T) {
	h := startEngine(t, DefaultConfig())
	id, err := h.c.Schedule(ctxT(t), 7, 10)
	if id != NullTaskID || !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("Schedule(7) = %v, %v", id, err)
	}
	if got := h.s.Stats().Rejected; got != 1 {
		t.Fatalf("rejected = %d, want 1", got)
	}
	h.schedule(t, 0, 10) // engine still serving
}

func TestZeroDeadlineGoesOverdueImmediately(t *testing.T) {
	h := startEngine(t, DefaultConfig())
	id := h.schedule(t, 0, 0)

	eventually(t, "overdue task", func() bool { return len(h.overdue(t)) == 1 })
	if got := h.overdue(t); got[0] != id {
		t.Fatalf("overdue = %v, want [%v]", got, id)
	}
	if got := h.active(t); len(got) != 0 {
		t.Fatalf("active = %v, want empty", got)
	}
	if p := h.k.priority(id); p != DefaultConfig().Priorities.Overdue {
		t.Fatalf("overdue task priority = %d", p)
	}
}

func TestMissedDeadlineMovesToOverdue(t *testing.T) {
	h := startEngine(t, DefaultConfig())
	a := h.schedule(t, 0, 10)
	b := h.schedule(t, 0, 30)

	h.blockUntil(1)
	h.advance(11 * time.Millisecond)

	eventually(t, "A overdue", func() bool { return reflect.DeepEqual(h.overdue(t), []TaskID{a}) })
	if got := h.active(t); !reflect.DeepEqual(got, []TaskID{b}) {
		t.Fatalf("active = %v, want [%v]", got, b)
	}
	if cur := h.s.Stats().Current; cur != b {
		t.Fatalf("current after overrun = %v, want B %v", cur, b)
	}
	if p := h.k.priority(b); p != DefaultConfig().Priorities.Running {
		t.Fatalf("B not promoted after A overran: %d", p)
	}

	// the overdue task can still be deleted
	if ok, _ := h.c.Cancel(ctxT(t), a); !ok {
		t.Fatal("cancel of overdue task failed")
	}
	if got := h.overdue(t); len(got) != 0 {
		t.Fatalf("overdue = %v, want empty", got)
	}
	if st := h.s.Stats(); st.Overruns != 1 || st.Created != 2 || st.Deleted != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestSelfCancel(t *testing.T) {
	h := startEngine(t, DefaultConfig())
	id := h.schedule(t, 1, 100)

	self := WithTaskID(ctxT(t), id)
	ok, err := h.c.Cancel(self, id)
	if !ok || err != nil {
		t.Fatalf("self Cancel = %v, %v", ok, err)
	}
	eventually(t, "self-deleted task destroyed", func() bool { return h.k.wasDestroyed(id) })
	if got := h.active(t); len(got) != 0 {
		t.Fatalf("active = %v, want empty", got)
	}
}

func TestKernelCreateFailure(t *testing.T) {
	t.Run("recover", func(t *testing.T) {
		h := startEngine(t, DefaultConfig())
		h.k.setFailCreate(true)
		if _, err := h.c.Schedule(ctxT(t), 0, 10); !errors.Is(err, ErrTaskCreate) {
			t.Fatalf("err = %v, want ErrTaskCreate", err)
		}
		h.k.setFailCreate(false)
		h.schedule(t, 0, 10)
	})

	t.Run("halt", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.FaultPolicy = FaultHalt
		h := startEngine(t, cfg)
		h.k.setFailCreate(true)
		if _, err := h.c.Schedule(ctxT(t), 0, 10); !errors.Is(err, ErrTaskCreate) {
			t.Fatalf("err = %v, want ErrTaskCreate", err)
		}
		select {
		case err := <-h.errCh:
			if !errors.Is(err, ErrTaskCreate) {
				t.Fatalf("Run returned %v", err)
			}
			h.errCh <- err // for cleanup
		case <-time.After(2 * time.Second):
			t.Fatal("engine kept running under halt policy")
		}
		if _, err := h.c.ListActive(ctxT(t)); !errors.Is(err, ErrEngineStopped) {
			t.Fatalf("call after halt = %v, want ErrEngineStopped", err)
		}
	})
}

type bogusRequest struct{ reply ReplyID }

func (r bogusRequest) replyTo() (ReplyID, bool) { return r.reply, true }

func TestUnexpectedRequestIsRejected(t *testing.T) {
	h := startEngine(t, DefaultConfig())
	resp, err := h.c.call(ctxT(t), func(reply ReplyID) request { return bogusRequest{reply: reply} })
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(resp.err, ErrUnexpectedRequest) {
		t.Fatalf("response err = %v", resp.err)
	}
	h.schedule(t, 0, 10)
}

func TestStatusEventsReachBus(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(EventPrefix, 64)
	defer unsub()

	h := startEngine(t, DefaultConfig(), WithBus(bus))
	id := h.schedule(t, 0, 0)

	want := map[string]bool{"sched.enqueued": false, "sched.dispatch": false, "sched.overdue": false}
	timeout := time.After(2 * time.Second)
	for remaining := len(want); remaining > 0; {
		select {
		case ev := <-events:
			seen, tracked := want[ev.Type]
			if !tracked || seen {
				continue
			}
			se, ok := ev.Data.(StatusEvent)
			if !ok || se.TaskID != id {
				t.Fatalf("%s carries %#v", ev.Type, ev.Data)
			}
			// the fake clock never moves here, so every stamp is its start time
			if !se.Time.Equal(h.now()) || !ev.Time.Equal(se.Time) {
				t.Fatalf("%s stamped %v, want clock time %v", ev.Type, se.Time, h.now())
			}
			want[ev.Type] = true
			remaining--
		case <-timeout:
			t.Fatalf("missing events: %v", want)
		}
	}
}

func TestInvariantsHoldUnderChurn(t *testing.T) {
	cfg := DefaultConfig().Sanitize()
	fc := clockwork.NewFakeClock()
	k := newFakeKernel(cfg.Priorities.Running)
	st := newState(k, NewTickClock(fc, time.Millisecond), testTemplates(), cfg.Priorities, logx.Nop())

	deadlines := []Tick{40, 10, 90, 10, 5, 60}
	var ids []TaskID
	for _, d := range deadlines {
		id, err := st.createTask(0, d)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
		if err := st.checkInvariants(); err != nil {
			t.Fatalf("after create: %v", err)
		}
	}
	st.markCurrentOverdue()
	st.markCurrentOverdue()
	if err := st.checkInvariants(); err != nil {
		t.Fatalf("after overruns: %v", err)
	}
	for _, id := range []TaskID{ids[2], ids[4], ids[0]} {
		st.deleteTask(id)
		if err := st.checkInvariants(); err != nil {
			t.Fatalf("after delete %v: %v", id, err)
		}
	}
	if k.violations != 0 {
		t.Fatalf("%d moments with two running tasks", k.violations)
	}
}
