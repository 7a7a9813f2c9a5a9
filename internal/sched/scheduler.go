// internal/sched/scheduler.go

package sched

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ddsched/internal/eventbus"
	logx "ddsched/pkg/logx"
)

// EventPrefix prefixes the bus event type of every StatusEvent ("sched.overdue", ...).
const EventPrefix = "sched."

// Scheduler is the engine task: a single goroutine that owns the deadline
// registry and the current-task designation, serializes every request through
// one loop, and marks the current task overdue when its deadline passes
// before the next request arrives.
type Scheduler struct {
	cfg      Config
	clock    *TickClock
	state    *State
	requests chan request
	post     *postOffice
	done     chan struct{}
	statusCh chan StatusEvent // drained by Run into the log and the bus

	log       logx.Logger
	bus       eventbus.Bus
	overrunLg *rate.Limiter // throttles overrun warnings

	statsMu sync.Mutex
	stats   Stats
	err     error
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Mode     StatusKind // StatusIdle or StatusArmed
	Current  TaskID
	Deadline Tick // deadline of Current
	Active   int
	Overdue  int
	Created  uint64
	Deleted  uint64
	Overruns uint64
	Rejected uint64
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock sets the tick time source. Defaults to a real clock at cfg.TickMS.
func WithClock(c *TickClock) Option { return func(s *Scheduler) { s.clock = c } }

// WithLogger sets the logger.
func WithLogger(l logx.Logger) Option { return func(s *Scheduler) { s.log = l } }

// WithBus publishes every status event on b.
func WithBus(b eventbus.Bus) Option { return func(s *Scheduler) { s.bus = b } }

// New creates a new Scheduler for the given kernel and template table.
func New(cfg Config, k Kernel, templates []Template, opts ...Option) *Scheduler {
	cfg = cfg.Sanitize()
	s := &Scheduler{
		cfg:       cfg,
		requests:  make(chan request, cfg.RequestQueue),
		post:      newPostOffice(cfg.ReplyMin, cfg.ReplyMax),
		done:      make(chan struct{}),
		statusCh:  make(chan StatusEvent, 256), // buffered channel for status events
		log:       logx.Nop(),
		overrunLg: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = NewTickClock(nil, time.Duration(cfg.TickMS)*time.Millisecond)
	}
	s.log = s.log.With(logx.String("component", "sched"))

	tmpls := append([]Template(nil), templates...)
	s.state = newState(k, s.clock, tmpls, cfg.Priorities, s.log)
	s.state.emit = s.emit
	return s
}

// Client returns the public API bound to this engine.
func (s *Scheduler) Client() *Client {
	return &Client{requests: s.requests, post: s.post, done: s.done}
}

// Stats returns the latest engine counters.
func (s *Scheduler) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// Run runs the engine until ctx is cancelled, or until a fault under the
// halt policy, in which case the fault is returned.
func (s *Scheduler) Run(ctx context.Context) error {
	go func() {
		defer func() {
			close(s.done)
			close(s.statusCh)
		}()
		err := s.loop(ctx)
		s.statsMu.Lock()
		s.err = err
		s.statsMu.Unlock()
	}()

	// consume events
	for ev := range s.statusCh {
		s.handleEvent(ev)
	}

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.err
}

// loop alternates between waiting for the next request, bounded by the
// earliest deadline when there is one, and handling deadline overruns.
func (s *Scheduler) loop(ctx context.Context) error {
	s.log.Info("engine started",
		logx.Int("request_queue", cap(s.requests)),
		logx.Duration("tick", s.clock.Interval()))

	for {
		// 1) check shutdown
		if ctx.Err() != nil {
			s.log.Info("engine stopped")
			return nil
		}

		deadline, armed := s.state.nextDeadline()

		// 2) idle: nothing can miss a deadline, block on requests only
		if !armed {
			s.setMode(StatusIdle, 0)
			select {
			case <-ctx.Done():
				continue
			case req := <-s.requests:
				if err := s.handle(req); err != nil {
					return err
				}
			}
			continue
		}

		// 3) armed: wait for a request until the current task's deadline
		s.setMode(StatusArmed, deadline)
		wait := s.clock.Until(deadline)
		if wait <= 0 {
			s.deadlineReached()
			continue
		}

		timer := s.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
		case req := <-s.requests:
			timer.Stop()
			if err := s.handle(req); err != nil {
				return err
			}
		case <-timer.Chan():
			s.deadlineReached()
		}
	}
}

func (s *Scheduler) deadlineReached() {
	id := s.state.markCurrentOverdue()
	if id == NullTaskID {
		return
	}
	s.updateStats(func(st *Stats) { st.Overruns++ })
}

// handle services one request. A non-nil error stops the engine.
func (s *Scheduler) handle(req request) error {
	switch r := req.(type) {
	case createRequest:
		id, err := s.state.createTask(r.template, r.ticks)
		if err != nil {
			s.reject(req, err)
			s.reply(r.reply, response{err: err})
			if errors.Is(err, ErrTaskCreate) {
				return s.fault(err)
			}
			return nil
		}
		s.updateStats(func(st *Stats) { st.Created++ })
		s.reply(r.reply, response{id: id})

	case deleteRequest:
		found := s.state.deleteTask(r.id)
		if found {
			s.updateStats(func(st *Stats) { st.Deleted++ })
		}
		s.reply(r.reply, response{found: found})

	case selfTerminateRequest:
		if s.state.deleteTask(r.id) {
			s.updateStats(func(st *Stats) { st.Deleted++ })
		} else {
			s.log.Debug("self-terminate for unknown task", logx.Uint32("task", uint32(r.id)))
		}

	case listActiveRequest:
		s.reply(r.reply, response{tasks: s.state.snapshotActive()})

	case listOverdueRequest:
		s.reply(r.reply, response{tasks: s.state.snapshotOverdue()})

	default:
		err := fmt.Errorf("%w: %T", ErrUnexpectedRequest, req)
		if reply, ok := req.replyTo(); ok {
			s.reply(reply, response{err: err})
		}
		s.reject(req, err)
		return s.fault(err)
	}
	return nil
}

func (s *Scheduler) reply(id ReplyID, resp response) {
	if !s.post.Deliver(id, resp) {
		s.log.Debug("reply dropped; caller gone", logx.Uint32("reply", uint32(id)))
	}
}

func (s *Scheduler) reject(req request, err error) {
	s.updateStats(func(st *Stats) { st.Rejected++ })
	s.emit(StatusEvent{
		Time:   s.clock.Clock().Now(),
		Tick:   s.clock.Now(),
		Kind:   StatusReject,
		Detail: fmt.Sprintf("%T: %v", req, err),
	})
}

// fault applies the fault policy to an internal failure.
func (s *Scheduler) fault(err error) error {
	if s.cfg.FaultPolicy == FaultHalt {
		s.log.Error("engine halted", logx.Err(err))
		return err
	}
	s.log.Warn("request failed; engine continues", logx.Err(err))
	return nil
}

func (s *Scheduler) setMode(mode StatusKind, deadline Tick) {
	s.statsMu.Lock()
	changed := s.stats.Mode != mode || s.stats.Deadline != deadline
	s.stats.Mode = mode
	s.stats.Deadline = deadline
	s.stats.Current = s.state.current
	s.stats.Active = s.state.active.Len()
	s.stats.Overdue = s.state.overdue.Len()
	s.statsMu.Unlock()

	if changed {
		s.emit(StatusEvent{
			Time:     s.clock.Clock().Now(),
			Tick:     s.clock.Now(),
			Kind:     mode,
			TaskID:   s.state.current,
			Deadline: deadline,
		})
	}
}

func (s *Scheduler) updateStats(fn func(*Stats)) {
	s.statsMu.Lock()
	fn(&s.stats)
	s.statsMu.Unlock()
}

// emit queues ev for Run. It never blocks the engine: when nobody drains the
// status channel fast enough the event is dropped.
func (s *Scheduler) emit(ev StatusEvent) {
	select {
	case s.statusCh <- ev:
	default:
		s.log.Debug("status event dropped", logx.String("kind", ev.Kind.String()))
	}
}

func (s *Scheduler) handleEvent(ev StatusEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: EventPrefix + strings.ToLower(ev.Kind.String()),
			Time: ev.Time,
			Data: ev,
		})
	}

	fields := []logx.Field{
		logx.Int64("tick", int64(ev.Tick)),
		logx.String("event", ev.Kind.String()),
	}
	if ev.TaskID != NullTaskID {
		fields = append(fields, logx.Uint32("task", uint32(ev.TaskID)), logx.Int64("deadline", int64(ev.Deadline)))
	}
	if ev.Detail != "" {
		fields = append(fields, logx.String("detail", ev.Detail))
	}

	switch ev.Kind {
	case StatusOverdue:
		if s.overrunLg.Allow() {
			s.log.Warn("deadline missed", fields...)
		}
	case StatusReject:
		s.log.Info("request rejected", fields...)
	default:
		s.log.Debug("status", fields...)
	}
}
