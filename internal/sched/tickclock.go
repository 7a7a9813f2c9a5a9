// internal/sched/tickclock.go

package sched

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Tick is a monotonic timestamp counted in scheduler ticks since the clock's epoch.
type Tick int64

// TickClock converts wall time from a clockwork.Clock into ticks.
// All deadlines handled by the scheduler are expressed in ticks of one clock.
type TickClock struct {
	clock    clockwork.Clock
	epoch    time.Time
	interval time.Duration
}

// NewTickClock creates a clock whose tick zero is "now".
func NewTickClock(clock clockwork.Clock, interval time.Duration) *TickClock {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &TickClock{
		clock:    clock,
		epoch:    clock.Now(),
		interval: interval,
	}
}

// Now returns the current tick count.
func (c *TickClock) Now() Tick {
	return Tick(c.clock.Now().Sub(c.epoch) / c.interval)
}

// Interval returns the wall duration of one tick.
func (c *TickClock) Interval() time.Duration { return c.interval }

// Duration converts a tick count into wall time.
func (c *TickClock) Duration(t Tick) time.Duration {
	return time.Duration(t) * c.interval
}

// Until returns the wall time remaining until the start of tick t.
// It is zero or negative when t has already been reached.
func (c *TickClock) Until(t Tick) time.Duration {
	return c.epoch.Add(c.Duration(t)).Sub(c.clock.Now())
}

// NewTimer arms a timer that fires after d of wall time.
func (c *TickClock) NewTimer(d time.Duration) clockwork.Timer {
	return c.clock.NewTimer(d)
}

// Clock exposes the underlying wall clock.
func (c *TickClock) Clock() clockwork.Clock { return c.clock }
